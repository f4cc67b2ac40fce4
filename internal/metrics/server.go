package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/rtlink/internal/connection"
)

// StateFunc reports the current connection state for /health.
type StateFunc func() connection.State

type healthResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Session   string `json:"session,omitempty"`
}

// Handler serves metrics from gatherer at path and a JSON health report at
// /health. Health answers 200 while connected and 503 otherwise.
func Handler(gatherer prometheus.Gatherer, path string, state StateFunc, session func() string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s := state()
		resp := healthResponse{
			State:     s.String(),
			Connected: s == connection.StateConnected,
		}
		if session != nil {
			resp.Session = session()
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}
