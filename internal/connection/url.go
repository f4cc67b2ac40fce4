package connection

import (
	"net/url"
	"strings"
)

// BuildURL derives the WebSocket endpoint from the backend's HTTP base address:
//
//	https://host/api -> wss://host/ws?token=...
//	http://host      -> ws://host/ws?token=...
//	host:8080        -> ws://host:8080/ws?token=...
//
// Scheme matching is case-sensitive. ws:// and wss:// bases are kept as-is.
func BuildURL(baseURL, token string) (string, error) {
	if token == "" {
		return "", &Error{Kind: KindConfiguration, Op: "build url", Err: errEmptyToken}
	}
	if baseURL == "" {
		return "", &Error{Kind: KindConfiguration, Op: "build url", Err: errNoBaseURL}
	}

	var u string
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		u = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		u = "ws://" + strings.TrimPrefix(baseURL, "http://")
	case strings.HasPrefix(baseURL, "wss://"), strings.HasPrefix(baseURL, "ws://"):
		u = baseURL
	default:
		u = "ws://" + baseURL
	}

	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/api")

	return u + "/ws?token=" + url.QueryEscape(token), nil
}
