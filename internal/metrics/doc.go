// Package metrics exposes Prometheus metrics for the realtime client.
//
// Key metrics:
//   - Connection state and state transitions
//   - Reconnect attempts, backoff delays and exhaustion
//   - Inbound frame counts and sizes
//   - Decode failures
//   - Archive batch sizes and write errors
//
// Collector implements connection.Observer, so it can be passed to the client
// with connection.WithObserver.
package metrics
