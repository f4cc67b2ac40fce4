package connection

import (
	"fmt"
	"math"
	"time"
)

// State is the connection lifecycle state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates an explicit Connect is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates the connection was lost and automatic
	// reconnection is running or has been exhausted.
	StateReconnecting

	// StateClosed indicates the machine was shut down with Close.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Defaults for the reconnect policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// ReconnectPolicy bounds automatic reconnection. The zero value is not valid;
// use NewReconnectPolicy or DefaultReconnectPolicy.
type ReconnectPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewReconnectPolicy validates and returns a policy.
func NewReconnectPolicy(maxAttempts int, baseDelay time.Duration) (ReconnectPolicy, error) {
	if maxAttempts < 0 {
		return ReconnectPolicy{}, &Error{Kind: KindConfiguration, Op: "reconnect policy",
			Err: fmt.Errorf("max attempts must be >= 0, got %d", maxAttempts)}
	}
	if baseDelay <= 0 {
		return ReconnectPolicy{}, &Error{Kind: KindConfiguration, Op: "reconnect policy",
			Err: fmt.Errorf("base delay must be > 0, got %s", baseDelay)}
	}
	return ReconnectPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay}, nil
}

// DefaultReconnectPolicy returns 3 attempts starting at 1s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{maxAttempts: DefaultMaxAttempts, baseDelay: DefaultBaseDelay}
}

// MaxAttempts returns the attempt ceiling.
func (p ReconnectPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// BaseDelay returns the wait before the first attempt.
func (p ReconnectPolicy) BaseDelay() time.Duration {
	return p.baseDelay
}

// IsZero reports whether p is the unset zero value.
func (p ReconnectPolicy) IsZero() bool {
	return p.maxAttempts == 0 && p.baseDelay == 0
}

// Delay returns the wait before reconnect attempt k (1-indexed):
// baseDelay × 2^(k−1), saturating at the largest Duration.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.baseDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}

// Schedule returns the delay before every attempt, in order.
func (p ReconnectPolicy) Schedule() []time.Duration {
	out := make([]time.Duration, p.maxAttempts)
	for i := range out {
		out[i] = p.Delay(i + 1)
	}
	return out
}
