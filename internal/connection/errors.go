package connection

import (
	"errors"
	"fmt"

	"github.com/rickgao/rtlink/internal/codec"
)

// Kind classifies client errors. The set is closed; Describe maps every Kind.
type Kind uint8

const (
	KindConfiguration Kind = iota + 1
	KindConnection
	KindAuthentication
	KindNotConnected
	KindDecode
	KindReconnectExhausted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindNotConnected:
		return "not connected"
	case KindDecode:
		return "decode failure"
	case KindReconnectExhausted:
		return "reconnect exhausted"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Describe returns a message suitable for showing to an end user.
func Describe(k Kind) string {
	switch k {
	case KindConfiguration:
		return "The realtime connection is misconfigured or was given an invalid message."
	case KindConnection:
		return "Could not reach the realtime service. Check your network and try again."
	case KindAuthentication:
		return "You are not signed in. Sign in again to receive live updates."
	case KindNotConnected:
		return "Live updates are not connected."
	case KindDecode:
		return "Received an update that could not be read."
	case KindReconnectExhausted:
		return "Lost connection to live updates. Reconnect to try again."
	default:
		return "An unexpected error occurred."
	}
}

// Error is the error type returned and published by the Machine.
type Error struct {
	Kind Kind
	Op   string // "connect", "send", "encode", "reconnect", "decode", "build url"
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrNotConnected)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrConnection         = &Error{Kind: KindConnection}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrNotConnected       = &Error{Kind: KindNotConnected}
	ErrDecode             = &Error{Kind: KindDecode}
	ErrReconnectExhausted = &Error{Kind: KindReconnectExhausted}
)

var (
	errNoToken     = errors.New("no token available")
	errEmptyToken  = errors.New("token is empty")
	errNoBaseURL   = errors.New("base url is empty")
	errInterrupted = errors.New("disconnected while connecting")
)

// KindOf reports the Kind of err, if it has one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var failure *codec.DecodeFailure
	if errors.As(err, &failure) {
		return KindDecode, true
	}
	return 0, false
}
