package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/rtlink/internal/auth"
	"github.com/rickgao/rtlink/internal/broadcast"
	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/transport"
)

// Sequence is the broadcast sequence of decoded messages.
type Sequence = broadcast.Broadcaster[codec.Message]

// Subscription is one consumer of the message sequence.
type Subscription = broadcast.Subscription[codec.Message]

// Event is one item received on a Subscription.
type Event = broadcast.Event[codec.Message]

// Observer receives state machine notifications. Methods are called
// synchronously from transitions and must not block or call back into the
// Machine.
type Observer interface {
	StateChanged(from, to State)
	ReconnectScheduled(attempt int, delay time.Duration)
	FrameReceived(size int)
	DecodeFailed()
	ReconnectExhausted(attempts int)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)             {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}
func (nopObserver) FrameReceived(int)                     {}
func (nopObserver) DecodeFailed()                         {}
func (nopObserver) ReconnectExhausted(int)                {}

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config configures a Machine.
type Config struct {
	BaseURL       string          // Backend HTTP(S) base address
	Policy        ReconnectPolicy // Zero value means DefaultReconnectPolicy
	QueueCapacity int             // Initial per-subscriber queue size (0 = default)
}

// Option customizes a Machine.
type Option func(*Machine)

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithWaitFunc replaces the backoff sleep, mainly for tests.
func WithWaitFunc(fn WaitFunc) Option {
	return func(m *Machine) {
		if fn != nil {
			m.wait = fn
		}
	}
}

// Machine owns one logical realtime connection.
//
// All transitions (connect, disconnect, loss, reconnect, frame routing) are
// serialized on mu. Network I/O happens outside the lock; a generation counter
// lets a transition detect that the world moved on while it was dialing.
type Machine struct {
	cfg      Config
	tokens   auth.TokenProvider
	provider transport.Provider
	logger   *slog.Logger
	observer Observer
	wait     WaitFunc

	mu           sync.Mutex
	state        State
	attempts     int
	intentional  bool
	conn         transport.Conn
	seq          *Sequence
	gen          uint64
	reconnecting bool // a reconnect loop is running
	cancelLoop   context.CancelFunc
	loopDone     chan struct{}
}

// NewMachine creates a Machine in StateDisconnected.
func NewMachine(cfg Config, tokens auth.TokenProvider, provider transport.Provider, logger *slog.Logger, opts ...Option) (*Machine, error) {
	if tokens == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "new machine", Err: errors.New("token provider is nil")}
	}
	if provider == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "new machine", Err: errors.New("transport provider is nil")}
	}
	if cfg.Policy.IsZero() {
		cfg.Policy = DefaultReconnectPolicy()
	} else if _, err := NewReconnectPolicy(cfg.Policy.maxAttempts, cfg.Policy.baseDelay); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Machine{
		cfg:      cfg,
		tokens:   tokens,
		provider: provider,
		logger:   logger,
		observer: nopObserver{},
		wait:     sleep,
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.seq = m.newSequence()

	return m, nil
}

// Connect opens the connection. It is a no-op while connected, connecting or
// automatically reconnecting. A failure here is returned to the caller and
// never starts automatic reconnection.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting || m.reconnecting {
		m.mu.Unlock()
		return nil
	}
	m.intentional = false
	m.gen++
	gen := m.gen
	m.setState(StateConnecting)
	m.mu.Unlock()

	conn, err := m.open(ctx, "connect")

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		if conn != nil {
			conn.Close()
		}
		return &Error{Kind: KindConnection, Op: "connect", Err: errInterrupted}
	}
	if err != nil {
		m.setState(StateDisconnected)
		m.logger.Warn("connect failed", "error", err)
		return err
	}

	m.install(conn)
	m.logger.Info("connected", "session", conn.ID())
	return nil
}

// Disconnect closes the connection and completes the current sequence. It
// never fails, may be called in any state, and returns only after any pending
// reconnect has been cancelled.
func (m *Machine) Disconnect() {
	m.disconnect(StateDisconnected)
}

// Close disconnects and marks the machine closed. Connect may still be called
// afterwards.
func (m *Machine) Close() {
	m.disconnect(StateClosed)
}

func (m *Machine) disconnect(final State) {
	m.mu.Lock()
	m.intentional = true
	m.gen++
	// The reconnect loop checks ctx.Err() under mu before installing.
	done := m.loopDone
	if m.cancelLoop != nil {
		m.cancelLoop()
	}
	m.cancelLoop, m.loopDone = nil, nil
	m.reconnecting = false
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	prev := m.state
	m.setState(final)
	seq := m.seq
	m.seq = m.newSequence()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	if conn != nil {
		conn.Close()
	}
	seq.Close()

	if prev != final {
		m.logger.Info("disconnected", "previous_state", prev)
	}
}

// Send encodes msg and writes it to the transport. It fails with
// ErrNotConnected unless the machine is connected; nothing is queued.
func (m *Machine) Send(msg codec.Message) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return &Error{Kind: KindNotConnected, Op: "send", Err: fmt.Errorf("state is %s", state)}
	}
	conn := m.conn
	m.mu.Unlock()

	data, err := codec.Encode(msg)
	if err != nil {
		// The caller supplied a message JSON cannot carry (NaN, invalid UTF-8).
		return &Error{Kind: KindConfiguration, Op: "encode", Err: err}
	}

	if err := conn.Send(data); err != nil {
		return &Error{Kind: KindConnection, Op: "send", Err: err}
	}
	return nil
}

// Subscribe returns a new consumer of the current sequence. It sees every
// message and decode failure published from now on.
func (m *Machine) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq.Subscribe()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is StateConnected.
func (m *Machine) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the current reconnect attempt count.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// SessionID returns the ID of the live transport handle, or "" when there is
// none.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.ID()
}

// Policy returns the reconnect policy in use.
func (m *Machine) Policy() ReconnectPolicy {
	return m.cfg.Policy
}

// open fetches a token, builds the URL and dials. Must be called without mu.
func (m *Machine) open(ctx context.Context, op string) (transport.Conn, error) {
	token, ok, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Op: op, Err: err}
	}
	if !ok || token == "" {
		return nil, &Error{Kind: KindAuthentication, Op: op, Err: errNoToken}
	}

	url, err := BuildURL(m.cfg.BaseURL, token)
	if err != nil {
		return nil, err
	}

	conn, err := m.provider.Open(ctx, url)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: op, Err: err}
	}
	return conn, nil
}

// install makes conn the live handle. Must be called with mu held.
func (m *Machine) install(conn transport.Conn) {
	m.conn = conn
	m.attempts = 0
	m.gen++
	m.setState(StateConnected)
	go m.listen(m.gen, conn)
}

// setState must be called with mu held.
func (m *Machine) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.observer.StateChanged(from, to)
	m.logger.Debug("state changed", "from", from, "to", to)
}

func (m *Machine) newSequence() *Sequence {
	if m.cfg.QueueCapacity > 0 {
		return broadcast.NewWithCapacity[codec.Message](m.cfg.QueueCapacity)
	}
	return broadcast.New[codec.Message]()
}

// listen routes frames from one handle until its stream ends.
func (m *Machine) listen(gen uint64, conn transport.Conn) {
	for frame := range conn.Frames() {
		m.route(gen, frame)
	}
	m.lost(gen, conn)
}

func (m *Machine) route(gen uint64, frame transport.Frame) {
	msg, err := codec.Decode(frame.Data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.observer.FrameReceived(len(frame.Data))

	if err != nil {
		m.observer.DecodeFailed()
		m.logger.Debug("undecodable frame", "size", len(frame.Data), "error", err)
		m.seq.PublishError(&Error{Kind: KindDecode, Op: "decode", Err: err})
		return
	}
	m.seq.Publish(msg)
}

// lost handles the end of a handle's inbound stream.
func (m *Machine) lost(gen uint64, conn transport.Conn) {
	conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.intentional || m.state != StateConnected {
		return
	}

	m.logger.Warn("connection lost", "session", conn.ID(), "error", conn.Err())
	m.conn = nil
	m.setState(StateReconnecting)

	if m.reconnecting {
		return
	}
	m.reconnecting = true
	m.logger.Info("reconnecting", "schedule", m.cfg.Policy.Schedule())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancelLoop, m.loopDone = cancel, done
	go m.reconnectLoop(ctx, done)
}

// reconnectLoop runs the backoff schedule until a handle is installed, the
// attempts are exhausted, or ctx is cancelled by Disconnect.
func (m *Machine) reconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	maxAttempts := m.cfg.Policy.MaxAttempts()

	for {
		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		if m.attempts >= maxAttempts {
			m.exhaust()
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		delay := m.cfg.Policy.Delay(attempt)
		m.observer.ReconnectScheduled(attempt, delay)
		m.mu.Unlock()

		m.logger.Info("scheduling reconnect",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
		)

		if err := m.wait(ctx, delay); err != nil {
			return
		}

		conn, err := m.open(ctx, "reconnect")

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			m.mu.Unlock()
			m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		cancel := m.cancelLoop
		m.reconnecting = false
		m.cancelLoop, m.loopDone = nil, nil
		m.install(conn)
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.logger.Info("reconnected", "session", conn.ID(), "attempt", attempt)
		return
	}
}

// exhaust ends the sequence with a terminal error. The state stays
// StateReconnecting until an explicit Connect. Must be called with mu held.
func (m *Machine) exhaust() {
	attempts := m.attempts
	if m.cancelLoop != nil {
		m.cancelLoop()
	}
	m.reconnecting = false
	m.cancelLoop, m.loopDone = nil, nil

	m.observer.ReconnectExhausted(attempts)
	m.logger.Error("max reconnection attempts exceeded", "attempts", attempts)

	m.seq.Fail(&Error{
		Kind: KindReconnectExhausted,
		Op:   "reconnect",
		Err:  fmt.Errorf("max reconnection attempts (%d) exceeded", m.cfg.Policy.MaxAttempts()),
	})
	m.seq = m.newSequence()
}
