package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rickgao/rtlink/internal/auth"
	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/transport"
	"github.com/rickgao/rtlink/internal/version"
)

// Re-exported so callers only import this package for everyday use.
type (
	Message      = codec.Message
	Subscription = connection.Subscription
	Event        = connection.Event
	State        = connection.State
	Option       = connection.Option
)

// Client is the public facade over the connection state machine.
type Client interface {
	// Connect opens the connection. No-op when already connected or while a
	// connect or automatic reconnect is in flight.
	Connect(ctx context.Context) error

	// Disconnect closes the connection, cancels any pending reconnect and
	// completes every subscription. Never fails.
	Disconnect()

	// Send writes msg. Fails with connection.ErrNotConnected unless connected.
	Send(msg Message) error

	// Subscribe returns a new stream of inbound messages.
	Subscribe() *Subscription

	// IsConnected reports whether the connection is live.
	IsConnected() bool

	// State returns the current lifecycle state.
	State() State

	// SessionID returns the live transport handle's ID, or "".
	SessionID() string

	// Close shuts the client down for good.
	Close()
}

// client implements Client.
type client struct {
	m      *connection.Machine
	logger *slog.Logger
}

// New creates a Client from explicit dependencies.
func New(cfg connection.Config, tokens auth.TokenProvider, provider transport.Provider, logger *slog.Logger, opts ...Option) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := connection.NewMachine(cfg, tokens, provider, logger.With("component", "realtime"), opts...)
	if err != nil {
		return nil, err
	}
	return &client{m: m, logger: logger}, nil
}

// NewFromConfig wires a Client from a validated configuration: the token
// source from auth, a WebSocket transport from transport and the backoff
// policy from reconnect.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewFromConfig(cfg.Auth)
	if err != nil {
		return nil, &connection.Error{Kind: connection.KindConfiguration, Op: "new client", Err: err}
	}

	policy, err := connection.NewReconnectPolicy(cfg.Reconnect.Attempts(), cfg.Reconnect.BaseDelay)
	if err != nil {
		return nil, err
	}

	wsCfg := transport.WebSocketConfigFrom(cfg.Transport)
	wsCfg.Header = http.Header{"User-Agent": []string{version.UserAgent()}}
	provider := transport.NewWebSocketProvider(wsCfg, logger.With("component", "transport"))

	c, err := New(connection.Config{
		BaseURL: cfg.Server.BaseURL,
		Policy:  policy,
	}, tokens, provider, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

func (c *client) Connect(ctx context.Context) error {
	return c.m.Connect(ctx)
}

func (c *client) Disconnect() {
	c.m.Disconnect()
}

func (c *client) Send(msg Message) error {
	return c.m.Send(msg)
}

func (c *client) Subscribe() *Subscription {
	return c.m.Subscribe()
}

func (c *client) IsConnected() bool {
	return c.m.IsConnected()
}

func (c *client) State() State {
	return c.m.State()
}

func (c *client) SessionID() string {
	return c.m.SessionID()
}

func (c *client) Close() {
	c.m.Close()
}
