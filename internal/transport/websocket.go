package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/rtlink/internal/config"
)

// WebSocketConfig configures the gorilla/websocket transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	PingInterval     time.Duration // How often we ping the server
	PongTimeout      time.Duration // Max time without ping/pong before the stream is stale
	ReadLimit        int64         // Max inbound frame size (0 = unlimited)
	BufferSize       int           // Inbound frame channel buffer
	Header           http.Header   // Extra handshake headers
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: config.DefaultHandshakeTimeout,
		WriteTimeout:     config.DefaultWriteTimeout,
		PingInterval:     config.DefaultPingInterval,
		PongTimeout:      config.DefaultPongTimeout,
		ReadLimit:        config.DefaultReadLimit,
		BufferSize:       config.DefaultBufferSize,
	}
}

// WebSocketConfigFrom converts the transport section of the YAML config.
func WebSocketConfigFrom(cfg config.TransportConfig) WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
		PongTimeout:      cfg.PongTimeout,
		ReadLimit:        cfg.ReadLimit,
		BufferSize:       cfg.BufferSize,
	}
}

// WebSocketProvider dials WebSocket connections.
type WebSocketProvider struct {
	cfg    WebSocketConfig
	logger *slog.Logger
}

// NewWebSocketProvider creates a provider.
func NewWebSocketProvider(cfg WebSocketConfig, logger *slog.Logger) *WebSocketProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &WebSocketProvider{cfg: cfg, logger: logger}
}

// Open dials url and starts the read and heartbeat loops.
func (p *WebSocketProvider) Open(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, vs := range p.cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	id := uuid.NewString()
	c := &wsConn{
		id:         id,
		cfg:        p.cfg,
		logger:     p.logger.With("session", id),
		ws:         ws,
		frames:     make(chan Frame, p.cfg.BufferSize),
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
	}

	if p.cfg.ReadLimit > 0 {
		ws.SetReadLimit(p.cfg.ReadLimit)
	}

	// Server sends ping, we respond with pong.
	ws.SetPingHandler(func(data string) error {
		c.touch()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Server responds to our ping.
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if p.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected")
	return c, nil
}

// wsConn implements Conn over a gorilla connection.
type wsConn struct {
	id     string
	cfg    WebSocketConfig
	logger *slog.Logger
	ws     *websocket.Conn

	frames chan Frame
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time
	err        error
	closed     bool
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Frames() <-chan Frame {
	return c.frames
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// fail records the first terminal error and tears the socket down so the read
// loop unblocks.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.ws.Close()
}

// readLoop reads frames until the socket errors or is closed. Frames are never
// dropped: when the buffer is full the loop waits for the consumer.
func (c *wsConn) readLoop() {
	defer close(c.frames)

	for {
		msgType, data, err := c.ws.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
				// Close() was called; not an error.
			default:
				c.fail(err)
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		frame := Frame{
			Data:       data,
			Binary:     msgType == websocket.BinaryMessage,
			ReceivedAt: receivedAt,
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and detects stale connections.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PongTimeout > 0 && time.Since(lastPing) > c.cfg.PongTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PongTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}
