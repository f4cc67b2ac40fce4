package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/rtlink/internal/broadcast"
	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/realtime"
)

// fakeClient mimics the facade's lifecycle: Connect is a no-op while
// connected or while an automatic reconnect is still running.
type fakeClient struct {
	mu         sync.Mutex
	seq        *connection.Sequence
	state      connection.State
	retrying   bool
	connectErr error
	subscribes int
}

func newFakeClient() *fakeClient {
	return &fakeClient{seq: broadcast.New[codec.Message](), state: connection.StateDisconnected}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == connection.StateConnected || f.retrying {
		return nil
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = connection.StateConnected
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = connection.StateDisconnected
	f.retrying = false
	f.seq.Close()
	f.seq = broadcast.New[codec.Message]()
}

// drop simulates a lost connection with reconnects in progress.
func (f *fakeClient) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = connection.StateReconnecting
	f.retrying = true
}

// exhaust simulates the reconnect loop giving up.
func (f *fakeClient) exhaust() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrying = false
	f.seq.Fail(&connection.Error{Kind: connection.KindReconnectExhausted, Op: "reconnect"})
	f.seq = broadcast.New[codec.Message]()
}

func (f *fakeClient) publish(m codec.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq.Publish(m)
}

func (f *fakeClient) Send(realtime.Message) error { return nil }

func (f *fakeClient) Subscribe() *realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	return f.seq.Subscribe()
}

func (f *fakeClient) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeClient) IsConnected() bool {
	return f.State() == connection.StateConnected
}

func (f *fakeClient) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) SessionID() string {
	if f.IsConnected() {
		return "session-1"
	}
	return ""
}

func (f *fakeClient) Close() {}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitPrinted(t *testing.T, out *lockedBuffer, line string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), line) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output %q never contained %q", out.String(), line)
}

func TestConsole_ConnectWhileReconnectingKeepsPrinter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	out := &lockedBuffer{}
	c := &console{client: client, out: out}

	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	client.drop()

	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() while reconnecting error = %v", err)
	}
	if n := client.Subscribes(); n != 1 {
		t.Errorf("subscribes = %d, want 1", n)
	}
	waitPrinted(t, out, "reconnecting, not connected yet")

	client.publish(codec.NewMessage(codec.F("type", "tick")))
	waitPrinted(t, out, `{"type":"tick"}`)
	if n := strings.Count(out.String(), `{"type":"tick"}`); n != 1 {
		t.Errorf("message printed %d times, want once", n)
	}

	// Once reconnects give up the stream ends and connect attaches anew.
	client.exhaust()
	select {
	case <-c.printing:
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not stop after exhausted reconnects")
	}
	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() after exhaustion error = %v", err)
	}
	if n := client.Subscribes(); n != 2 {
		t.Errorf("subscribes = %d, want 2", n)
	}
	waitPrinted(t, out, "connected (session session-1)")
}

func TestConsole_DisconnectThenConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	out := &lockedBuffer{}
	c := &console{client: client, out: out}

	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	c.disconnect()
	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	if n := client.Subscribes(); n != 2 {
		t.Errorf("subscribes = %d, want 2", n)
	}

	client.publish(codec.NewMessage(codec.F("type", "after")))
	waitPrinted(t, out, `{"type":"after"}`)
}

func TestConsole_ConnectFailureReleasesPrinter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	client.connectErr = errors.New("dial refused")
	c := &console{client: client, out: &lockedBuffer{}}

	if err := c.connect(ctx); err == nil {
		t.Fatal("connect() error = nil, want dial error")
	}
	client.mu.Lock()
	subscribers := client.seq.Len()
	client.connectErr = nil
	client.mu.Unlock()
	if subscribers != 0 {
		t.Errorf("subscribers = %d after failed connect, want 0", subscribers)
	}

	if err := c.connect(ctx); err != nil {
		t.Fatalf("connect() retry error = %v", err)
	}
	if n := client.Subscribes(); n != 2 {
		t.Errorf("subscribes = %d, want 2", n)
	}
}
