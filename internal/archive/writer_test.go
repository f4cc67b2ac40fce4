package archive

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/rtlink/internal/broadcast"
	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/connection"
)

type fakeSource struct {
	seq *connection.Sequence
}

func newFakeSource() *fakeSource {
	return &fakeSource{seq: broadcast.New[codec.Message]()}
}

func (s *fakeSource) Subscribe() *connection.Subscription { return s.seq.Subscribe() }
func (s *fakeSource) SessionID() string                   { return "session-1" }

type fakeResults struct {
	n   int
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

type fakeDB struct {
	mu      sync.Mutex
	execs   []string
	batches [][]*pgx.QueuedQuery
	err     error
}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), d.err
}

func (d *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b.QueuedQueries)
	return &fakeResults{n: b.Len(), err: d.err}
}

func (d *fakeDB) Rows() []*pgx.QueuedQuery {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range d.batches {
		out = append(out, b...)
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	flushed int
	failed  int
}

func (r *fakeRecorder) ArchiveFlushed(n int) {
	r.mu.Lock()
	r.flushed += n
	r.mu.Unlock()
}

func (r *fakeRecorder) ArchiveFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func TestWriter_Transform(t *testing.T) {
	w := NewWriter(DefaultConfig(), newFakeSource(), &fakeDB{}, nil, nil)
	receivedAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return receivedAt }

	msg := codec.NewMessage(codec.F("type", "trade"), codec.F("price", 52))
	r, ok := w.transform(connection.Event{Value: msg})
	if !ok {
		t.Fatal("transform(message) ok = false")
	}
	if r.Kind != KindMessage {
		t.Errorf("Kind = %s, want %s", r.Kind, KindMessage)
	}
	if r.MsgType != "trade" {
		t.Errorf("MsgType = %s, want trade", r.MsgType)
	}
	if r.Payload != `{"type":"trade","price":52}` {
		t.Errorf("Payload = %s, want {\"type\":\"trade\",\"price\":52}", r.Payload)
	}
	if r.SessionID != "session-1" {
		t.Errorf("SessionID = %s, want session-1", r.SessionID)
	}
	if !r.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", r.ReceivedAt, receivedAt)
	}
}

func TestWriter_Transform_DecodeFailure(t *testing.T) {
	w := NewWriter(DefaultConfig(), newFakeSource(), &fakeDB{}, nil, nil)

	failure := &codec.DecodeFailure{Payload: []byte("garbage"), Cause: errors.New("invalid character")}
	ev := connection.Event{Err: &connection.Error{Kind: connection.KindDecode, Op: "decode", Err: failure}}

	r, ok := w.transform(ev)
	if !ok {
		t.Fatal("transform(decode failure) ok = false")
	}
	if r.Kind != KindDecodeFailure || r.Payload != "" || r.MsgType != "" {
		t.Errorf("row = %+v, want decode_failure with empty payload", r)
	}
	if string(r.Raw) != "garbage" {
		t.Errorf("Raw = %q, want garbage", r.Raw)
	}
	failure.Payload[0] = 'X'
	if string(r.Raw) != "garbage" {
		t.Errorf("Raw = %q after mutating failure payload, want garbage", r.Raw)
	}

	exhausted := connection.Event{Err: &connection.Error{Kind: connection.KindReconnectExhausted}}
	if _, ok := w.transform(exhausted); ok {
		t.Error("transform(terminal error) ok = true, want false")
	}
}

func TestWriter_BinaryDecodeFailureKeptVerbatim(t *testing.T) {
	src := newFakeSource()
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, src, db, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frame := []byte{0x00, 0xff, 0xfe, '{'}
	failure := &codec.DecodeFailure{Payload: frame, Cause: errors.New("invalid character")}
	src.seq.PublishError(&connection.Error{Kind: connection.KindDecode, Op: "decode", Err: failure})

	deadline := time.Now().Add(2 * time.Second)
	for len(db.Rows()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rows := db.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	args := rows[0].Arguments
	if args[3] != KindDecodeFailure {
		t.Errorf("kind = %v, want %s", args[3], KindDecodeFailure)
	}
	if args[5] != "" {
		t.Errorf("payload = %q, want empty", args[5])
	}
	raw, ok := args[6].([]byte)
	if !ok || !bytes.Equal(raw, frame) {
		t.Errorf("raw = %v, want %v", args[6], frame)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWriter_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(DefaultConfig(), newFakeSource(), db, nil, nil)
	if err := w.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execs) != 1 {
		t.Errorf("execs = %d, want 1", len(db.execs))
	}

	db.err = errors.New("permission denied")
	if err := w.EnsureSchema(context.Background()); err == nil {
		t.Error("EnsureSchema() error = nil, want error")
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	src := newFakeSource()
	db := &fakeDB{}
	rec := &fakeRecorder{}
	w := NewWriter(Config{BatchSize: 3, FlushInterval: time.Hour}, src, db, rec, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		src.seq.Publish(codec.NewMessage(codec.F("type", "tick"), codec.F("n", i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(db.Rows()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rows := db.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if got := rows[2].Arguments[5]; got != `{"type":"tick","n":2}` {
		t.Errorf("payload[2] = %v, want {\"type\":\"tick\",\"n\":2}", got)
	}
	if raw, _ := rows[2].Arguments[6].([]byte); raw != nil {
		t.Errorf("raw[2] = %q, want nil for a message", raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 1 {
		t.Errorf("Stats() = %+v, want 3 inserts in 1 flush", stats)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.flushed != 3 {
		t.Errorf("recorder flushed = %d, want 3", rec.flushed)
	}
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	src := newFakeSource()
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, src, db, nil, nil)
	if got := w.backlog(); got != 0 {
		t.Errorf("backlog() before Start = %d, want 0", got)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	src.seq.Publish(codec.NewMessage(codec.F("type", "a")))
	src.seq.Publish(codec.NewMessage(codec.F("type", "b")))

	deadline := time.Now().Add(2 * time.Second)
	for w.pending() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.backlog(); got != 0 {
		t.Errorf("backlog() = %d once both rows are buffered, want 0", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := len(db.Rows()); got != 2 {
		t.Errorf("rows after Stop = %d, want 2", got)
	}
}

func TestWriter_StreamCompletion(t *testing.T) {
	src := newFakeSource()
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, src, db, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	src.seq.Publish(codec.NewMessage(codec.F("type", "last")))
	src.seq.Fail(&connection.Error{Kind: connection.KindReconnectExhausted})

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after stream completion")
	}

	if got := len(db.Rows()); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
	if got := w.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestWriter_FlushError(t *testing.T) {
	src := newFakeSource()
	db := &fakeDB{err: errors.New("connection reset")}
	rec := &fakeRecorder{}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, src, db, rec, nil)

	w.ctx = context.Background()
	w.handle(connection.Event{Value: codec.NewMessage(codec.F("type", "x"))})

	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.failed != 1 {
		t.Errorf("recorder failed = %d, want 1", rec.failed)
	}
}
