package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
)

// Row kinds.
const (
	KindMessage       = "message"
	KindDecodeFailure = "decode_failure"
)

const schema = `
CREATE TABLE IF NOT EXISTS realtime_messages (
	id          UUID PRIMARY KEY,
	session_id  TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	msg_type    TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	raw         BYTEA
);
ALTER TABLE realtime_messages ADD COLUMN IF NOT EXISTS raw BYTEA;
CREATE INDEX IF NOT EXISTS realtime_messages_received_at_idx ON realtime_messages (received_at);
`

const insertRow = `
	INSERT INTO realtime_messages (id, session_id, received_at, kind, msg_type, payload, raw)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source is where messages come from; realtime.Client satisfies it.
type Source interface {
	Subscribe() *connection.Subscription
	SessionID() string
}

// Recorder receives flush outcomes; metrics.Collector satisfies it.
type Recorder interface {
	ArchiveFlushed(n int)
	ArchiveFailed()
}

// Config holds writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     config.DefaultArchiveBatchSize,
		FlushInterval: config.DefaultArchiveFlush,
	}
}

// ConfigFrom converts the archive section of the YAML config.
func ConfigFrom(cfg config.ArchiveConfig) Config {
	out := Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval}
	if out.BatchSize < 1 {
		out.BatchSize = config.DefaultArchiveBatchSize
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = config.DefaultArchiveFlush
	}
	return out
}

// Stats are cumulative writer counters.
type Stats struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Skipped int64 // Events that were not archivable, e.g. terminal stream errors
}

type row struct {
	ID         uuid.UUID
	SessionID  string
	ReceivedAt time.Time
	Kind       string
	MsgType    string
	Payload    string
	Raw        []byte // Undecodable frame bytes; nil for messages
}

// Writer consumes a subscription and writes rows in batches.
type Writer struct {
	cfg      Config
	src      Source
	db       DB
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	sub *connection.Subscription

	// Batching
	batch   []row
	batchMu sync.Mutex
	stats   Stats

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewWriter creates a Writer. recorder may be nil.
func NewWriter(cfg Config, src Source, db DB, recorder Recorder, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = config.DefaultArchiveBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultArchiveFlush
	}
	return &Writer{
		cfg:      cfg,
		src:      src,
		db:       db,
		recorder: recorder,
		logger:   logger.With("component", "archive"),
		now:      time.Now,
		batch:    make([]row, 0, cfg.BatchSize),
		done:     make(chan struct{}),
	}
}

// EnsureSchema creates the archive table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// Start subscribes to the source and begins writing. Subscribe happens
// before Start returns, so nothing published afterwards is missed.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.sub = w.src.Subscribe()

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	go func() {
		w.wg.Wait()
		close(w.done)
	}()

	w.logger.Info("archive writer started",
		"subscription", w.sub.ID(),
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Done is closed once the writer's loops have exited, either because Stop was
// called or because the stream completed.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Stop unsubscribes, waits for the loops and flushes what is left.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	return w.flush(ctx)
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	// Completion of the stream also stops the flush ticker.
	defer w.cancel()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.sub.C():
			if !ok {
				w.logger.Info("archive stream completed")
				w.flush(context.Background())
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handle(ev connection.Event) {
	r, ok := w.transform(ev)
	if !ok {
		w.batchMu.Lock()
		w.stats.Skipped++
		w.batchMu.Unlock()
		w.logger.Debug("event not archived", "error", ev.Err)
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts an event into a row. Terminal stream errors are not
// archived. Decode failures keep the frame verbatim in Raw, since it need not
// be valid UTF-8 and TEXT cannot hold it.
func (w *Writer) transform(ev connection.Event) (row, bool) {
	r := row{
		ID:         uuid.New(),
		SessionID:  w.src.SessionID(),
		ReceivedAt: w.now().UTC(),
	}

	if ev.Err != nil {
		var failure *codec.DecodeFailure
		if !errors.As(ev.Err, &failure) {
			return row{}, false
		}
		r.Kind = KindDecodeFailure
		r.Raw = append([]byte{}, failure.Payload...)
		return r, true
	}

	payload, err := codec.EncodeString(ev.Value)
	if err != nil {
		return row{}, false
	}
	r.Kind = KindMessage
	r.MsgType = ev.Value.Type()
	r.Payload = payload
	return r, true
}

// flush writes the current batch.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx.Err() != nil {
		ctx = context.Background()
	}

	start := time.Now()
	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("archive batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		if w.recorder != nil {
			w.recorder.ArchiveFailed()
		}
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()
	if w.recorder != nil {
		w.recorder.ArchiveFlushed(len(batch))
	}

	w.logger.Debug("archive flushed",
		"count", len(batch),
		"duration", time.Since(start),
		"backlog", w.backlog(),
	)
	return nil
}

func (w *Writer) batchInsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertRow, r.ID, r.SessionID, r.ReceivedAt, r.Kind, r.MsgType, r.Payload, r.Raw)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// backlog returns the number of events received but not yet consumed.
func (w *Writer) backlog() int {
	if w.sub == nil {
		return 0
	}
	return w.sub.Pending()
}

// pending returns the number of buffered rows.
func (w *Writer) pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}
