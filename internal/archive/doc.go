// Package archive persists every message received by the realtime client to
// PostgreSQL.
//
// The Writer is an ordinary subscriber: it records what arrives on the stream
// and never requests missed messages. Rows are batched and inserted with
// pgx.Batch, flushed when the batch is full or on a timer.
//
// Table:
//
//	realtime_messages (id uuid, session_id text, received_at timestamptz,
//	                   kind text, msg_type text, payload text, raw bytea)
//
// Messages are stored re-encoded in payload with raw NULL. Frames that failed
// to decode are stored byte for byte in raw with an empty payload.
package archive
