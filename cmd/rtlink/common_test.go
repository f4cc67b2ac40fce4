package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/rtlink/internal/broadcast"
	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/connection"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGlobalOptions_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtlink.yaml")
	yaml := "server:\n  base_url: https://example.com/api\nauth:\n  token: abc\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	opts := globalOptions{configPath: path, logLevel: "debug"}
	cfg, err := opts.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}

	opts.logLevel = "verbose"
	if _, err := opts.load(); err == nil {
		t.Error("load() with invalid level succeeded, want error")
	}
}

func TestDescribe(t *testing.T) {
	err := &connection.Error{Kind: connection.KindAuthentication, Op: "connect"}
	if got := describe(err); !strings.HasPrefix(got, connection.Describe(connection.KindAuthentication)) {
		t.Errorf("describe() = %q", got)
	}
	failure := &codec.DecodeFailure{Payload: []byte("{"), Cause: errors.New("unexpected end")}
	if got := describe(failure); !strings.HasPrefix(got, connection.Describe(connection.KindDecode)) {
		t.Errorf("describe(decode failure) = %q", got)
	}
	if got := describe(errors.New("boom")); got != "boom" {
		t.Errorf("describe(plain) = %q, want boom", got)
	}
}

func TestPrintEvents(t *testing.T) {
	seq := broadcast.New[codec.Message]()
	sub := seq.Subscribe()

	seq.Publish(codec.NewMessage(codec.F("type", "a"), codec.F("n", 1)))
	seq.PublishError(&connection.Error{Kind: connection.KindDecode, Op: "decode", Err: errors.New("bad")})
	seq.Publish(codec.NewMessage(codec.F("type", "b")))
	seq.Close()

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := printEvents(ctx, &buf, sub); err != nil {
		t.Fatalf("printEvents() error = %v", err)
	}

	want := "{\"type\":\"a\",\"n\":1}\n# decode: decode failure: bad\n{\"type\":\"b\"}\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestPrintEvents_TerminalError(t *testing.T) {
	seq := broadcast.New[codec.Message]()
	sub := seq.Subscribe()
	seq.Fail(&connection.Error{Kind: connection.KindReconnectExhausted, Op: "reconnect"})

	var buf bytes.Buffer
	err := printEvents(context.Background(), &buf, sub)
	if !errors.Is(err, connection.ErrReconnectExhausted) {
		t.Errorf("printEvents() error = %v, want reconnect exhausted", err)
	}
}
