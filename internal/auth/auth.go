// Package auth supplies bearer tokens for the realtime connection.
//
// A TokenProvider is consulted on every connection attempt, including automatic
// reconnects, so rotated credentials are picked up without restarting the client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rickgao/rtlink/internal/config"
)

// TokenProvider supplies the current bearer token.
//
// ok is false when no token is available; err is reserved for failures of the
// underlying store (unreadable file, cancelled context).
type TokenProvider interface {
	Token(ctx context.Context) (token string, ok bool, err error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, bool, error)

// Token calls f(ctx).
func (f TokenFunc) Token(ctx context.Context) (string, bool, error) {
	return f(ctx)
}

// StaticToken always returns the same token. An empty token is reported as absent.
type StaticToken string

// Token returns the static token.
func (s StaticToken) Token(ctx context.Context) (string, bool, error) {
	if s == "" {
		return "", false, nil
	}
	return string(s), true, nil
}

// EnvToken reads a token from an environment variable on every call.
type EnvToken struct {
	Name string

	// lookup is os.LookupEnv outside tests
	lookup func(string) (string, bool)
}

// NewEnvToken creates a provider reading the named environment variable.
func NewEnvToken(name string) *EnvToken {
	return &EnvToken{Name: name, lookup: os.LookupEnv}
}

// Token returns the trimmed variable value, or absent when unset or blank.
func (e *EnvToken) Token(ctx context.Context) (string, bool, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.Name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// FileToken reads a token from a file on every call, e.g. a mounted secret.
type FileToken struct {
	Path string
}

// NewFileToken creates a provider reading the file at path.
func NewFileToken(path string) *FileToken {
	return &FileToken{Path: path}
}

// Token returns the trimmed file contents. A missing or empty file is absent;
// any other read failure is an error.
func (f *FileToken) Token(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// NewFromConfig builds the provider selected by cfg.
func NewFromConfig(cfg config.AuthConfig) (TokenProvider, error) {
	switch {
	case cfg.TokenFile != "":
		return NewFileToken(cfg.TokenFile), nil
	case cfg.TokenEnv != "":
		return NewEnvToken(cfg.TokenEnv), nil
	case cfg.Token != "":
		return StaticToken(cfg.Token), nil
	}
	return nil, errors.New("no token source configured")
}
