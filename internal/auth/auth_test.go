package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rickgao/rtlink/internal/config"
)

func TestStaticToken(t *testing.T) {
	token, ok, err := StaticToken("abc").Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if !ok || token != "abc" {
		t.Errorf("Token() = %q, %v, want %q, true", token, ok, "abc")
	}

	_, ok, _ = StaticToken("").Token(context.Background())
	if ok {
		t.Error("empty static token should be absent")
	}
}

func TestEnvToken(t *testing.T) {
	env := map[string]string{"SET": "  tok-1\n", "BLANK": "   "}
	p := &EnvToken{Name: "SET", lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	token, ok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if !ok || token != "tok-1" {
		t.Errorf("Token() = %q, %v, want %q, true", token, ok, "tok-1")
	}

	for _, name := range []string{"BLANK", "UNSET"} {
		p.Name = name
		if _, ok, _ := p.Token(context.Background()); ok {
			t.Errorf("%s: expected absent token", name)
		}
	}
}

func TestEnvToken_RereadsEveryCall(t *testing.T) {
	t.Setenv("RTLINK_TEST_TOKEN", "first")
	p := NewEnvToken("RTLINK_TEST_TOKEN")

	token, _, _ := p.Token(context.Background())
	if token != "first" {
		t.Errorf("Token() = %q, want first", token)
	}

	t.Setenv("RTLINK_TEST_TOKEN", "second")
	token, _, _ = p.Token(context.Background())
	if token != "second" {
		t.Errorf("Token() = %q, want second", token)
	}
}

func TestFileToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	token, ok, err := NewFileToken(path).Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if !ok || token != "file-token" {
		t.Errorf("Token() = %q, %v, want %q, true", token, ok, "file-token")
	}
}

func TestFileToken_Missing(t *testing.T) {
	_, ok, err := NewFileToken(filepath.Join(t.TempDir(), "nope")).Token(context.Background())
	if err != nil {
		t.Errorf("missing file should not be an error, got %v", err)
	}
	if ok {
		t.Error("missing file should be absent")
	}
}

func TestFileToken_Unreadable(t *testing.T) {
	// A directory cannot be read as a file.
	_, _, err := NewFileToken(t.TempDir()).Token(context.Background())
	if err == nil {
		t.Error("expected error reading a directory")
	}
}

func TestFileToken_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewFileToken("/does/not/matter").Token(ctx)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuthConfig
		want string
	}{
		{"static", config.AuthConfig{Token: "x"}, "auth.StaticToken"},
		{"env", config.AuthConfig{TokenEnv: "X"}, "*auth.EnvToken"},
		{"file", config.AuthConfig{TokenFile: "/x"}, "*auth.FileToken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFromConfig(tt.cfg)
			if err != nil {
				t.Fatalf("NewFromConfig failed: %v", err)
			}
			if got := typeName(p); got != tt.want {
				t.Errorf("provider type = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := NewFromConfig(config.AuthConfig{}); err == nil {
		t.Error("expected error for empty auth config")
	}
}

func typeName(p TokenProvider) string {
	switch p.(type) {
	case StaticToken:
		return "auth.StaticToken"
	case *EnvToken:
		return "*auth.EnvToken"
	case *FileToken:
		return "*auth.FileToken"
	}
	return "unknown"
}
