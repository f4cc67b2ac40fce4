package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if s := String(); !strings.HasPrefix(s, "rtlink 1.2.3 (") {
		t.Errorf("String() = %q, want prefix %q", s, "rtlink 1.2.3 (")
	}
	if ua := UserAgent(); ua != "rtlink/1.2.3" {
		t.Errorf("UserAgent() = %q, want rtlink/1.2.3", ua)
	}
}
