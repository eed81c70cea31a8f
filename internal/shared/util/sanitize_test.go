package util

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidateSegment(t *testing.T) {
	valid := []string{"repo-42", "64f1c2e9a7b3", "team.alpha_1"}
	for _, s := range valid {
		if err := ValidateSegment(s); err != nil {
			t.Fatalf("expected %q to be valid, got %v", s, err)
		}
	}

	invalid := []string{"", "..", "../etc", "a/b", `a\b`, ".hidden", "-flag", "a..b"}
	for _, s := range invalid {
		if err := ValidateSegment(s); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("expected %q to be rejected, got %v", s, err)
		}
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	got, err := SafeJoin(base, "ws-1")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if got != filepath.Join(base, "ws-1") {
		t.Fatalf("unexpected path %q", got)
	}

	for _, name := range []string{"../escape", "/etc/passwd", "a/../../b"} {
		if _, err := SafeJoin(base, name); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("expected %q to be rejected, got %v", name, err)
		}
	}
}
