package secret

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, terminal bool, typed string) *Source {
	s := NewSource("TEST_SECRET", "signing key")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func(int) bool { return terminal }
	s.readSecret = func(int) ([]byte, error) {
		if typed == "" {
			return nil, errors.New("eof")
		}
		return []byte(typed), nil
	}
	s.prompt = &bytes.Buffer{}
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"TEST_SECRET": " abc \n"}, true, "typed")
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "abc" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"TEST_SECRET": "  "}, true, "typed")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := newTestSource(nil, true, "typed")
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "typed" {
		t.Fatalf("expected prompted value, got %q", got)
	}
	if !strings.Contains(s.prompt.(*bytes.Buffer).String(), "signing key") {
		t.Fatalf("prompt did not name the secret")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := newTestSource(nil, false, "")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "TEST_SECRET") {
		t.Fatalf("expected hint naming the variable, got %v", err)
	}
	// The failure is cached.
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected cached error")
	}
}
