// Package secret resolves operator secrets from the environment or, failing
// that, from an interactive terminal prompt.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves one secret. The value is cached after the first
// successful retrieval.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error

	lookupEnv  func(string) (string, bool)
	isTerminal func(int) bool
	readSecret func(int) ([]byte, error)
	prompt     io.Writer
}

// NewSource returns a source that checks envVar before prompting for label
// on stderr.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		label:      label,
		lookupEnv:  os.LookupEnv,
		isTerminal: term.IsTerminal,
		readSecret: term.ReadPassword,
		prompt:     os.Stderr,
	}
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		fd := int(os.Stdin.Fd())
		if !s.isTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		raw, err := s.readSecret(fd)
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
