package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves the authority keystore passphrase from an environment
// variable or, failing that, an interactive prompt. The first answer is
// cached.
type Source struct {
	envVar string
	prompt func() ([]byte, error)
	isTTY  func() bool

	once  sync.Once
	value string
	err   error
}

func NewSource(envVar string) *Source {
	fd := int(os.Stdin.Fd())
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: func() ([]byte, error) {
			fmt.Fprint(os.Stderr, "Enter authority keystore passphrase: ")
			defer fmt.Fprintln(os.Stderr)
			return term.ReadPassword(fd)
		},
		isTTY: func() bool { return term.IsTerminal(fd) },
	}
}

// Get returns the cached passphrase or resolves it on first use. A set but
// blank variable and a blank prompt answer are both rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTTY() {
		if s.envVar != "" {
			return "", fmt.Errorf("authority keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("authority keystore passphrase required and no terminal available")
	}
	raw, err := s.prompt()
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("authority keystore passphrase cannot be empty")
	}
	return string(raw), nil
}
