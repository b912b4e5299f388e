package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Error wraps a failure returned by a provider client, carrying enough
// context for the reconciler to decide whether to retry.
type Error struct {
	Provider  string
	Op        string // "create", "update", "delete", "describe"
	Node      string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s %s: %v", e.Provider, e.Op, e.Node, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an error is worth retrying with backoff.
// Typed provider errors carry an explicit classification; anything else
// falls back to matching common throttling and network failure text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Transient
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"i/o timeout",
		"tls handshake",
		"temporary failure",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
