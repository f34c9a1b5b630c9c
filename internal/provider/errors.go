package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnavailable marks a single provider failure that the chain should
	// absorb and fall through.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrExhausted is surfaced once every provider in a chain has failed.
	ErrExhausted = errors.New("provider: all providers exhausted")

	// ErrInvalidInput marks a request the provider rejected as malformed;
	// retrying another provider will not help.
	ErrInvalidInput = errors.New("provider: invalid input")
)

// ChainError carries the attempt log of an exhausted chain.
type ChainError struct {
	Operation string
	Attempts  []Attempt
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Outcome))
	}
	return fmt.Sprintf("provider: %s chain exhausted after %d attempts (%s)",
		e.Operation, len(e.Attempts), strings.Join(parts, ", "))
}

func (e *ChainError) Unwrap() error {
	return ErrExhausted
}

// IsFatal reports whether the error should stop the chain instead of
// falling through to the next provider.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
