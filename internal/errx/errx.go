// Package errx provides the error kinds shared by the link and upload services.
// Each kind maps to one HTTP status in httpx; provider-level failures never reach
// this package because the upload dispatcher absorbs them.

package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	// Invalid is caller-supplied data that is missing or malformed.
	Invalid
	// NotFound is a slug with no matching record.
	NotFound
	// Conflict is a uniqueness rejection from a store. Callers that draw
	// candidates treat it as "taken" and draw again.
	Conflict
	// Internal is a store read or write that failed unexpectedly.
	Internal
	// Unavailable is a dependency that could not be reached at all.
	Unavailable
	// Exhausted means every alternative was tried: all upload providers
	// failed, or no free slug was found within the attempt budget.
	Exhausted
)

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Invalid:
		return "Invalid"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Internal:
		return "Internal"
	case Unavailable:
		return "Unavailable"
	case Exhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}
