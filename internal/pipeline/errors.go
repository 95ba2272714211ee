package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindEngine
	KindInvalidState
	KindPathResolution
	KindManifestFetch
	KindNotPreloaded
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEngine:
		return "engine"
	case KindInvalidState:
		return "invalid_state"
	case KindPathResolution:
		return "path_resolution"
	case KindManifestFetch:
		return "manifest_fetch"
	case KindNotPreloaded:
		return "not_preloaded"
	case KindIO:
		return "io"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	// ErrNotPreloaded is matched when Commit has no live preloaded session.
	ErrNotPreloaded = errors.New("model not preloaded")
	// ErrPathResolution is matched when the output path cannot be resolved
	// from the listfile.
	ErrPathResolution = errors.New("model relative path not found in storage")
	// ErrValidation is matched when a required input is missing.
	ErrValidation = errors.New("missing required input")
)

// Error is returned by every pipeline operation. Status is the line shown
// to the user; Err is the underlying cause.
type Error struct {
	Kind   Kind
	Status string
	Err    error
}

func (e *Error) Error() string {
	return e.Status
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a pipeline error, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
