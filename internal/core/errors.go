package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies every error the pipeline can surface.
type Kind string

const (
	KindInvalidInput     Kind = "InvalidInput"
	KindNotFound         Kind = "NotFound"
	KindNotReady         Kind = "NotReady"
	KindTransientService Kind = "TransientServiceError"
	KindPermanentService Kind = "PermanentServiceError"
	KindAudioAssembly    Kind = "AudioAssemblyError"
)

// Sentinel errors, one per kind. A *Error matches the sentinel of its kind
// through errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("job not found")
	ErrNotReady         = errors.New("job result not ready")
	ErrTransientService = errors.New("transient service error")
	ErrPermanentService = errors.New("permanent service error")
	ErrAudioAssembly    = errors.New("audio assembly error")
)

var sentinels = map[Kind]error{
	KindInvalidInput:     ErrInvalidInput,
	KindNotFound:         ErrNotFound,
	KindNotReady:         ErrNotReady,
	KindTransientService: ErrTransientService,
	KindPermanentService: ErrPermanentService,
	KindAudioAssembly:    ErrAudioAssembly,
}

// Error is a classified error. Op names the operation that produced it
// (for example "transform" or "submit").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError builds a classified error wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinel.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf reports the kind of err. Context deadlines count as transient;
// anything else that was never classified counts as permanent.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientService
	}

	return KindPermanentService
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientService
}

// Classify returns err as a *Error, classifying it with KindOf if needed.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	return NewError(KindOf(err), op, err)
}
