// Package failure defines the closed set of error kinds the thumbnail pipeline
// can produce. Every error that crosses a component boundary is an *Error so the
// orchestrator can tell a per-record failure from an invocation-fatal one, and a
// retryable condition from a permanent one.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// Decode means the source bytes are not a supported raster image.
	Decode Kind = iota + 1
	// Encode means the thumbnail could not be produced from a decoded image.
	Encode
	// NotFound means the object (or its bucket) does not exist.
	NotFound
	// Access means the object exists but could not be read or written.
	Access
	// Quota means the storage service refused the request for capacity or throttling reasons.
	Quota
	// Dispatch means a notification could not be delivered. Always swallowed.
	Dispatch
	// MalformedEvent means the trigger payload (or one of its records) is unusable.
	MalformedEvent
	// Configuration means the process was started with unusable settings or clients.
	Configuration
)

var kindNames = map[Kind]string{
	Decode:         "DecodeError",
	Encode:         "EncodeError",
	NotFound:       "NotFoundError",
	Access:         "AccessError",
	Quota:          "QuotaError",
	Dispatch:       "DispatchError",
	MalformedEvent: "MalformedEventError",
	Configuration:  "ConfigurationError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stage returns the pipeline stage that produces errors of this kind.
func (k Kind) Stage() string {
	switch k {
	case Decode, Encode:
		return "transform"
	case NotFound, Access, Quota:
		return "storage"
	case Dispatch:
		return "notification"
	case MalformedEvent, Configuration:
		return "invocation"
	default:
		return "unknown"
	}
}

// Retryable reports whether a later attempt could plausibly succeed without
// anything changing on the caller's side.
func (k Kind) Retryable() bool {
	return k == Quota
}

// Error is a classified pipeline error. Step names the operation that failed
// (e.g. "decode", "fetch", "store").
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Step
	}
	if e.Step == "" {
		return e.Err.Error()
	}
	return e.Step + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and step. A nil err yields nil.
func New(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, step, format string, args ...any) error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// StepOf returns the step of the outermost *Error in err's chain, or "".
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Describe returns the kind name and message used in notifications and responses.
// Unclassified errors are reported with the fallback kind.
func Describe(err error, fallback Kind) (kind Kind, message string) {
	if err == nil {
		return fallback, ""
	}
	if k, ok := KindOf(err); ok {
		return k, err.Error()
	}
	return fallback, err.Error()
}
