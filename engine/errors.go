package engine

import "errors"

// Kind classifies an engine-level failure so the control surface can react
// without string-matching error text.
type Kind int

const (
	KindNone Kind = iota
	// NotInitialized: a source or codec collaborator failed to initialize.
	// start returns the error; no session is created.
	KindNotInitialized
	// SourceTransient: a frame-source timeout. Absorbed silently and
	// retried on the next loop iteration; never surfaced through LastError.
	KindSourceTransient
	// SourceFatal: an unrecoverable acquisition failure. The engine
	// transitions to Stopping and best-effort drains buffered frames.
	KindSourceFatal
	// EncoderBackpressure: the codec's internal queue signaled "need more
	// input" or "need drain". Not fatal; the caller skips this submission
	// and tries again on the next iteration.
	KindEncoderBackpressure
	// MuxerIOError: a write-packet or trailer-write failure. The engine
	// transitions to Stopping; a trailer write is attempted but not
	// guaranteed.
	KindMuxerIOError
	// Misuse: an operation was invalid for the current state (start while
	// Recording, addStroke before the first session, and so on). Returned
	// without side effects.
	KindMisuse
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "NotInitialized"
	case KindSourceTransient:
		return "SourceTransient"
	case KindSourceFatal:
		return "SourceFatal"
	case KindEncoderBackpressure:
		return "EncoderBackpressure"
	case KindMuxerIOError:
		return "MuxerIOError"
	case KindMisuse:
		return "Misuse"
	default:
		return "None"
	}
}

// Error wraps an underlying error with its Kind, so callers can inspect
// LastError()'s classification without parsing text.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var errNilSourceFatal = errors.New("engine: nil error from fatal outcome")
