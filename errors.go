package membuf

import "github.com/pkg/errors"

// Kind classifies a fatal or rejected operation per the cache's error
// taxonomy: SourceRead failures poison the whole cache, while SourceSeek
// and Unsupported leave it usable.
type Kind int

const (
	// KindSourceRead means the source returned zero or a negative byte
	// count before end of stream was established; fatal to the cache.
	KindSourceRead Kind = iota
	// KindSourceSeek means a seek on the source failed or returned a
	// position incompatible with the request; the cache stays usable.
	KindSourceSeek
	// KindAllocFailure means blocks could not be sized: Open returns it
	// when the source size query fails or reports a non-positive size.
	KindAllocFailure
	// KindUnsupported means a control query was not recognised, or a seek
	// was attempted on a non-seekable source.
	KindUnsupported
	// KindCancelled means Close was called while the operation was in
	// flight.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindSourceRead:
		return "source-read"
	case KindSourceSeek:
		return "source-seek"
	case KindAllocFailure:
		return "alloc-failure"
	case KindUnsupported:
		return "unsupported"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CacheError wraps a failure with the taxonomy kind it belongs to. Callers
// that need to distinguish a fatal error from an ordinary seek failure
// should use errors.As to recover the Kind.
type CacheError struct {
	Kind  Kind
	cause error
}

func (e *CacheError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *CacheError) Unwrap() error {
	return e.cause
}

func newError(kind Kind, cause error, format string, args ...interface{}) *CacheError {
	if cause == nil {
		return &CacheError{Kind: kind, cause: errors.Errorf(format, args...)}
	}
	return &CacheError{Kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

// ErrUnsupported is returned for control queries with no dedicated
// handling, and for any seek attempted on a non-seekable source.
var ErrUnsupported = &CacheError{Kind: KindUnsupported, cause: errors.New("unsupported")}

// ErrCancelled is returned to callers blocked in Read/Peek/Discard when
// Close runs concurrently.
var ErrCancelled = &CacheError{Kind: KindCancelled, cause: errors.New("cache is closing")}
