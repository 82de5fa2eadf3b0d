package accel

import "fmt"

// ErrorKind enumerates the error categories a CheckAndRaise kernel (and the
// kernels themselves) can raise at evaluation time. Kernels are configured
// with a kind instead of an arbitrary error constructor so that lowering
// stays data-driven.
type ErrorKind int

const (
	KindAssertionError ErrorKind = iota
	KindValueError
	KindTypeError
	KindIndexError
	KindShapeError
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindAssertionError:
		return "AssertionError"
	case KindValueError:
		return "ValueError"
	case KindTypeError:
		return "TypeError"
	case KindIndexError:
		return "IndexError"
	case KindShapeError:
		return "ShapeError"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindError is a runtime error tagged with its ErrorKind.
type KindError struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Raisef builds a KindError with a formatted message.
func Raisef(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a KindError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	kindErr, ok := err.(*KindError)
	return ok && kindErr.Kind == kind
}
