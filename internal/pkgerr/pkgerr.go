// Package pkgerr defines the error taxonomy shared by every reader in this
// module: byte I/O, PFS, PFSC, the flat path table, the PKG container and
// the SFO codec all fail in one of a small number of ways, and callers (the
// exporter, the validator, the CLI) branch on which one occurred rather than
// on textual error messages.
package pkgerr

import "golang.org/x/xerrors"

// Kind identifies which of the documented error categories a failure belongs
// to. It intentionally does not distinguish between the components that can
// raise it: a BadMagic from the PKG header and a BadMagic from the PFSC
// header are the same Kind.
type Kind int

const (
	// KindUnknown is never returned; it is the zero value guarding against
	// unwrapped errors being mistaken for a classified one.
	KindUnknown Kind = iota
	// KindBadMagic: a magic number at a format boundary did not match.
	KindBadMagic
	// KindBadStructure: offsets/lengths/counts inside an otherwise
	// magic-valid structure are inconsistent.
	KindBadStructure
	// KindOutOfRange: a read's [offset, offset+len) exceeds its source.
	KindOutOfRange
	// KindCryptoMismatch: a passcode/EKPFS/XTS key failed verification.
	KindCryptoMismatch
	// KindMissingKey: an operation needs a key that is not available.
	KindMissingKey
	// KindDecompressionFailed: deflate returned an error or a short block.
	KindDecompressionFailed
	// KindIoFailed: the underlying reader/writer returned an error.
	KindIoFailed
)

func (k Kind) String() string {
	switch k {
	case KindBadMagic:
		return "BadMagic"
	case KindBadStructure:
		return "BadStructure"
	case KindOutOfRange:
		return "OutOfRange"
	case KindCryptoMismatch:
		return "CryptoMismatch"
	case KindMissingKey:
		return "MissingKey"
	case KindDecompressionFailed:
		return "DecompressionFailed"
	case KindIoFailed:
		return "IoFailed"
	default:
		return "Unknown"
	}
}

// Error pairs a Kind with a human-readable message and an optional
// underlying cause, so it can still participate in errors.Is/As chains via
// Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no cause.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: xerrors.Errorf(format, args...).Error()}
}

// Wrap constructs an *Error carrying cause, classified as kind.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return New(kind, format, args...)
	}
	return &Error{Kind: kind, Message: xerrors.Errorf(format, args...).Error(), Cause: cause}
}

// Is reports whether err (or any error it wraps) is a *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			e = x
			if e.Kind == kind {
				return true
			}
		}
		err = xerrors.Unwrap(err)
	}
	return false
}

func OutOfRange(format string, args ...interface{}) error {
	return New(KindOutOfRange, format, args...)
}

func BadMagic(format string, args ...interface{}) error {
	return New(KindBadMagic, format, args...)
}

func BadStructure(format string, args ...interface{}) error {
	return New(KindBadStructure, format, args...)
}

func CryptoMismatch(format string, args ...interface{}) error {
	return New(KindCryptoMismatch, format, args...)
}

func MissingKey(format string, args ...interface{}) error {
	return New(KindMissingKey, format, args...)
}

func DecompressionFailed(format string, args ...interface{}) error {
	return New(KindDecompressionFailed, format, args...)
}
