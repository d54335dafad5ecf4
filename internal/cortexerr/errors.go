// Package cortexerr implements the single error taxonomy shared by every
// layer of the memory substrate: one Kind enum, one human-readable context
// string, no opaque codes.
package cortexerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy variants from the error handling design.
type Kind string

const (
	InvalidUri       Kind = "InvalidUri"
	InvalidScheme    Kind = "InvalidScheme"
	InvalidDimension Kind = "InvalidDimension"
	InvalidPath      Kind = "InvalidPath"
	NotFound         Kind = "NotFound"
	Io               Kind = "Io"
	Serialization    Kind = "Serialization"
	Llm              Kind = "Llm"
	Embedding        Kind = "Embedding"
	VectorStore      Kind = "VectorStore"
	Config           Kind = "Config"
	Other            Kind = "Other"
)

// Error is the single concrete error type for the whole module. Every
// failure surfaced across a package boundary is one of these.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error that carries an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, otherwise
// Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code the HTTP surface returns for it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidUri, InvalidScheme, InvalidDimension, InvalidPath, Serialization:
		return 400
	case NotFound:
		return 404
	default:
		return 500
	}
}

// CLILine formats the one-line "❌ <kind>: <msg>" the CLI prints to stderr.
func CLILine(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return fmt.Sprintf("❌ %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("❌ %s: %v", Other, err)
}
