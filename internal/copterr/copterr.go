// Package copterr collects the typed error taxonomy of spec.md §7.
//
// Most negative outcomes in this system are data, not errors: a failed
// cargo step, a detected conflict, or a DeepPatch terminus are reported as
// a types.ThreeStepResult, never returned as an error. Only the kinds
// defined here are allowed to propagate as Go errors out of a cell, and the
// runner halts the matrix on any of them (spec.md §7's "Propagation policy").
package copterr

import "errors"

// Kind identifies which part of the taxonomy an error belongs to, for
// callers that want to branch on error category (e.g. to pick a process
// exit code) without string-matching messages.
type Kind uint8

const (
	KindConfigInvalid Kind = iota
	KindExternalUnavailable
	KindManifestUnreadable
	KindManifestUnwritable
	KindRestoreFailed
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config-invalid"
	case KindExternalUnavailable:
		return "external-unavailable"
	case KindManifestUnreadable:
		return "manifest-unreadable"
	case KindManifestUnwritable:
		return "manifest-unwritable"
	case KindRestoreFailed:
		return "restore-failed"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can branch on
// category via errors.As.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
