// Package coreerr defines the error taxonomy surfaced at the core boundary.
//
// Every error relaycore produces internally is wrapped with one of these
// kinds via Wrap, so callers that need to branch on failure class can do so
// with KindOf(err) instead of string-matching.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unknown is the zero value for errors relaycore did not originate.
	Unknown Kind = iota
	// WireIo is a WebSocket open/send/recv failure.
	WireIo
	// Decode is malformed event or frame JSON.
	Decode
	// Validation is an event id/sig mismatch or a structural invariant violation.
	Validation
	// Timeout is a temporary subscription that expired without EOSE.
	Timeout
	// NotFound is a fetch-by-id that returned nothing.
	NotFound
	// Unauthorized is a relay NOTICE/AUTH/CLOSED indicating auth is required.
	Unauthorized
	// StorageIo is a local persistence read/write failure.
	StorageIo
	// Protocol is a structurally invalid event returned by the signer.
	Protocol
)

func (k Kind) String() string {
	switch k {
	case WireIo:
		return "wire_io"
	case Decode:
		return "decode"
	case Validation:
		return "validation"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case StorageIo:
		return "storage_io"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// kindError carries a Kind alongside the wrapped cause.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.err }

// New creates an error of the given kind with no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Wrap tags err with kind, preserving it as the unwrap target.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: err}
}

// KindOf extracts the Kind tagged on err, or Unknown if err was not produced
// via New/Wrap.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
