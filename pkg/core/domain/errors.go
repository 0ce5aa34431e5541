package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrLinkInactive = errors.New("link is inactive")
	ErrLinkExpired  = errors.New("link has expired")
	ErrTimeout      = errors.New("backend timeout")
	ErrBackend      = errors.New("backend error")

	// ErrShortCodeTaken is returned by gateways when an insert hits the unique code.
	ErrShortCodeTaken = errors.New("short code already exists")
)

// ResolveError is the failure of resolving a short code. Kind is one of the
// Err* sentinels above and Cause carries the backend error, if any.
type ResolveError struct {
	Code  string
	Kind  error
	Cause error
}

func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolve %q: %v: %v", e.Code, e.Kind, e.Cause)
	}
	return fmt.Sprintf("resolve %q: %v", e.Code, e.Kind)
}

func (e *ResolveError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Terminal reports whether the failure comes from the link state rather than the backend.
func (e *ResolveError) Terminal() bool {
	return e.Kind == ErrLinkNotFound || e.Kind == ErrLinkInactive || e.Kind == ErrLinkExpired
}

// Reason is the message shown to the person who scanned the code.
// Backend failures read the same as a missing link.
func (e *ResolveError) Reason() string {
	switch e.Kind {
	case ErrLinkInactive:
		return "This QR code has been deactivated by its owner."
	case ErrLinkExpired:
		return "This QR code has expired."
	default:
		return "The QR code you scanned doesn't exist or has been deactivated."
	}
}

// ValidationError rejects a link before it is written.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
