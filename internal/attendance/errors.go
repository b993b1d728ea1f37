package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies attendance failures. A Kind is itself an error so callers
// can test with errors.Is(err, attendance.KindOutOfRange).
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindDuplicate          Kind = "duplicate_submission"
	KindSessionExpired     Kind = "session_expired"
	KindNoActiveSession    Kind = "no_active_session"
	KindOutOfRange         Kind = "out_of_range"
	KindNetworkAlreadyUsed Kind = "network_already_used"
	KindConflict           Kind = "conflict"
	KindUnavailable        Kind = "storage_unavailable"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
)

func (k Kind) Error() string { return string(k) }

// Category is the severity shown next to user-facing messages.
func (k Kind) Category() string {
	switch k {
	case KindDuplicate, KindConflict, KindValidation:
		return "warning"
	case KindNoActiveSession:
		return "info"
	default:
		return "danger"
	}
}

func (k Kind) message() string {
	switch k {
	case KindNotFound:
		return msgStudentNotFound
	case KindDuplicate:
		return msgDuplicate
	case KindSessionExpired:
		return msgSessionExpired
	case KindNoActiveSession:
		return msgNoActiveSession
	case KindNetworkAlreadyUsed:
		return msgNetworkUsed
	case KindConflict:
		return msgSessionExists
	case KindUnavailable:
		return msgUnavailable
	default:
		return msgInternal
	}
}

// Retryable reports whether the caller may try the same request again.
func (k Kind) Retryable() bool { return k == KindUnavailable }

const (
	msgStudentNotFound = "Enrollment number not found."
	msgDuplicate       = "You have already marked attendance today."
	msgSessionExpired  = "Attendance session has expired."
	msgNoActiveSession = "No active attendance session."
	msgNetworkUsed     = "This network has already been used by another student."
	msgSessionExists   = "An active session already exists."
	msgUnavailable     = "Database service unavailable."
	msgInternal        = "A server error occurred."
)

// Error is the structured failure returned by every operation in this
// package. Message is safe to show to end users.
type Error struct {
	Kind     Kind
	Message  string
	Distance float64
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// NewValidationError reports malformed caller input.
func NewValidationError(msg string) *Error { return newError(KindValidation, msg) }

// NewNotFoundError reports a missing student or session.
func NewNotFoundError(msg string) *Error { return newError(KindNotFound, msg) }

func errOutOfRange(distance, radius float64) *Error {
	return &Error{
		Kind:     KindOutOfRange,
		Message:  fmt.Sprintf("You are %.0fm away. Move within %.0fm.", distance, radius),
		Distance: distance,
	}
}

// KindOf extracts the Kind of err. Errors that did not come from this package
// are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindInternal
}

// PublicMessage returns the user-facing text for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return msgInternal
}

// classify maps a storage error onto the taxonomy. Errors already carrying a
// Kind pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var k Kind
	if errors.As(err, &k) {
		return &Error{Kind: k, Message: k.message(), Err: err}
	}
	switch {
	case isUniqueViolation(err):
		return &Error{Kind: KindDuplicate, Message: msgDuplicate, Err: err}
	case isUnavailable(err):
		return &Error{Kind: KindUnavailable, Message: msgUnavailable, Err: err}
	default:
		return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
	}
}
