package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and surfacing decisions.
type ErrorKind string

const (
	// SpecError is malformed or inconsistent user input. Terminal until the
	// resource changes.
	SpecError ErrorKind = "SpecError"
	// ReferenceError is a named dependency (cluster, profile, secret) that
	// does not exist. Handled like SpecError.
	ReferenceError ErrorKind = "ReferenceError"
	// TransportError is an API failure unrelated to content. Retried with backoff.
	TransportError ErrorKind = "TransportError"
	// RuntimeFault is an unrecoverable pod or engine state caused by the
	// resource definition. Cleared once the resource is corrected.
	RuntimeFault ErrorKind = "RuntimeFault"
)

// Stable event reasons. External tooling matches on these.
const (
	ReasonInvalidArgument      = "InvalidArgument"
	ReasonInvalidReference     = "InvalidReference"
	ReasonTransportError       = "TransportError"
	ReasonImagePullFailed      = "ImagePullFailed"
	ReasonContainerConfigError = "ContainerConfigError"
	ReasonCrashLoop            = "CrashLoop"
	ReasonProvisioningFailed   = "ProvisioningFailed"
	ReasonRecovered            = "Recovered"
	ReasonOnline               = "Online"
	ReasonUpgradeStarted       = "UpgradeStarted"
	ReasonUpgradeCompleted     = "UpgradeCompleted"
	ReasonBackupStarted        = "BackupStarted"
	ReasonBackupCompleted      = "BackupCompleted"
	ReasonBackupFailed         = "BackupFailed"
	ReasonScheduled            = "Scheduled"
)

// Error is a classified failure carrying the event reason it surfaces with.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewSpecError returns a SpecError with reason InvalidArgument.
func NewSpecError(format string, args ...any) *Error {
	return &Error{Kind: SpecError, Reason: ReasonInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewReferenceError returns a ReferenceError with reason InvalidReference.
func NewReferenceError(format string, args ...any) *Error {
	return &Error{Kind: ReferenceError, Reason: ReasonInvalidReference, Message: fmt.Sprintf(format, args...)}
}

// NewTransportError wraps err as a TransportError.
func NewTransportError(err error, format string, args ...any) *Error {
	return &Error{Kind: TransportError, Reason: ReasonTransportError, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewRuntimeFault returns a RuntimeFault surfaced with the given reason.
func NewRuntimeFault(reason, format string, args ...any) *Error {
	return &Error{Kind: RuntimeFault, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTerminal reports whether err must not be retried until the resource
// itself changes.
func IsTerminal(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == SpecError || k == ReferenceError)
}

// ReasonOf returns the event reason for err, falling back to the given default.
func ReasonOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return fallback
}

// MessageOf returns the user-facing message of err without wrapped causes.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
