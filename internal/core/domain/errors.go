package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown store type or entity type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrNotSupported indicates a store cannot perform the requested operation
	// (for example archiving on a store without an archive state).
	ErrNotSupported = errors.New("operation not supported by store")

	// ErrPassInProgress indicates another pass holds the pass lock.
	ErrPassInProgress = errors.New("sync pass in progress")

	// ErrPassAborted indicates the whole pass failed before or during writes.
	ErrPassAborted = errors.New("sync pass aborted")

	// ErrStoreClosed indicates the store adapter has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrRateLimited indicates the remote API rejected a call with 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthInvalid indicates the remote store rejected the credentials.
	ErrAuthInvalid = errors.New("authentication invalid")
)

// MappingError reports a field mapping configuration defect.
// It is fatal for a pass when raised during validation.
type MappingError struct {
	Entity EntityType
	Field  string
	Path   string
	Reason string
}

func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString("mapping")
	if e.Entity != "" {
		b.WriteString(" " + string(e.Entity))
	}
	if e.Field != "" {
		b.WriteString("." + e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %q)", e.Path)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

// IsMappingError reports whether err is or wraps a MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

// RemoteError is a failure returned by a store adapter for a single call.
type RemoteError struct {
	// Store is the adapter name.
	Store string
	// Code is the HTTP status code, or 0 for transport failures.
	Code int
	// Retryable marks 429, 5xx and transport errors.
	Retryable bool
	// RetryAfter is the server-requested delay, if any.
	RetryAfter time.Duration
	// Message is the remote error body or summary.
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code == 0 {
		return fmt.Sprintf("%s: transport error: %s", e.Store, msg)
	}
	return fmt.Sprintf("%s: remote error %d: %s", e.Store, e.Code, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError classifies an HTTP status code into a RemoteError.
// 429 and 5xx are retryable; every other 4xx is permanent.
func NewRemoteError(store string, code int, message string) *RemoteError {
	re := &RemoteError{Store: store, Code: code, Message: message}
	switch {
	case code == http.StatusTooManyRequests:
		re.Retryable = true
		re.Err = ErrRateLimited
	case code >= 500:
		re.Retryable = true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		re.Err = ErrAuthInvalid
	case code == http.StatusNotFound:
		re.Err = ErrNotFound
	}
	return re
}

// NewTransportError wraps a network failure as a retryable RemoteError.
func NewTransportError(store string, err error) *RemoteError {
	return &RemoteError{Store: store, Retryable: true, Err: err}
}

// IsRetryable reports whether err is a retryable RemoteError.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// LinkAmbiguityError reports records that share a natural key on one side.
// It is never fatal: the records are excluded from the pass.
type LinkAmbiguityError struct {
	Entity EntityType
	Side   Side
	Key    string
	Value  string
	IDs    []string
}

func (e *LinkAmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous %s link on %s: %s=%q matches %d records (%s)",
		e.Entity, e.Side, e.Key, e.Value, len(e.IDs), strings.Join(e.IDs, ", "))
}
