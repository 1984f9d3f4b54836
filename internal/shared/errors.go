package shared

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

var (
	// ErrValidation marks malformed input rejected before any state is touched.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates an unknown client or source record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a recompute superseded by a newer mutation.
	ErrConflict = errors.New("conflict")
	// ErrComputation indicates an internal fold failure; prior state is kept.
	ErrComputation = errors.New("computation failed")
	// ErrExternalService indicates a notification verify/send failure or timeout.
	ErrExternalService = errors.New("external service failure")
)

// Error carries the ledger error kind together with the identifiers operators need in logs.
type Error struct {
	Kind       error
	Message    string
	ClientID   int64
	RecordKind string
	RecordID   int64
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithClient returns a copy scoped to the client.
func (e *Error) WithClient(clientID int64) *Error {
	cp := *e
	cp.ClientID = clientID
	return &cp
}

// WithRecord returns a copy scoped to a source record.
func (e *Error) WithRecord(kind string, id int64) *Error {
	cp := *e
	cp.RecordKind = kind
	cp.RecordID = id
	return &cp
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for the entity.
func NotFound(entity string, id int64) *Error {
	return &Error{Kind: ErrNotFound, Message: entity + " " + strconv.FormatInt(id, 10)}
}

// Conflictf builds a conflict error for the client.
func Conflictf(clientID int64, format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, ClientID: clientID, Message: fmt.Sprintf(format, args...)}
}

// Computation wraps an internal failure for the client.
func Computation(clientID int64, err error) *Error {
	return &Error{Kind: ErrComputation, ClientID: clientID, Err: err}
}

// ExternalService wraps a collaborator failure.
func ExternalService(op string, err error) *Error {
	return &Error{Kind: ErrExternalService, Message: op, Err: err}
}

// IsUserVisible reports whether the error is surfaced to callers as a request failure.
func IsUserVisible(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// ErrorAttrs returns slog attributes describing err, including client and record ids when known.
func ErrorAttrs(err error) []any {
	attrs := []any{slog.Any("error", err)}
	var le *Error
	if errors.As(err, &le) {
		if le.ClientID != 0 {
			attrs = append(attrs, slog.Int64("client_id", le.ClientID))
		}
		if le.RecordKind != "" {
			attrs = append(attrs, slog.String("record_kind", le.RecordKind), slog.Int64("record_id", le.RecordID))
		}
	}
	return attrs
}
