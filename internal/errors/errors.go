package errors

import (
	stderr "errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error. The execution kinds
// (DataSourceError, RenderError, Timeout, Interrupted) are persisted
// verbatim on failed jobs and history records.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindInvalidState Kind = "InvalidStateError"
	KindNotFound     Kind = "NotFoundError"
	KindDataSource   Kind = "DataSourceError"
	KindRender       Kind = "RenderError"
	KindTimeout      Kind = "Timeout"
	KindInterrupted  Kind = "Interrupted"
	KindDelivery     Kind = "DeliveryError"
	KindInternal     Kind = "InternalError"
)

type AppError struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.ID, e.Message, e.cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.ID, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// StatusCode maps the error kind to an HTTP response code.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type Option func(*AppError)

// WithID attaches a dotted event id, e.g. "store.template.create.scan_error".
func WithID(id string) Option {
	return func(e *AppError) { e.ID = id }
}

// WithCause wraps an underlying error.
func WithCause(err error) Option {
	return func(e *AppError) { e.cause = err }
}

// New creates an internal error by default; prefer the kind constructors.
func New(msg string, opts ...Option) *AppError { return newError(KindInternal, msg, opts...) }

func Validation(msg string, opts ...Option) *AppError { return newError(KindValidation, msg, opts...) }

func InvalidState(msg string, opts ...Option) *AppError {
	return newError(KindInvalidState, msg, opts...)
}

func NotFound(msg string, opts ...Option) *AppError { return newError(KindNotFound, msg, opts...) }

func DataSource(msg string, opts ...Option) *AppError { return newError(KindDataSource, msg, opts...) }

func Render(msg string, opts ...Option) *AppError { return newError(KindRender, msg, opts...) }

func Timeout(msg string, opts ...Option) *AppError { return newError(KindTimeout, msg, opts...) }

func Interrupted(msg string, opts ...Option) *AppError {
	return newError(KindInterrupted, msg, opts...)
}

func Delivery(msg string, opts ...Option) *AppError { return newError(KindDelivery, msg, opts...) }

func Internal(msg string, opts ...Option) *AppError { return newError(KindInternal, msg, opts...) }

func newError(kind Kind, msg string, opts ...Option) *AppError {
	e := &AppError{Kind: kind, Message: msg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KindOf extracts the Kind from an error chain, KindInternal when unknown.
func KindOf(err error) Kind {
	var app *AppError
	if stderr.As(err, &app) {
		return app.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Is and As are passthroughs so callers don't need a second errors import.
func Is(err, target error) bool { return stderr.Is(err, target) }

func As(err error, target any) bool { return stderr.As(err, target) }
