// Package apperr defines the failure taxonomy of the proxy and the uniform
// JSON error envelope rendered at the HTTP boundary.
//
// Every deliberately raised failure carries exactly one Kind. The kind fixes
// the default HTTP status, the machine-readable error code and the type name
// echoed in the envelope's "error" field. A status may be overridden per
// instance with WithStatus.
//
// Typical use from a handler:
//
//	_ = c.Error(apperr.Upstream("OpenAI service unavailable"))
//	c.Abort()
//
// Messages of typed failures are shown to clients verbatim. Errors that are
// not *Failure values are treated as unclassified by the HTTP layer and their
// text is never exposed.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
)

// Kind classifies a Failure.
type Kind int

const (
	// KindProxy is the generic failure kind.
	KindProxy Kind = iota
	// KindValidation marks malformed or semantically invalid input.
	KindValidation
	// KindUpstream marks failures of the backing LLM service.
	KindUpstream
	// KindConfiguration marks invalid or missing configuration.
	KindConfiguration
	// KindNotImplemented marks features that are not available yet.
	KindNotImplemented
	// KindNotFound is used by the router fallback for unknown routes.
	KindNotFound
	// KindMethodNotAllowed is used by the router fallback for known routes
	// requested with an unsupported method.
	KindMethodNotAllowed
)

// Error codes emitted in the envelope's "error_code" field.
const (
	CodeProxy            = "PROXY_ERROR"
	CodeValidation       = "VALIDATION_ERROR"
	CodeUpstream         = "UPSTREAM_ERROR"
	CodeConfiguration    = "CONFIG_ERROR"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

type kindSpec struct {
	status   int
	code     string
	typeName string
}

var kinds = map[Kind]kindSpec{
	KindProxy:            {http.StatusInternalServerError, CodeProxy, "ProxyException"},
	KindValidation:       {http.StatusBadRequest, CodeValidation, "ValidationException"},
	KindUpstream:         {http.StatusBadGateway, CodeUpstream, "UpstreamException"},
	KindConfiguration:    {http.StatusInternalServerError, CodeConfiguration, "ConfigurationException"},
	KindNotImplemented:   {http.StatusNotImplemented, CodeNotImplemented, "NotImplementedException"},
	KindNotFound:         {http.StatusNotFound, CodeNotFound, "NotFoundException"},
	KindMethodNotAllowed: {http.StatusMethodNotAllowed, CodeMethodNotAllowed, "MethodNotAllowedException"},
}

func (k Kind) spec() kindSpec {
	if s, ok := kinds[k]; ok {
		return s
	}
	return kinds[KindProxy]
}

// DefaultStatus returns the HTTP status used when no override is given.
func (k Kind) DefaultStatus() int { return k.spec().status }

// Code returns the machine-readable error code of the kind.
func (k Kind) Code() string { return k.spec().code }

// String returns the type name rendered in the envelope's "error" field.
func (k Kind) String() string { return k.spec().typeName }

// Failure is a deliberately raised, classified error.
type Failure struct {
	Kind    Kind
	Message string
	// Status overrides Kind.DefaultStatus when non-zero.
	Status int
	// Details is optional structured context. Nil means absent.
	Details map[string]any
	// Err is an optional cause. It is logged, never rendered.
	Err error
}

// Option customizes a Failure at construction.
type Option func(*Failure)

// WithDetails attaches structured context to the failure.
func WithDetails(details map[string]any) Option {
	return func(f *Failure) { f.Details = details }
}

// WithStatus overrides the kind's default HTTP status. Zero keeps the default.
func WithStatus(status int) Option {
	return func(f *Failure) { f.Status = status }
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(f *Failure) { f.Err = err }
}

// New constructs a Failure of the given kind.
func New(kind Kind, msg string, opts ...Option) *Failure {
	f := &Failure{Kind: kind, Message: msg}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Proxy constructs a generic failure (500 PROXY_ERROR).
func Proxy(msg string, opts ...Option) *Failure { return New(KindProxy, msg, opts...) }

// Validation constructs a validation failure (400 VALIDATION_ERROR).
func Validation(msg string, opts ...Option) *Failure { return New(KindValidation, msg, opts...) }

// Upstream constructs an upstream failure (502 UPSTREAM_ERROR).
func Upstream(msg string, opts ...Option) *Failure { return New(KindUpstream, msg, opts...) }

// Configuration constructs a configuration failure (500 CONFIG_ERROR).
func Configuration(msg string, opts ...Option) *Failure {
	return New(KindConfiguration, msg, opts...)
}

// NotImplemented constructs a not-implemented failure (501 NOT_IMPLEMENTED).
func NotImplemented(msg string, opts ...Option) *Failure {
	return New(KindNotImplemented, msg, opts...)
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.ErrorCode(), f.Message, f.Err)
	}
	return f.ErrorCode() + ": " + f.Message
}

// Unwrap returns the cause, if any.
func (f *Failure) Unwrap() error { return f.Err }

// StatusCode returns the HTTP status to emit.
func (f *Failure) StatusCode() int {
	if f.Status != 0 {
		return f.Status
	}
	return f.Kind.DefaultStatus()
}

// ErrorCode returns the machine-readable error code.
func (f *Failure) ErrorCode() string { return f.Kind.Code() }

// TypeName returns the name rendered in the envelope's "error" field.
func (f *Failure) TypeName() string { return f.Kind.String() }

// Envelope renders the failure. An empty requestID is omitted.
func (f *Failure) Envelope(requestID string) Envelope {
	return Envelope{
		Error:     f.TypeName(),
		ErrorCode: f.ErrorCode(),
		Message:   f.Message,
		Details:   f.Details,
		RequestID: requestID,
	}
}

// IsKind reports whether err wraps a Failure of kind k.
func IsKind(err error, k Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == k
}

// SchemaError wraps a failure to decode or validate a request body against
// its declared shape. It is distinct from an application-raised Validation
// failure.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return e.Err.Error() }

func (e *SchemaError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value that was not itself an error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// TypeName returns the concrete Go type name of err with pointers and package
// qualifiers stripped, e.g. "PanicError" for *apperr.PanicError. Unnamed
// types fall back to "InternalError".
func TypeName(err error) string {
	if err == nil {
		return "InternalError"
	}
	if f, ok := err.(*Failure); ok {
		return f.TypeName()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "InternalError"
	}
	return t.Name()
}
