// Package handlers provides the HTTP handlers of the proxy and the boundary
// that turns failures into JSON error envelopes.
//
// Handlers report failures with Fail (or c.Error + c.Abort); ErrorHandler()
// picks the last recorded error after the chain returns and routes it to one
// of three handlers:
//
//   - HandleFailure for *apperr.Failure values (typed, message shown verbatim)
//   - HandleSchemaValidation for request bodies that do not match their shape
//   - HandleUnclassified for everything else (500, message sanitized)
//
// Every envelope carries the request's correlation ID when one is bound, and
// every one is counted in proxy_errors_total.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
	"github.com/tbourn/ollama-openai-proxy/internal/http/middleware"
)

const (
	schemaErrorName    = "ValidationError"
	schemaErrorMessage = "Request validation failed"
)

// FieldError locates one schema violation in the request.
//
// Loc is the path to the offending value, starting with "body"; list indices
// are numbers, e.g. ["body", "messages", 0, "role"].
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// ErrorHandler returns the middleware that renders the last error recorded on
// the Gin context. It does nothing when the response was already written.
//
// Register it after Correlation() and Recovery() so envelopes carry the
// request ID and panics never reach it.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Dispatch(c, c.Errors.Last().Err)
	}
}

// Dispatch routes err to the matching handler.
func Dispatch(c *gin.Context, err error) {
	var (
		f  *apperr.Failure
		se *apperr.SchemaError
		ve validator.ValidationErrors
	)
	switch {
	case errors.As(err, &f):
		HandleFailure(c, f)
	case errors.As(err, &se):
		HandleSchemaValidation(c, se.Err)
	case errors.As(err, &ve):
		HandleSchemaValidation(c, ve)
	default:
		HandleUnclassified(c, err)
	}
}

// HandleFailure writes the envelope of a typed failure with its status.
func HandleFailure(c *gin.Context, f *apperr.Failure) {
	status := f.StatusCode()

	ev := middleware.LoggerFrom(c).Error().
		Str("error_code", f.ErrorCode()).
		Int("status_code", status).
		Str("message", f.Message).
		Str("path", c.Request.URL.Path).
		Str("method", c.Request.Method)
	if f.Details != nil {
		ev = ev.Interface("details", f.Details)
	}
	if f.Err != nil {
		ev = ev.AnErr("cause", f.Err)
	}
	ev.Msg("proxy_exception")

	writeEnvelope(c, status, f.Envelope(middleware.RequestID(c)))
}

// HandleSchemaValidation writes a 400 VALIDATION_ERROR envelope for a request
// that failed to decode or validate against its declared shape.
//
// Errors that can be located field by field render as "ValidationError" with
// details.errors listing each violation; anything else renders as
// "ValidationException" with the error's own text.
func HandleSchemaValidation(c *gin.Context, err error) {
	env := apperr.Envelope{
		ErrorCode: apperr.CodeValidation,
		RequestID: middleware.RequestID(c),
	}

	ev := middleware.LoggerFrom(c).Error().
		Str("error_code", apperr.CodeValidation).
		Int("status_code", http.StatusBadRequest).
		Str("path", c.Request.URL.Path).
		Str("method", c.Request.Method)

	if items := fieldErrors(err); len(items) > 0 {
		env.Error = schemaErrorName
		env.Message = schemaErrorMessage
		env.Details = map[string]any{"errors": items}
		ev = ev.Interface("errors", items)
	} else {
		env.Error = apperr.KindValidation.String()
		env.Message = err.Error()
		ev = ev.Str("message", env.Message)
	}
	ev.Msg("validation_error")

	writeEnvelope(c, http.StatusBadRequest, env)
}

// HandleUnclassified writes a sanitized 500 envelope. The error's text goes
// to the log only.
func HandleUnclassified(c *gin.Context, err error) {
	name := apperr.TypeName(err)

	middleware.LoggerFrom(c).Error().
		Err(err).
		Str("exception_type", name).
		Str("path", c.Request.URL.Path).
		Str("method", c.Request.Method).
		Str("stack", string(debug.Stack())).
		Msg("unhandled_exception")

	writeEnvelope(c, http.StatusInternalServerError, apperr.Internal(err, middleware.RequestID(c)))
}

// fieldErrors converts decoding and validation errors into located
// violations. It returns nil for errors without a location.
func fieldErrors(err error) []FieldError {
	var (
		ve  validator.ValidationErrors
		ute *json.UnmarshalTypeError
		se  *json.SyntaxError
	)
	switch {
	case errors.As(err, &ve):
		out := make([]FieldError, 0, len(ve))
		for _, fe := range ve {
			out = append(out, FieldError{
				Loc:  bodyLoc(trimRoot(fe.Namespace())),
				Msg:  ruleMessage(fe),
				Type: fe.Tag(),
			})
		}
		return out
	case errors.As(err, &ute):
		return []FieldError{{
			Loc:  bodyLoc(ute.Field),
			Msg:  fmt.Sprintf("Input should be of type %s, got %s", ute.Type, ute.Value),
			Type: "type_error",
		}}
	case errors.As(err, &se):
		return []FieldError{{
			Loc:  []any{"body", int(se.Offset)},
			Msg:  "JSON decode error: " + se.Error(),
			Type: "json_invalid",
		}}
	case errors.Is(err, io.EOF):
		return []FieldError{{Loc: []any{"body"}, Msg: "Field required", Type: "missing"}}
	}
	return nil
}

// trimRoot drops the root struct name from a validator namespace.
func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// bodyLoc turns "messages[0].role" into ["body", "messages", 0, "role"].
func bodyLoc(path string) []any {
	loc := []any{"body"}
	if path == "" {
		return loc
	}
	for _, seg := range strings.Split(path, ".") {
		name, idx, _ := strings.Cut(seg, "[")
		if name != "" {
			loc = append(loc, name)
		}
		for idx != "" {
			var raw string
			raw, idx, _ = strings.Cut(idx, "]")
			if n, err := strconv.Atoi(raw); err == nil {
				loc = append(loc, n)
			} else {
				loc = append(loc, raw)
			}
			idx = strings.TrimPrefix(idx, "[")
		}
	}
	return loc
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field required"
	case "oneof":
		return "Input should be one of: " + fe.Param()
	case "min", "gte":
		return "Input should be at least " + fe.Param()
	case "max", "lte":
		return "Input should be at most " + fe.Param()
	}
	if fe.Param() != "" {
		return fmt.Sprintf("Failed on the %q rule (%s)", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("Failed on the %q rule", fe.Tag())
}
