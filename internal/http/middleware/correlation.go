// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation and panic recovery:
//
//   - Correlation() mints a fresh correlation ID (UUIDv4) per request, binds it
//     into a request-scoped zerolog.Logger, logs request_started and
//     request_completed, and returns the ID in X-Request-ID on every exit
//     path, panics included.
//   - Recovery() converts panics into errors and hands them to the error
//     dispatcher supplied by the router, so typed failures keep their kind.
//   - LoggerFrom() / RequestContextFrom() expose the request-scoped state to
//     handlers.
//
// Recommended order:
//  1. Correlation()
//  2. Recovery()
//  3. everything else
//
// The request-scoped state lives in the gin.Context and in the request's
// context.Context only; nothing is kept in package globals, so concurrent
// requests never observe each other's correlation ID.
package middleware

import (
	"context"
	"errors"
	"math"
	"mime"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
)

const (
	// RequestIDHeader is the response header carrying the correlation ID.
	RequestIDHeader = "X-Request-ID"

	// requestContextKey is the Gin context key holding the RequestContext.
	requestContextKey = "requestContext"
	// loggerKey is the Gin context key holding the request-scoped logger.
	loggerKey = "logger"

	responseStandard  = "standard"
	responseStreaming = "streaming"
)

// RequestContext is the per-request correlation state.
type RequestContext struct {
	RequestID string
	StartedAt time.Time
}

type requestContextCtxKey struct{}

// CorrelationOptions configures Correlation.
//
// Logger is the base logger request-scoped loggers are derived from.
// MaskHeaders lists extra request headers whose values are replaced with
// "[REDACTED]" in the request_started event. Authorization, Cookie and
// Set-Cookie are always excluded entirely.
type CorrelationOptions struct {
	Logger      zerolog.Logger
	MaskHeaders []string
}

// Correlation returns the request correlation middleware.
//
// Per request it:
//   - generates a new UUIDv4; an inbound X-Request-ID is ignored
//   - stores a RequestContext in the Gin context and the request context
//   - binds request_id (and trace_id when a span is active) into a logger
//     derived from the base logger, never from a previous request
//   - logs request_started with method, path, query_params and a header
//     snapshot without sensitive headers
//   - logs request_completed with status_code, duration (seconds, 3 dp) and
//     response_type standard|streaming
//   - releases the bindings when the response leaves the middleware
//
// For streamed responses the logged status is the one sent with the headers;
// errors raised while the body is streaming are not visible here.
func Correlation(opts CorrelationOptions) gin.HandlerFunc {
	base := opts.Logger
	red := newRedactor(opts.MaskHeaders)

	return func(c *gin.Context) {
		rc := RequestContext{RequestID: uuid.NewString(), StartedAt: time.Now()}

		origReq := c.Request
		origWriter := c.Writer
		sw := &streamWriter{ResponseWriter: c.Writer}
		c.Writer = sw

		lctx := base.With().Str("request_id", rc.RequestID)
		if sc := trace.SpanContextFromContext(origReq.Context()); sc.HasTraceID() {
			lctx = lctx.Str("trace_id", sc.TraceID().String())
		}
		lg := lctx.Logger()

		ctx := context.WithValue(origReq.Context(), requestContextCtxKey{}, rc)
		c.Request = origReq.WithContext(lg.WithContext(ctx))
		c.Set(requestContextKey, rc)
		c.Set(loggerKey, &lg)

		// Headers must be in place before any handler writes the body.
		sw.Header().Set(RequestIDHeader, rc.RequestID)

		method := origReq.Method
		path := origReq.URL.Path

		defer func() {
			rec := recover()
			if !sw.Written() {
				sw.Header().Set(RequestIDHeader, rc.RequestID)
			}
			if rec != nil {
				lg.Error().
					Str("method", method).
					Str("path", path).
					Float64("duration", seconds(time.Since(rc.StartedAt))).
					Interface("panic", rec).
					Msg("request_aborted")
			}
			c.Writer = origWriter
			c.Request = origReq
			c.Set(requestContextKey, nil)
			c.Set(loggerKey, nil)
			if rec != nil {
				panic(rec)
			}
		}()

		lg.Info().
			Str("method", method).
			Str("path", path).
			Interface("query_params", red.query(origReq.URL.Query())).
			Interface("headers", red.headers(origReq.Header)).
			Msg("request_started")

		c.Next()

		status := sw.Status()
		responseType := responseStandard
		if sw.streaming() {
			responseType = responseStreaming
		}

		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = lg.Error()
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		ev.
			Str("method", method).
			Str("path", path).
			Int("status_code", status).
			Float64("duration", seconds(time.Since(rc.StartedAt))).
			Str("response_type", responseType).
			Msg("request_completed")
	}
}

// Recovery intercepts panics and hands them to handle as errors.
//
// Panic values that are not errors are wrapped in *apperr.PanicError.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
// When the body was already written only the status is aborted.
//
// Place this after Correlation() so the panic is logged with the request ID.
func Recovery(handle func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			err, ok := rec.(error)
			if !ok {
				err = &apperr.PanicError{Value: rec}
			}
			if errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			if c.Writer.Written() {
				LoggerFrom(c).Error().
					Err(err).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered after response was written")
				c.Abort()
				return
			}
			handle(c, err)
			c.Abort()
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger.
//
// Without Correlation() installed it falls back to the logger attached to the
// request context, which is a disabled logger when none is attached. Callers
// can use the result without nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok && lg != nil {
			return lg
		}
	}
	if c.Request == nil {
		return LoggerFromContext(context.Background())
	}
	return LoggerFromContext(c.Request.Context())
}

// LoggerFromContext returns the logger bound to ctx by Correlation(). Outside
// a request it returns zerolog.DefaultContextLogger, or a disabled logger
// when that is unset.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// RequestContextFrom returns the RequestContext of an in-flight request.
// The boolean is false outside Correlation() or after it has returned.
func RequestContextFrom(c *gin.Context) (RequestContext, bool) {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(RequestContext); ok {
			return rc, true
		}
	}
	return RequestContext{}, false
}

// RequestContextFromContext is the context.Context variant of
// RequestContextFrom, for code below the HTTP layer.
func RequestContextFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextCtxKey{}).(RequestContext)
	return rc, ok
}

// RequestID returns the correlation ID of the request, or "".
func RequestID(c *gin.Context) string {
	rc, _ := RequestContextFrom(c)
	return rc.RequestID
}

// streamWriter records whether the handler flushed the response, which is
// how streamed bodies (SSE, NDJSON) are written with gin.
type streamWriter struct {
	gin.ResponseWriter
	flushed bool
}

func (w *streamWriter) Flush() {
	w.flushed = true
	w.ResponseWriter.Flush()
}

func (w *streamWriter) streaming() bool {
	if w.flushed {
		return true
	}
	mt, _, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	if err != nil {
		return false
	}
	switch mt {
	case "text/event-stream", "application/x-ndjson":
		return true
	}
	return false
}

// seconds rounds d to milliseconds and returns it in seconds.
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
