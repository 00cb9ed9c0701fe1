package handlers

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
	"github.com/tbourn/ollama-openai-proxy/internal/http/middleware"
)

func init() {
	// Validation errors name fields as clients send them.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// Fail records err on the context and stops the chain. ErrorHandler renders
// it once the chain unwinds.
//
//	if err := upstream.Chat(ctx, req); err != nil {
//		handlers.Fail(c, apperr.Upstream("OpenAI service unavailable", apperr.WithCause(err)))
//		return
//	}
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON decodes and validates the JSON body into dst. On failure it
// records the error with Fail and returns false; the caller just returns.
//
// A body over the configured size limit becomes a 413 Validation failure.
// Any other decode or binding error is a schema error.
func BindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Fail(c, apperr.Validation("Request body too large",
			apperr.WithStatus(http.StatusRequestEntityTooLarge),
			apperr.WithDetails(map[string]any{"limit_bytes": tooLarge.Limit}),
			apperr.WithCause(err),
		))
		return false
	}
	Fail(c, &apperr.SchemaError{Err: err})
	return false
}

// writeEnvelope counts and writes an error envelope, aborting the chain.
func writeEnvelope(c *gin.Context, status int, env apperr.Envelope) {
	middleware.RecordFailure(env.ErrorCode, status)
	c.AbortWithStatusJSON(status, env)
}
