// Package httpapi wires the HTTP transport (Gin) to the proxy's middleware and
// handlers. It centralizes the cross-cutting concerns: tracing, request
// correlation, panic recovery, metrics, compression, CORS, security headers
// and the JSON error boundary.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
	"github.com/tbourn/ollama-openai-proxy/internal/config"
	"github.com/tbourn/ollama-openai-proxy/internal/http/handlers"
	"github.com/tbourn/ollama-openai-proxy/internal/http/middleware"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything, so logs can carry trace_id
//  2. Correlation: X-Request-ID, request-scoped logger, request logs
//  3. Recovery: panics are rendered by the error dispatcher
//  4. Body size limit
//  5. Metrics
//  6. Compression (optional)
//  7. CORS and security headers
//  8. ErrorHandler: renders errors recorded by handlers
func RegisterRoutes(r *gin.Engine, cfg config.Config, logger zerolog.Logger) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	r.Use(middleware.Correlation(middleware.CorrelationOptions{
		Logger:      logger,
		MaskHeaders: cfg.MaskHeaders,
	}))

	r.Use(middleware.Recovery(handlers.Dispatch))

	r.Use(limitBody(cfg.MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.GzipEnabled {
		r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	}

	r.Use(corsMiddleware(cfg))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))

	r.Use(handlers.ErrorHandler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, apperr.New(apperr.KindNotFound, "Not Found"))
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, apperr.New(apperr.KindMethodNotAllowed, "Method Not Allowed"))
	})

	h := handlers.New(cfg)
	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// corsMiddleware allows every origin in development or when no allowlist is
// configured, and only the allowlisted origins otherwise. X-Request-ID is
// always exposed to browser clients.
func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if cfg.IsDevelopment() || len(cfg.CORS.AllowedOrigins) == 0 {
		// AllowCredentials must stay false with AllowAllOrigins.
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	return cors.New(cc)
}

// limitBody caps the request body at maxBytes. Reads past the cap fail with
// *http.MaxBytesError, which handlers.BindJSON turns into a 413.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
