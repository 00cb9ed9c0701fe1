// Command ollama-openai-proxy serves an Ollama-compatible HTTP API in front of
// OpenAI models.
//
//	@title			Ollama OpenAI Proxy
//	@version		0.1.0
//	@description	Ollama-compatible front for OpenAI models. Every response carries X-Request-ID; every failure is a JSON error envelope.
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//	@BasePath		/
package main

//go:generate swag init -g cmd/ollama-openai-proxy/main.go -d ../../ -o ../../docs

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/ollama-openai-proxy/docs"
	"github.com/tbourn/ollama-openai-proxy/internal/config"
	httpapi "github.com/tbourn/ollama-openai-proxy/internal/http"
	"github.com/tbourn/ollama-openai-proxy/internal/logging"
	"github.com/tbourn/ollama-openai-proxy/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		// No configured logger yet.
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Error().Err(err).Msg("invalid configuration")
		return err
	}

	logger := logging.New(cfg, os.Stdout)
	zerolog.DefaultContextLogger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed")
		return err
	}

	docs.SwaggerInfo.Version = cfg.AppVersion
	docs.SwaggerInfo.Title = cfg.AppName

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	logger.Info().
		Str("app_name", cfg.AppName).
		Str("app_version", cfg.AppVersion).
		Str("environment", cfg.Environment).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("application_starting")

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			_ = shutdownOTel(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Str("app_name", cfg.AppName).Msg("application_shutting_down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(sctx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownOTel(sctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		return err
	}
	return nil
}
