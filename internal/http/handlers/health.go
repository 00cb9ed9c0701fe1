package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ollama-openai-proxy/internal/config"
)

// Handlers groups the HTTP endpoints of the proxy.
type Handlers struct {
	cfg config.Config
	now func() time.Time
}

// New constructs Handlers bound to cfg.
func New(cfg config.Config) *Handlers {
	return &Handlers{cfg: cfg, now: time.Now}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status" example:"healthy"`
	Version     string `json:"version" example:"0.1.0"`
	Environment string `json:"environment" example:"development"`
	// RFC 3339, UTC
	Timestamp string `json:"timestamp" example:"2025-01-01T12:00:00.000000Z"`
}

// Health reports liveness with version and environment information.
//
// @ID          health
// @Summary     Health check
// @Description Returns service status, version and environment. Always carries X-Request-ID.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Header      200  {string}  X-Request-ID  "Correlation ID of the request"
// @Failure     500  {object}  apperr.Envelope  "Internal error"
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     h.cfg.AppVersion,
		Environment: h.cfg.Environment,
		Timestamp:   h.now().UTC().Format(time.RFC3339Nano),
	})
}
