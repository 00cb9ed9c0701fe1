package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ollama-openai-proxy/internal/config"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(config.Config{AppVersion: "0.1.0", Environment: "staging"})
	h.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600)) }

	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	want := HealthResponse{Status: "healthy", Version: "0.1.0", Environment: "staging", Timestamp: "2025-03-04T04:06:07Z"}
	if resp != want {
		t.Fatalf("got %+v; want %+v", resp, want)
	}
}
