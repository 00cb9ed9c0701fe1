package httpapi

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
	"github.com/tbourn/ollama-openai-proxy/internal/config"
	"github.com/tbourn/ollama-openai-proxy/internal/http/handlers"
	"github.com/tbourn/ollama-openai-proxy/internal/http/middleware"
)

func testConfig() config.Config {
	return config.Config{
		AppName:        "Ollama OpenAI Proxy",
		AppVersion:     "0.1.0",
		Environment:    config.EnvProduction,
		MaxBodyBytes:   64,
		SwaggerEnabled: true,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	RegisterRoutes(r, cfg, zerolog.New(&buf))
	return r, &buf
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Health(t *testing.T) {
	r, buf := newRouter(t, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	var resp handlers.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "0.1.0" || resp.Environment != "production" || resp.Timestamp == "" {
		t.Fatalf("unexpected health: %+v", resp)
	}

	rid := w.Header().Get(middleware.RequestIDHeader)
	if _, err := uuid.Parse(rid); err != nil {
		t.Fatalf("X-Request-ID %q is not a UUID", rid)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %#v", w.Header())
	}
	if !strings.Contains(buf.String(), `"request_id":"`+rid+`"`) {
		t.Fatalf("logs not correlated:\n%s", buf.String())
	}
}

func TestRegisterRoutes_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	cases := []struct {
		method, path string
		status       int
		code, typ    string
	}{
		{http.MethodGet, "/nonexistent", http.StatusNotFound, "NOT_FOUND", "NotFoundException"},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "MethodNotAllowedException"},
	}
	for _, tc := range cases {
		w := serve(r, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.status {
			t.Fatalf("%s %s = %d", tc.method, tc.path, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v\n%s", err, w.Body.String())
		}
		if body["error_code"] != tc.code || body["error"] != tc.typ {
			t.Fatalf("%s %s body = %v", tc.method, tc.path, body)
		}
		if rid := w.Header().Get(middleware.RequestIDHeader); rid == "" || body["request_id"] != rid {
			t.Fatalf("request_id %v does not match header %q", body["request_id"], rid)
		}
	}
}

func TestRegisterRoutes_PanicsAreDispatched(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	r.GET("/panic-validation", func(c *gin.Context) {
		panic(apperr.Validation("Invalid request data", apperr.WithDetails(map[string]any{"field": "missing"})))
	})
	r.GET("/panic-plain", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic-validation", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("typed panic = %d; want 400\n%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["error"] != "ValidationException" || body["error_code"] != "VALIDATION_ERROR" || body["message"] != "Invalid request data" {
		t.Fatalf("body = %v", body)
	}
	if details, _ := body["details"].(map[string]any); details["field"] != "missing" {
		t.Fatalf("details = %v", body["details"])
	}
	if rid := w.Header().Get(middleware.RequestIDHeader); rid == "" || body["request_id"] != rid {
		t.Fatalf("request_id %v does not match header %q", body["request_id"], rid)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/panic-plain", nil))
	body = nil
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusInternalServerError || body["error_code"] != "INTERNAL_ERROR" || body["error"] != "PanicError" {
		t.Fatalf("plain panic = %d %v", w.Code, body)
	}
}

func TestRegisterRoutes_MetricsAndDocs(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	// Produce one error envelope so the counter has a series.
	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	for _, name := range []string{"http_requests_total", "proxy_errors_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Fatalf("metric %s not exposed", name)
		}
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /docs/index.html = %d", w.Code)
	}

	cfg := testConfig()
	cfg.SwaggerEnabled = false
	r, _ = newRouter(t, cfg)
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("docs must be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	t.Run("allow all in development", func(t *testing.T) {
		cfg := testConfig()
		cfg.Environment = config.EnvDevelopment
		cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
		r, _ := newRouter(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://other.example.com")
		w := serve(r, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("ACAO = %q; want *", got)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), middleware.RequestIDHeader) {
			t.Fatalf("X-Request-ID not exposed: %#v", w.Header())
		}
	})

	t.Run("allowlist outside development", func(t *testing.T) {
		cfg := testConfig()
		cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
		r, _ := newRouter(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(r, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("ACAO = %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = serve(r, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("disallowed origin = %d; want 403", w.Code)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Fatalf("rejected request still carries X-Request-ID")
		}
	})
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	cfg := testConfig()
	cfg.GzipEnabled = true
	r, _ := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %#v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if !strings.Contains(string(raw), `"healthy"`) {
		t.Fatalf("unexpected body %s", raw)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("compressed response lacks X-Request-ID")
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(8))
	r.Use(handlers.ErrorHandler())
	r.POST("/echo", func(c *gin.Context) {
		var v map[string]any
		if handlers.BindJSON(c, &v) {
			c.Status(http.StatusOK)
		}
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":"0123456789"}`))
	if w := serve(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d; want 413", w.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{}`))
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("small body = %d; want 200", w.Code)
	}
}
