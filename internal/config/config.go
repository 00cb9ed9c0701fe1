// Package config provides application configuration loaded from environment
// variables (optionally seeded from a .env file) with defaults and
// validation. Variables use the APP_ prefix; values are case-insensitive
// where they name an enumeration.
package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tbourn/ollama-openai-proxy/internal/apperr"
)

// Supported deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvStaging     = "staging"
)

// envPrefix is prepended to every application variable name.
const envPrefix = "APP_"

// DotEnvFile is the optional env file read by Load. Variables already set in
// the process environment take precedence over the file.
var DotEnvFile = ".env"

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Application metadata
	AppName     string
	AppVersion  string
	Environment string // development|production|staging

	// Server
	Host              string
	Port              int
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // 0 disables, required for long streams
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string   // DEBUG|INFO|WARNING|ERROR
	MaskHeaders    []string // extra request headers masked in logs
	SwaggerEnabled bool
	GzipEnabled    bool

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool { return c.Environment == EnvDevelopment }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment, applies defaults,
// normalizes values, and validates the result. Validation failures are
// returned as *apperr.Failure of kind Configuration.
func Load() (Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return Config{}, apperr.Configuration("cannot read "+DotEnvFile, apperr.WithCause(err))
	}

	cfg := Config{
		AppName:     getenv("APP_NAME", "Ollama OpenAI Proxy"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: strings.ToLower(strings.TrimSpace(firstEnv(envPrefix+"ENVIRONMENT", "ENVIRONMENT", EnvDevelopment))),

		Host:              getenv("HOST", "0.0.0.0"),
		Port:              getint("PORT", 11434),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 10<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToUpper(strings.TrimSpace(firstEnv(envPrefix+"LOG_LEVEL", "LOG_LEVEL", "INFO"))),
		MaskHeaders:    splitCSV(getenv("LOG_MASK_HEADERS", "X-API-Key")),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", true),
		GzipEnabled:    getbool("GZIP_ENABLED", false),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// OpenTelemetry keeps its standard, unprefixed variable names.
		OTEL: OTELConfig{
			Enabled:     rawbool("OTEL_ENABLED", false),
			Endpoint:    rawenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    rawbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: rawenv("OTEL_SERVICE_NAME", "ollama-openai-proxy"),
			SampleRatio: rawfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "WARN" {
		cfg.LogLevel = "WARNING"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, apperr.Configuration(err.Error(), apperr.WithCause(err))
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvStaging:
	default:
		return errors.New("ENVIRONMENT must be one of: development, production, staging")
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return errors.New("LOG_LEVEL must be one of: DEBUG, INFO, WARNING, ERROR")
	}
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("APP_NAME must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("PORT must be between 1 and 65535")
	}
	if c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if c.WriteTimeout < 0 {
		return errors.New("WRITE_TIMEOUT must be >= 0")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be > 0")
	}
	if c.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// loadDotEnv seeds the process environment from path without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ---- helpers ----

func getenv(k, def string) string { return rawenv(envPrefix+k, def) }

func getint(k string, def int) int {
	if v := rawenv(envPrefix+k, ""); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool { return rawbool(envPrefix+k, def) }

func getdur(k string, def time.Duration) time.Duration {
	if v := rawenv(envPrefix+k, ""); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func rawenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func rawfloat(k string, def float64) float64 {
	if v := rawenv(k, ""); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func rawbool(k string, def bool) bool {
	if v := rawenv(k, ""); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// firstEnv returns the first non-empty variable among keys, or def.
func firstEnv(primary, fallback, def string) string {
	return rawenv(primary, rawenv(fallback, def))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
