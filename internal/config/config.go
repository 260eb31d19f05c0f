package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	FrontendDir  string

	// NPMHost is the host:port of the Nginx Proxy Manager admin interface.
	// The API base URL is derived as http://<NPMHost>/api.
	NPMHost string

	// Optional service account used by the health daemon. When empty the
	// daemon falls back to the stream list last seen by a foreground request.
	ServiceEmail    string
	ServicePassword string

	// SessionSecret signs session tokens. Generated per process when unset,
	// which invalidates sessions across restarts.
	SessionSecret string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:     getEnv("NPMMETA_ENV", "development"),
		HTTPPort:        getEnv("NPMMETA_HTTP_PORT", "8080"),
		DatabasePath:    getEnv("NPMMETA_DB_PATH", filepath.Join("data", "npm_meta.db")),
		FrontendDir:     getEnv("NPMMETA_FRONTEND_DIR", filepath.Clean(filepath.Join("..", "frontend", "dist"))),
		NPMHost:         getEnv("NPM_HOST", "localhost:81"),
		ServiceEmail:    os.Getenv("NPM_SERVICE_EMAIL"),
		ServicePassword: os.Getenv("NPM_SERVICE_PASSWORD"),
		SessionSecret:   os.Getenv("NPMMETA_SESSION_SECRET"),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// NPMBaseURL returns the base URL of the NPM API.
func (c Config) NPMBaseURL() string {
	return fmt.Sprintf("http://%s/api", c.NPMHost)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}
