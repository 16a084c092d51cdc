package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Inspector InspectorConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
}

// ServerConfig holds panel HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	// CORSOrigins lists origins allowed to call the API; "*" allows all.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	// RateLimit bounds requests per second per client IP; zero disables it.
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"50"`
	RateBurst int     `envconfig:"RATE_BURST" default:"100"`
}

// GatewayConfig points at a Jupyter kernel gateway (or notebook server)
// whose kernels can be attached as sessions.
type GatewayConfig struct {
	URL     string `envconfig:"GATEWAY_URL" default:"http://localhost:8888"`
	Token   string `envconfig:"GATEWAY_TOKEN"`
	Enabled bool   `envconfig:"GATEWAY_ENABLED" default:"false"`
}

// InspectorConfig tunes inspection scheduling.
type InspectorConfig struct {
	// Interval between background inspections of the active handler; zero disables polling.
	Interval time.Duration `envconfig:"INSPECT_INTERVAL" default:"2s"`
	// Rate and Burst bound triggered inspections per second.
	Rate  float64 `envconfig:"INSPECT_RATE" default:"4"`
	Burst int     `envconfig:"INSPECT_BURST" default:"1"`
	// MatrixMaxRows caps rows returned by matrix queries.
	MatrixMaxRows int `envconfig:"MATRIX_MAX_ROWS" default:"100"`
	// ExecuteTimeout bounds a single execute round trip; zero waits forever.
	ExecuteTimeout time.Duration `envconfig:"EXECUTE_TIMEOUT" default:"0"`
}

// SandboxConfig configures the in-process interpreters.
type SandboxConfig struct {
	Timeout time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8700",
			Host:        "127.0.0.1",
			CORSOrigins: []string{"*"},
			RateLimit:   50,
			RateBurst:   100,
		},
		Gateway: GatewayConfig{
			URL: "http://localhost:8888",
		},
		Inspector: InspectorConfig{
			Interval:      2 * time.Second,
			Rate:          4,
			Burst:         1,
			MatrixMaxRows: 100,
		},
		Sandbox: SandboxConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Address returns host:port for the panel server.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}
