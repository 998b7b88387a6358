// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `envPrefix:"SERVICE_"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	NATS      NATSConfig      `envPrefix:"NATS_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
}

type ServiceConfig struct {
	Name        string `env:"NAME" envDefault:"be-ops-approvals"`
	Version     string `env:"VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9090"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

type DatabaseConfig struct {
	Host        string        `env:"HOST" envDefault:"localhost"`
	Port        int           `env:"PORT" envDefault:"5432"`
	User        string        `env:"USER" envDefault:"postgres"`
	Password    string        `env:"PASSWORD"`
	Database    string        `env:"NAME" envDefault:"approvals"`
	SSLMode     string        `env:"SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnTime time.Duration `env:"MAX_CONN_TIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"MAX_IDLE_TIME" envDefault:"30m"`
	HealthCheck time.Duration `env:"HEALTH_CHECK" envDefault:"1m"`
	Migrate     bool          `env:"MIGRATE" envDefault:"true"`
}

type NATSConfig struct {
	URL     string `env:"URL"`
	Stream  string `env:"STREAM" envDefault:"NOTIFICATIONS"`
	Subject string `env:"SUBJECT_PREFIX" envDefault:"notifications.approvals"`
}

type TelemetryConfig struct {
	Endpoint string `env:"ENDPOINT"`
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
}

// StoreConfig selects the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Backend string `env:"BACKEND" envDefault:"postgres"`
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Server.Port == c.Server.GRPCPort {
		return fmt.Errorf("SERVER_PORT and SERVER_GRPC_PORT must differ (both %d)", c.Server.Port)
	}
	return nil
}

// DSN renders the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
