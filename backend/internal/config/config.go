package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the order back office.
type Config struct {
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`
	Auth      Auth      `yaml:"auth"`
	Orders    Orders    `yaml:"orders"`
	MatchFeed MatchFeed `yaml:"matchfeed"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Storage selects and configures the order store.
type Storage struct {
	Driver        string `yaml:"driver"` // postgres | sqlite
	DatabaseURL   string `yaml:"database_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	RunMigrations bool   `yaml:"run_migrations"`
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// Orders tunes the lifecycle service.
type Orders struct {
	RetryMaxTries   uint          `yaml:"retry_max_tries"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
	ThrottlePerSec  float64       `yaml:"throttle_per_second"`
	ThrottleBurst   int           `yaml:"throttle_burst"`
}

// MatchFeed sizes the websocket hub queues.
type MatchFeed struct {
	Buffer       int `yaml:"buffer"`
	ClientBuffer int `yaml:"client_buffer"`
}

// Telemetry configures metric export. An empty endpoint disables export.
type Telemetry struct {
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	OTLPInsecure   bool          `yaml:"otlp_insecure"`
	ServiceName    string        `yaml:"service_name"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Storage: Storage{
			Driver:        DriverSQLite,
			SQLitePath:    "data/orders.db",
			RunMigrations: true,
		},
		Auth: Auth{Issuer: "tradekub"},
		Orders: Orders{
			RetryMaxTries:   5,
			RetryMaxElapsed: 2 * time.Second,
			ThrottlePerSec:  20,
			ThrottleBurst:   40,
		},
		MatchFeed: MatchFeed{Buffer: 1024, ClientBuffer: 256},
		Telemetry: Telemetry{ServiceName: "tradekub-backoffice", ExportInterval: 30 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets and endpoints bypass the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var problems []error

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, errors.New("storage.database_url is required for the postgres driver"))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			problems = append(problems, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		problems = append(problems, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if c.Server.Addr == "" {
		problems = append(problems, errors.New("server.addr is required"))
	}
	if c.Orders.RetryMaxTries == 0 {
		problems = append(problems, errors.New("orders.retry_max_tries must be positive"))
	}
	if c.Orders.RetryMaxElapsed <= 0 {
		problems = append(problems, errors.New("orders.retry_max_elapsed must be positive"))
	}
	if c.Orders.ThrottlePerSec <= 0 || c.Orders.ThrottleBurst <= 0 {
		problems = append(problems, errors.New("orders throttle rate and burst must be positive"))
	}
	if c.MatchFeed.Buffer <= 0 || c.MatchFeed.ClientBuffer <= 0 {
		problems = append(problems, errors.New("matchfeed buffers must be positive"))
	}
	if c.Telemetry.OTLPEndpoint != "" && c.Telemetry.ExportInterval <= 0 {
		problems = append(problems, errors.New("telemetry.export_interval must be positive"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}
