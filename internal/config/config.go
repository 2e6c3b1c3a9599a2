// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	defaultEnv           = "development"
	defaultHTTPHost      = "0.0.0.0"
	defaultHTTPPort      = 8080
	defaultSQLitePath    = "registry.db"
	defaultTakerFeeBps   = 0
	defaultMetricsSubsys = "liquidity_router"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env  string
	HTTP HTTPConfig

	// Postgres stores fill records; empty selects the in-memory store.
	PostgresDSN string

	// Clickhouse stores per-leg analytics; empty disables it.
	ClickhouseDSN string

	// SQLitePath is the adapter registry database file.
	SQLitePath string

	// AdminAddress gates registry mutation and fund recovery.
	AdminAddress string

	// RouterAccount and BookAccount are the service's ledger accounts.
	// Generated at startup when left empty.
	RouterAccount string
	BookAccount   string

	// TakerFeeBps is the book's taker fee in basis points.
	TakerFeeBps uint32

	MetricsNamespace string
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}

	feeBps, err := getInt("TAKER_FEE_BPS", defaultTakerFeeBps)
	if err != nil {
		return nil, fmt.Errorf("parse TAKER_FEE_BPS: %w", err)
	}
	if feeBps < 0 || feeBps >= 10_000 {
		return nil, fmt.Errorf("TAKER_FEE_BPS out of range: %d", feeBps)
	}

	admin := os.Getenv("ADMIN_ADDRESS")
	if admin == "" {
		return nil, fmt.Errorf("ADMIN_ADDRESS is required")
	}

	return &Config{
		Env: getString("APP_ENV", defaultEnv),
		HTTP: HTTPConfig{
			Host: getString("HTTP_HOST", defaultHTTPHost),
			Port: port,
		},
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		SQLitePath:       getString("SQLITE_PATH", defaultSQLitePath),
		AdminAddress:     admin,
		RouterAccount:    os.Getenv("ROUTER_ACCOUNT"),
		BookAccount:      os.Getenv("BOOK_ACCOUNT"),
		TakerFeeBps:      uint32(feeBps),
		MetricsNamespace: getString("METRICS_NAMESPACE", defaultMetricsSubsys),
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}
