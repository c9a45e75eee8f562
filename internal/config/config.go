// Package config provides configuration management for the screening service:
// the application configuration (server, warehouse, caches, output) and the
// per-study criteria documents.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stroke-trial-screener/internal/domain"
)

// Manager implements application configuration loading using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/stroke-trial-screener/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("SCREENER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls_enabled", false)

	// Admissions warehouse defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "admissions_warehouse")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// API response cache defaults
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "10m")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// External model-score service defaults
	viper.SetDefault("score_service.enabled", false)
	viper.SetDefault("score_service.base_url", "http://localhost:9000")
	viper.SetDefault("score_service.timeout", "30s")
	viper.SetDefault("score_service.rate_limit", 10)
	viper.SetDefault("score_service.redis_url", "redis://localhost:6379/1")
	viper.SetDefault("score_service.cache_ttl", "24h")
	viper.SetDefault("score_service.memory_size", 10000)

	// Results store defaults
	viper.SetDefault("results.backend", "sqlite")
	viper.SetDefault("results.sqlite_path", "./data/screener.db")
	viper.SetDefault("results.postgres_url", "")
	viper.SetDefault("results.migrations_path", "./migrations")

	// Output defaults
	viper.SetDefault("output.dir", "./output")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDatabaseConfig returns the admissions-warehouse configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetResultsConfig returns the results-store configuration
func (m *Manager) GetResultsConfig() *domain.ResultsConfig {
	return &m.config.Results
}

// GetScoreServiceConfig returns the model-score service configuration
func (m *Manager) GetScoreServiceConfig() *domain.ScoreServiceConfig {
	return &m.config.ScoreService
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate results store configuration
	switch config.Results.Backend {
	case "sqlite":
		if config.Results.SQLitePath == "" {
			return fmt.Errorf("results sqlite path is required")
		}
	case "postgres":
		if config.Results.PostgresURL == "" {
			return fmt.Errorf("results postgres URL is required")
		}
	default:
		return fmt.Errorf("invalid results backend: %s", config.Results.Backend)
	}

	// Validate score service configuration
	if config.ScoreService.Enabled && config.ScoreService.BaseURL == "" {
		return fmt.Errorf("score service base URL is required when enabled")
	}

	// Validate output configuration
	if config.Output.Dir == "" {
		return fmt.Errorf("output directory is required")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted warehouse connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
