// Package config provides node configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/umicp/pkg/payload"
)

const logPrefix = "config:LoadConfig"

// Config holds umicp-node configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	// NodeID is the envelope address this node answers to (subject umicp.node.<id>).
	NodeID string `envconfig:"NODE_ID" default:"umicp-node"`
	// QueueGroup load-balances a node id across replicas. Empty subscribes every replica.
	QueueGroup  string `envconfig:"QUEUE_GROUP"`
	EventFanout bool   `envconfig:"EVENT_FANOUT" default:"false"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Schema bootstrap (empty = config/schemas.yaml, config/schemas.json, then built-in)
	SchemaBootstrapFile string `envconfig:"SCHEMA_BOOTSTRAP_FILE"`

	// Database. Empty DatabaseURL disables the envelope journal and schema persistence.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Payload handling
	Compression          string `envconfig:"COMPRESSION" default:"none"`
	CompressionThreshold int    `envconfig:"COMPRESSION_THRESHOLD" default:"1024"`
	// MaxPayloadSize of 0 uses the NATS server limit.
	MaxPayloadSize    int `envconfig:"MAX_PAYLOAD_SIZE" default:"0"`
	ParallelThreshold int `envconfig:"PARALLEL_THRESHOLD" default:"10000"`
	// KernelMaxWork caps multiply-adds per matrix_multiply request.
	KernelMaxWork int `envconfig:"KERNEL_MAX_WORK" default:"1073741824"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// JournalEnabled reports whether a database is configured.
func (c *Config) JournalEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// CompressionAlgorithm parses Compression.
func (c *Config) CompressionAlgorithm() (payload.Algorithm, error) {
	return payload.ParseAlgorithm(c.Compression)
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateForServe checks required config when running the node.
func (c *Config) ValidateForServe() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("%s - NODE_ID is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if _, err := c.CompressionAlgorithm(); err != nil {
		return fmt.Errorf("%s - COMPRESSION: %w", logPrefix, err)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("%s - COMPRESSION_THRESHOLD must not be negative", logPrefix)
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("%s - MAX_PAYLOAD_SIZE must not be negative", logPrefix)
	}
	if c.KernelMaxWork < 0 {
		return fmt.Errorf("%s - KERNEL_MAX_WORK must not be negative", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if !c.JournalEnabled() {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
