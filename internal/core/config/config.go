package config

import (
	"time"

	redisclient "github.com/vietddude/catalog-etl/internal/infra/redis"
	"github.com/vietddude/catalog-etl/internal/infra/storage/postgres"
	"github.com/vietddude/catalog-etl/internal/ingestion/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Source   SourceConfig       `yaml:"source"`
	Sink     SinkConfig         `yaml:"sink"`
	Loop     LoopConfig         `yaml:"loop"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// SourceConfig describes where the catalog lives and how it is tagged.
type SourceConfig struct {
	Path                 string `yaml:"path"`
	ProductTag           string `yaml:"product_tag"`
	CategoryContainerTag string `yaml:"category_container_tag"`
	CategoryTag          string `yaml:"category_tag"`
	ChunkSize            int    `yaml:"chunk_size"`
	PathSeparator        string `yaml:"path_separator"`
}

// SinkConfig names the target table.
type SinkConfig struct {
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
}

// LoopConfig holds cycle cadence and retry settings.
type LoopConfig struct {
	Interval time.Duration    `yaml:"interval"`
	Backoff  recovery.Backoff `yaml:"backoff"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Disabled         bool          `yaml:"disabled"`
	Port             int           `yaml:"port"`
	FailureThreshold int           `yaml:"failure_threshold"`
	StaleAfter       time.Duration `yaml:"stale_after"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DryRun reports whether batches go to the in-memory sink.
func (c *AppConfig) DryRun() bool {
	return c.Database.URL == ""
}
