package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/catalog-etl/internal/extract"
	"github.com/vietddude/catalog-etl/internal/infra/storage/postgres"
	"github.com/vietddude/catalog-etl/internal/ingestion/recovery"
)

var (
	sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	xmlName       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:-]*$`)
)

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	var cfg AppConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	setString(&cfg.Source.Path, "XML_PATH")
	setString(&cfg.Source.ProductTag, "PRODUCT_TAG_NAME")
	setString(&cfg.Source.CategoryTag, "CATEGORY_TAG_NAME")
	setString(&cfg.Source.CategoryContainerTag, "CATEGORY_MAIN_TAG_NAME")
	setString(&cfg.Sink.Table, "PRODUCT_TABLE_NAME")
	setString(&cfg.Sink.Schema, "SCHEMA_CONTENT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNK_SIZE %q: %w", v, err)
		}
		cfg.Source.ChunkSize = n
	}
	if v := os.Getenv("SLEEP_TIME"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SLEEP_TIME %q: %w", v, err)
		}
		cfg.Loop.Interval = time.Duration(secs * float64(time.Second))
	}

	if cfg.Database.URL == "" && os.Getenv("POSTGRES_HOST") != "" {
		cfg.Database.URL = postgresURL()
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// postgresURL composes a DSN from the POSTGRES_* variables.
func postgresURL() string {
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   net.JoinHostPort(os.Getenv("POSTGRES_HOST"), port),
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	return u.String()
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Source.Path == "" {
		cfg.Source.Path = "data.xml"
	}
	if cfg.Source.ProductTag == "" {
		cfg.Source.ProductTag = "offer"
	}
	if cfg.Source.CategoryContainerTag == "" {
		cfg.Source.CategoryContainerTag = "categories"
	}
	if cfg.Source.CategoryTag == "" {
		cfg.Source.CategoryTag = "category"
	}
	if cfg.Source.ChunkSize == 0 {
		cfg.Source.ChunkSize = 100
	}
	if cfg.Source.PathSeparator == "" {
		cfg.Source.PathSeparator = extract.DefaultPathSeparator
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = postgres.DriverPgx
	}
	if cfg.Sink.Schema == "" {
		cfg.Sink.Schema = "public"
		if cfg.Database.Driver == postgres.DriverSQLite {
			cfg.Sink.Schema = "main"
		}
	}
	if cfg.Sink.Table == "" {
		cfg.Sink.Table = "sku"
	}

	if cfg.Loop.Interval == 0 {
		cfg.Loop.Interval = 2 * time.Second
	}
	def := recovery.DefaultBackoff()
	if cfg.Loop.Backoff.Initial == 0 {
		cfg.Loop.Backoff.Initial = def.Initial
	}
	if cfg.Loop.Backoff.Factor == 0 {
		cfg.Loop.Backoff.Factor = def.Factor
	}
	if cfg.Loop.Backoff.Cap == 0 {
		cfg.Loop.Backoff.Cap = def.Cap
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports the first configuration problem found.
func (c *AppConfig) Validate() error {
	if c.Source.Path == "" {
		return errors.New("source.path is empty")
	}
	for name, tag := range map[string]string{
		"product_tag":            c.Source.ProductTag,
		"category_container_tag": c.Source.CategoryContainerTag,
		"category_tag":           c.Source.CategoryTag,
	} {
		if !xmlName.MatchString(tag) {
			return fmt.Errorf("source.%s %q is not a valid element name", name, tag)
		}
	}
	if c.Source.ChunkSize <= 0 {
		return fmt.Errorf("source.chunk_size must be positive, got %d", c.Source.ChunkSize)
	}
	if !sqlIdentifier.MatchString(c.Sink.Schema) {
		return fmt.Errorf("sink.schema %q is not a valid identifier", c.Sink.Schema)
	}
	if !sqlIdentifier.MatchString(c.Sink.Table) {
		return fmt.Errorf("sink.table %q is not a valid identifier", c.Sink.Table)
	}

	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be positive, got %s", c.Loop.Interval)
	}
	b := c.Loop.Backoff
	if b.Initial <= 0 {
		return fmt.Errorf("loop.backoff.initial must be positive, got %s", b.Initial)
	}
	if b.Factor <= 0 {
		return fmt.Errorf("loop.backoff.factor must be positive, got %g", b.Factor)
	}
	if b.Cap < b.Initial {
		return fmt.Errorf("loop.backoff.cap %s is below initial %s", b.Cap, b.Initial)
	}

	if !c.DryRun() {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		// SQLite only knows the main and temp schemas unless others are attached.
		if c.Database.Driver == postgres.DriverSQLite && c.Sink.Schema != "main" && c.Sink.Schema != "temp" {
			return fmt.Errorf("sink.schema %q does not exist in sqlite, use main", c.Sink.Schema)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}
