package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesink/internal/batch"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/pipeline"
	"github.com/srg/blesink/internal/storage"
	"github.com/srg/blesink/scanner"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the YAML file.
const (
	EnvPrefix      = "BLESINK_"
	EnvDatabaseURL = "DATABASE_URL"
	EnvRuuviTags   = "RUUVI_TAGS"
)

// DotEnvFiles are loaded by Load when present. Variables already set in the
// environment win over the files.
var DotEnvFiles = []string{".env"}

// Config holds application configuration
type Config struct {
	Log      LogConfig         `yaml:"log"`
	Scanner  scanner.Options   `yaml:"scanner"`
	Sensors  map[string]string `yaml:"sensors"` // address -> display name
	Registry RegistryConfig    `yaml:"registry"`
	Batch    batch.Config      `yaml:"batch"`
	Database storage.Config    `yaml:"database"`
	Pipeline pipeline.Config   `yaml:"pipeline"`
}

// LogConfig controls the logger built by NewLogger. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"text"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	Compress   bool   `yaml:"compress" default:"true"`
}

// RegistryConfig selects where device records live. An empty Path keeps them in
// memory for the lifetime of the process.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (skipped when
// path is empty), .env files and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadDotEnv() error {
	for _, f := range DotEnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str(EnvPrefix+"LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"LOG_FORMAT", &c.Log.Format)
	str(EnvPrefix+"LOG_FILE", &c.Log.File)

	if v, ok := os.LookupEnv(EnvPrefix + "ADAPTER"); ok && v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sADAPTER: %w", EnvPrefix, err))
		} else {
			c.Scanner.AdapterID = id
		}
	}

	str(EnvDatabaseURL, &c.Database.Postgres.URL)
	str(EnvPrefix+"DATABASE_URL", &c.Database.Postgres.URL)
	str(EnvPrefix+"DATABASE_DRIVER", &c.Database.Driver)
	str(EnvPrefix+"DATABASE_CA_FILE", &c.Database.Postgres.TLS.CAFile)
	str(EnvPrefix+"SQLITE_PATH", &c.Database.SQLitePath)
	boolean(EnvPrefix+"DATABASE_ALLOW_INSECURE", &c.Database.Postgres.AllowInsecure)
	str(EnvPrefix+"REGISTRY_PATH", &c.Registry.Path)

	if v, ok := os.LookupEnv(EnvRuuviTags); ok && v != "" {
		tags, err := ParseTagList(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRuuviTags, err))
		}
		if c.Sensors == nil {
			c.Sensors = make(map[string]string, len(tags))
		}
		for addr, name := range tags {
			c.Sensors[addr] = name
		}
	}

	return errors.Join(errs...)
}

// ParseTagList parses "MAC=Name,MAC=Name". A bare MAC gets an empty name.
func ParseTagList(s string) (map[string]string, error) {
	out := make(map[string]string)
	var errs []error
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		mac, name, _ := strings.Cut(item, "=")
		addr, err := model.ParseAddress(mac)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[addr.String()] = strings.TrimSpace(name)
	}
	return out, errors.Join(errs...)
}

// Validate reports every problem at once. Database settings are checked separately
// by ValidateDatabase because only the run command needs them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Scanner.AdapterID < 0 {
		add("scanner.adapter_id must not be negative")
	}
	if _, err := c.SensorNames(); err != nil {
		add("sensors: %w", err)
	}

	if c.Batch.MaxSize <= 0 {
		add("batch.max_size must be positive")
	}
	if c.Batch.MaxAge <= 0 {
		add("batch.max_age must be positive")
	}
	if c.Batch.MaxPending <= 0 {
		add("batch.max_pending must be positive")
	}

	if r := c.Scanner.Recovery; r.Max > 0 && r.Initial > r.Max {
		add("scanner.recovery.initial (%s) exceeds max (%s)", r.Initial, r.Max)
	}

	if c.Pipeline.ShutdownTimeout <= 0 {
		add("pipeline.shutdown_timeout must be positive")
	}

	return errors.Join(errs...)
}

// ValidateDatabase checks the storage settings.
func (c *Config) ValidateDatabase() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Database.Driver {
	case storage.DriverPostgres:
		if c.Database.Postgres.URL == "" {
			add("database.url is required for the %s driver (or set %s)", storage.DriverPostgres, EnvDatabaseURL)
		}
	case storage.DriverSQLite:
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path is required for the %s driver", storage.DriverSQLite)
		}
	default:
		add("database.driver: %w: %q", storage.ErrUnknownDriver, c.Database.Driver)
	}
	if r := c.Database.Retry; r.Max > 0 && r.Initial > r.Max {
		add("database.retry.initial (%s) exceeds max (%s)", r.Initial, r.Max)
	}

	return errors.Join(errs...)
}

// SensorNames returns the configured display names keyed by address.
func (c *Config) SensorNames() (map[model.Address]string, error) {
	names := make(map[model.Address]string, len(c.Sensors))
	var errs []error
	for raw, name := range c.Sensors {
		addr, err := model.ParseAddress(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names[addr] = name
	}
	return names, errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch c.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if c.Log.File != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    c.Log.MaxSizeMB,
			MaxAge:     c.Log.MaxAgeDays,
			MaxBackups: c.Log.MaxBackups,
			Compress:   c.Log.Compress,
		})
	}

	return logger, nil
}
