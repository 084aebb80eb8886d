// Package config loads eventing-admin settings. Sources are merged in order,
// later ones winning: built-in defaults, an optional YAML file, then
// environment variables prefixed with EVENTING_ (EVENTING_DATABASE_HOST sets
// database.host).
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	mysqladapter "github.com/coregx/eventing/adapters/mysql"
	"github.com/coregx/eventing/model"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EVENTING_"

// Config holds all configuration for eventing-admin.
type Config struct {
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Janitor       JanitorConfig       `koanf:"janitor"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// DatabaseConfig holds database connection configuration.
// A non-empty DSN is used as is (mysql DSNs still get the required
// parameters); otherwise one is built from the other fields.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"` // sqlite3, mysql, postgres
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"` // database name, or file path for sqlite3
	Prefix   string `koanf:"prefix"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// JanitorConfig holds maintenance settings.
type JanitorConfig struct {
	Interval  time.Duration `koanf:"interval"`
	Retention time.Duration `koanf:"retention"`
	Batch     int           `koanf:"batch"`
}

// NotificationsConfig toggles logging of delivery problems.
type NotificationsConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.driver": "sqlite3",
		"database.host":   "localhost",
		"database.port":   0,
		"database.user":   "eventing",
		"database.name":   "eventing.db",
		"database.prefix": model.DefaultTablePrefix,

		"log.level": "info",

		"janitor.interval":  "1m",
		"janitor.retention": "168h",
		"janitor.batch":     500,

		"notifications.enabled": true,
	}
}

// Load merges defaults, the YAML file at path (skipped when path is empty)
// and EVENTING_ environment variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	transform := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("config: loading env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultPort(cfg.Database.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaultPort(driver string) int {
	switch driver {
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	default:
		return 0
	}
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Database),
		validation.Field(&c.Log),
		validation.Field(&c.Janitor),
	)
}

// Validate implements validation.Validatable.
func (c DatabaseConfig) Validate() error {
	server := c.Driver != "sqlite3" && c.DSN == ""
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In("sqlite3", "mysql", "postgres")),
		validation.Field(&c.Name, validation.When(c.DSN == "", validation.Required)),
		validation.Field(&c.Host, validation.When(server, validation.Required)),
		validation.Field(&c.Port, validation.When(server, validation.Required, validation.Min(1), validation.Max(65535))),
		validation.Field(&c.Prefix, validation.Length(0, 32)),
	)
}

// Validate implements validation.Validatable.
func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// Validate implements validation.Validatable.
func (c JanitorConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Retention, validation.Min(time.Duration(0))),
		validation.Field(&c.Batch, validation.Required, validation.Min(1)),
	)
}

// GetDSN returns the database connection string for the configured driver.
func (c *DatabaseConfig) GetDSN() (string, error) {
	switch c.Driver {
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", c.User, c.Password, c.Host, c.Port, c.Name)
		}
		return mysqladapter.Config(dsn)
	case "postgres":
		if c.DSN != "" {
			return c.DSN, nil
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Name), nil
	case "sqlite3":
		if c.DSN != "" {
			return c.DSN, nil
		}
		return c.Name + "?_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}
