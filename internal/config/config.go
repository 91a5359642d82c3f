// Package config loads process configuration from YAML, environment and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FIFO_STORAGE_DRIVER.
const EnvPrefix = "FIFO"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is an immutable snapshot of the process configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Recompute  RecomputeConfig  `mapstructure:"recompute"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`

	// Revision is set by Manager and increases on every successful reload.
	Revision int64 `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type StorageConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=memory postgres sqlite"`
	PostgresDSN  string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
	SQLitePath   string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	FixturesFile string `mapstructure:"fixtures_file"`
}

// ClickHouseConfig enables P&L snapshot history when DSN is set.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig enables run notifications when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" validate:"required"`
	ListKey  string `mapstructure:"list_key" validate:"required"`
	ListMax  int64  `mapstructure:"list_max" validate:"gte=1"`
}

type RecomputeConfig struct {
	DefaultVersion int           `mapstructure:"default_version" validate:"gte=1"`
	StaleAfter     time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
}

type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	IncrementalInterval time.Duration `mapstructure:"incremental_interval" validate:"gt=0"`
	IncrementalLookback time.Duration `mapstructure:"incremental_lookback" validate:"gt=0"`
	FullInterval        time.Duration `mapstructure:"full_interval" validate:"gt=0"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"storage-driver": "storage.driver",
	"postgres-dsn":   "storage.postgres_dsn",
	"sqlite-path":    "storage.sqlite_path",
	"fixtures":       "storage.fixtures_file",
	"concurrency":    "recompute.concurrency",
	"addr":           "server.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.fixtures_file", "")

	v.SetDefault("clickhouse.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "fifo:runs")
	v.SetDefault("redis.list_key", "fifo:runs:recent")
	v.SetDefault("redis.list_max", 500)

	v.SetDefault("recompute.default_version", 1)
	v.SetDefault("recompute.stale_after", 15*time.Minute)
	v.SetDefault("recompute.concurrency", 4)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.incremental_interval", time.Minute)
	v.SetDefault("scheduler.incremental_lookback", 10*time.Minute)
	v.SetDefault("scheduler.full_interval", 24*time.Hour)

	v.SetDefault("server.addr", ":8080")
}

// Load reads configuration from path (optional), FIFO_* environment
// variables and any known flags present in flags (optional), in increasing
// order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and returns a readable error listing
// every failing field.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
