// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Lavalink LavalinkConfig `yaml:"lavalink"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DiscordConfig represents Discord gateway configuration.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// LavalinkConfig represents the audio engine node configuration.
type LavalinkConfig struct {
	Address  string `yaml:"address" default:"localhost:2333"`
	Password string `yaml:"password" validate:"required"`
	NodeID   string `yaml:"node_id" default:"main"`
	Secure   bool   `yaml:"secure"`
}

// DatabaseConfig represents the MySQL settings store configuration.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // Empty disables the MySQL store
}

// RedisConfig represents the fallback settings store configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // Empty disables Redis
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0"`
}

// APIConfig represents the dashboard API configuration.
type APIConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// SessionConfig tunes the per-guild session behavior.
type SessionConfig struct {
	IdleWarn1MinSec   int `yaml:"idle_warn_1min_sec" default:"240" validate:"gt=0"`
	IdleWarn30SecSec  int `yaml:"idle_warn_30sec_sec" default:"270" validate:"gt=0"`
	IdleDisconnectSec int `yaml:"idle_disconnect_sec" default:"300" validate:"gt=0"`
	QueueEndGraceSec  int `yaml:"queue_end_grace_sec" default:"30" validate:"gt=0"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("LAVALINK_ADDRESS"); v != "" {
		c.Lavalink.Address = v
	}
	if v := os.Getenv("LAVALINK_PASSWORD"); v != "" {
		c.Lavalink.Password = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Session.IdleWarn1MinSec >= c.Session.IdleWarn30SecSec ||
		c.Session.IdleWarn30SecSec >= c.Session.IdleDisconnectSec {
		return errors.New("idle stages must be strictly increasing")
	}
	return nil
}
