package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr          string `yaml:"addr"`
	AllowedOrigin string `yaml:"allowedOrigin"`
	PublicURL     string `yaml:"publicURL"`
	StaticDir     string `yaml:"staticDir"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type Reaper struct {
	TTL      time.Duration `yaml:"ttl"`
	Schedule string        `yaml:"schedule"`
}

type Replay struct {
	Size int `yaml:"size"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // climbsync
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Reaper   Reaper   `yaml:"reaper"`
	Replay   Replay   `yaml:"replay"`
	Logging  Logging  `yaml:"logging"`
}

// Load reads .env, then the YAML file at CONFIG_PATH (the default path may
// be absent), then environment overrides, and finally fills defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString("LISTEN_ADDR", &c.HTTP.Addr)
	envString("ALLOWED_ORIGIN", &c.HTTP.AllowedOrigin)
	envString("PUBLIC_URL", &c.HTTP.PublicURL)
	envString("STATIC_DIR", &c.HTTP.StaticDir)
	envString("DATABASE_URL", &c.Postgres.DSN)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envString("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)
	envString("REAP_SCHEDULE", &c.Reaper.Schedule)
	envString("APP_ENV", &c.Logging.Env)
	envString("LOG_BACKEND", &c.Logging.Backend)

	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v := strings.TrimSpace(os.Getenv("REPLAY_BUFFER")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REPLAY_BUFFER: %w", err)
		}
		c.Replay.Size = n
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROOM_TTL: %w", err)
		}
		c.Reaper.TTL = d
	}
	if v := strings.TrimSpace(os.Getenv("LOG_DEBUG")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_DEBUG: %w", err)
		}
		c.Logging.Debug = b
	}
	return nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.PublicURL == "" {
		c.HTTP.PublicURL = "https://boardsesh.com"
	}
	if c.HTTP.StaticDir == "" {
		c.HTTP.StaticDir = "web"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "cs:"
	}
	if c.Reaper.TTL == 0 {
		c.Reaper.TTL = 24 * time.Hour
	}
	if c.Reaper.Schedule == "" {
		c.Reaper.Schedule = "@every 1h"
	}
	if c.Replay.Size == 0 {
		c.Replay.Size = 100
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "climbsync"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.Reaper.TTL < 0 {
		return errors.New("reaper.ttl must be positive")
	}
	if c.Replay.Size < 0 {
		return errors.New("replay.size must be positive")
	}
	if c.Logging.Backend != "std" && c.Logging.Backend != "zap" {
		return fmt.Errorf("logging.backend must be std or zap, got %q", c.Logging.Backend)
	}
	return nil
}
