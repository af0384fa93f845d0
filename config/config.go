/*
Package config loads runtime settings with viper.

SOURCES (later wins):
  1. defaults below
  2. optional config file (yaml, json, toml or .env; chosen by extension)
  3. environment, prefixed POINTS_ with dots as underscores:
       store.backend -> POINTS_STORE_BACKEND

EXAMPLE points.yaml:
  store:
    backend: rest
    rest:
      url: https://my-db.firebasedatabase.app
  session:
    backend: redis
    redis_url: redis://localhost:6379/0
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Session SessionConfig `mapstructure:"session"`
	Points  PointsConfig  `mapstructure:"points"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Backend string       `mapstructure:"backend"`
	REST    RESTConfig   `mapstructure:"rest"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Mongo   MongoConfig  `mapstructure:"mongo"`
}

type RESTConfig struct {
	URL     string        `mapstructure:"url"`
	Auth    string        `mapstructure:"auth"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type SessionConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisURL  string        `mapstructure:"redis_url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	File      string        `mapstructure:"file"`
}

type PointsConfig struct {
	Default      int64 `mapstructure:"default"`
	StickerAward int64 `mapstructure:"sticker_award"`
}

type AuthConfig struct {
	Credentials string `mapstructure:"credentials"`
}

const (
	StoreREST   = "rest"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	SessionRedis  = "redis"
	SessionMemory = "memory"
	SessionFile   = "file"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.rest.url", "")
	v.SetDefault("store.rest.auth", "")
	v.SetDefault("store.rest.timeout", time.Duration(0))
	v.SetDefault("store.sqlite.path", "./points.db")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "points")
	v.SetDefault("session.backend", SessionMemory)
	v.SetDefault("session.redis_url", "redis://localhost:6379/0")
	v.SetDefault("session.key_prefix", "points:session:")
	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.file", defaultSessionFile())
	v.SetDefault("points.default", 50)
	v.SetDefault("points.sticker_award", 10)
	v.SetDefault("auth.credentials", "plaintext")
}

// Load reads defaults, then path (if non-empty), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and settings a backend needs but lacks.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreREST:
		if strings.TrimSpace(c.Store.REST.URL) == "" {
			return fmt.Errorf("store.rest.url is required for the rest backend")
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case StoreMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return fmt.Errorf("store.mongo.uri and store.mongo.database are required for the mongo backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Session.Backend {
	case SessionRedis, SessionMemory, SessionFile:
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}

	switch strings.ToLower(c.Auth.Credentials) {
	case "plaintext", "bcrypt":
	default:
		return fmt.Errorf("unknown auth.credentials %q", c.Auth.Credentials)
	}

	if c.Points.Default <= 0 {
		return fmt.Errorf("points.default must be positive, got %d", c.Points.Default)
	}
	if c.Points.StickerAward <= 0 {
		return fmt.Errorf("points.sticker_award must be positive, got %d", c.Points.StickerAward)
	}
	return nil
}
