// Package config loads luam settings from a TOML file and LUAM_* environment
// variables.
//
// Precedence, lowest to highest: built-in defaults, the config file,
// environment variables, command-line flags (applied by the caller).
//
// Example file:
//
//	[resolver]
//	timeout = "30s"
//	concurrency = 8
//
//	[store]
//	kind = "file"
//	dir = "./registry"
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/luam/pkg/install"
	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/registry/mongo"
	"github.com/matzehuels/luam/pkg/registry/redis"
)

const appName = "luam"

// Store kinds.
const (
	StoreFile   = "file"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the full set of settings.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Resolver ResolverConfig `toml:"resolver"`
	Store    StoreConfig    `toml:"store"`
	Mongo    MongoConfig    `toml:"mongo"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

type ResolverConfig struct {
	Timeout       Duration `toml:"timeout"`
	Concurrency   int      `toml:"concurrency"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryDelay    Duration `toml:"retry_delay"`
}

// StoreConfig selects the backend. With kind "mongo" metadata comes from
// MongoDB and payloads from Redis.
type StoreConfig struct {
	Kind string `toml:"kind"`
	Dir  string `toml:"dir"`
}

type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Resolver: ResolverConfig{
			Timeout:       Duration(install.DefaultTimeout),
			Concurrency:   install.DefaultConcurrency,
			RetryAttempts: registry.DefaultRetryAttempts,
			RetryDelay:    Duration(registry.DefaultRetryDelay),
		},
		Store: StoreConfig{Kind: StoreFile, Dir: "registry"},
		Mongo: MongoConfig{Database: mongo.DefaultDatabase, Collection: mongo.DefaultCollection},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: redis.DefaultPrefix},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(install.DefaultTimeout + 10*time.Second),
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/luam/config.toml, falling back to
// ~/.config/luam/config.toml.
func DefaultPath() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// Load builds the effective configuration. An explicit path must exist; when
// path is empty the default location is read if present.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !explicit && os.IsNotExist(err) {
				err = nil
			} else {
				return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from LUAM_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LUAM_LOG_LEVEL":        &c.Log.Level,
		"LUAM_STORE_KIND":       &c.Store.Kind,
		"LUAM_STORE_DIR":        &c.Store.Dir,
		"LUAM_MONGO_URI":        &c.Mongo.URI,
		"LUAM_MONGO_DATABASE":   &c.Mongo.Database,
		"LUAM_MONGO_COLLECTION": &c.Mongo.Collection,
		"LUAM_REDIS_ADDR":       &c.Redis.Addr,
		"LUAM_REDIS_PASSWORD":   &c.Redis.Password,
		"LUAM_REDIS_PREFIX":     &c.Redis.Prefix,
		"LUAM_SERVER_ADDR":      &c.Server.Addr,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LUAM_REDIS_DB":                &c.Redis.DB,
		"LUAM_RESOLVER_CONCURRENCY":    &c.Resolver.Concurrency,
		"LUAM_RESOLVER_RETRY_ATTEMPTS": &c.Resolver.RetryAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"LUAM_RESOLVER_TIMEOUT":     &c.Resolver.Timeout,
		"LUAM_RESOLVER_RETRY_DELAY": &c.Resolver.RetryDelay,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			if err := dst.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Kind {
	case StoreFile:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return fmt.Errorf("store.dir is required for the file store")
		}
	case StoreMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo store")
		}
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required for the mongo store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store.kind %q (want file, mongo or memory)", c.Store.Kind)
	}
	if c.Resolver.Timeout < 0 || c.Resolver.Concurrency < 0 || c.Resolver.RetryAttempts < 0 {
		return fmt.Errorf("resolver settings must not be negative")
	}
	return nil
}

// InstallOptions converts the resolver section. The logger is left for the
// caller to set.
func (c Config) InstallOptions() install.Options {
	return install.Options{
		Timeout:     time.Duration(c.Resolver.Timeout),
		Concurrency: c.Resolver.Concurrency,
		Retry: registry.RetryPolicy{
			Attempts: c.Resolver.RetryAttempts,
			Delay:    time.Duration(c.Resolver.RetryDelay),
		},
	}
}

// MongoOptions converts the mongo section.
func (c Config) MongoOptions() mongo.Options {
	return mongo.Options{URI: c.Mongo.URI, Database: c.Mongo.Database, Collection: c.Mongo.Collection}
}

// RedisOptions converts the redis section.
func (c Config) RedisOptions() redis.Options {
	return redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB, Prefix: c.Redis.Prefix}
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	if c.Mongo.URI != "" {
		c.Mongo.URI = redactURI(c.Mongo.URI)
	}
	return c
}

// redactURI masks the password of a user:pass@host connection string.
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return uri
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return uri
	}
	return scheme + "://" + user + ":***@" + host
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
