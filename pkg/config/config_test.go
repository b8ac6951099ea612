package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[resolver]
timeout = "5s"
concurrency = 2
retry_delay = "50ms"

[store]
kind = "mongo"

[mongo]
uri = "mongodb://localhost:27017"

[redis]
addr = "cache:6379"
db = 3
`)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if time.Duration(cfg.Resolver.Timeout) != 5*time.Second || cfg.Resolver.Concurrency != 2 {
		t.Errorf("resolver = %+v", cfg.Resolver)
	}
	if cfg.Resolver.RetryAttempts != Default().Resolver.RetryAttempts {
		t.Errorf("unset retry_attempts lost its default: %d", cfg.Resolver.RetryAttempts)
	}
	if cfg.Store.Kind != StoreMongo || cfg.Redis.Addr != "cache:6379" || cfg.Redis.DB != 3 {
		t.Errorf("cfg = %+v", cfg)
	}

	opts := cfg.InstallOptions()
	if opts.Timeout != 5*time.Second || opts.Retry.Delay != 50*time.Millisecond {
		t.Errorf("InstallOptions() = %+v", opts)
	}
	if cfg.MongoOptions().Database != "luam" {
		t.Errorf("MongoOptions() = %+v", cfg.MongoOptions())
	}
}

func TestLoadMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() of a missing explicit path should fail")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Store.Kind != StoreFile {
		t.Errorf("default store kind = %q", cfg.Store.Kind)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LUAM_STORE_KIND":           "memory",
		"LUAM_REDIS_DB":             "7",
		"LUAM_RESOLVER_TIMEOUT":     "1m",
		"LUAM_RESOLVER_CONCURRENCY": " 4 ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.Store.Kind != StoreMemory || cfg.Redis.DB != 7 || cfg.Resolver.Concurrency != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.Resolver.Timeout) != time.Minute {
		t.Errorf("timeout = %v", time.Duration(cfg.Resolver.Timeout))
	}

	env["LUAM_REDIS_DB"] = "seven"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("ApplyEnv() accepted a non-numeric LUAM_REDIS_DB")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown kind", func(c *Config) { c.Store.Kind = "s3" }, true},
		{"file without dir", func(c *Config) { c.Store.Dir = " " }, true},
		{"mongo without uri", func(c *Config) { c.Store.Kind = StoreMongo }, true},
		{"mongo without redis", func(c *Config) {
			c.Store.Kind = StoreMongo
			c.Mongo.URI = "mongodb://x"
			c.Redis.Addr = ""
		}, true},
		{"negative concurrency", func(c *Config) { c.Resolver.Concurrency = -1 }, true},
		{"memory", func(c *Config) { c.Store.Kind = StoreMemory }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedactedEncode(t *testing.T) {
	cfg := Default()
	cfg.Mongo.URI = "mongodb://admin:hunter2@db:27017"
	cfg.Redis.Password = "hunter2"

	var buf bytes.Buffer
	if err := cfg.Redacted().Encode(&buf); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, `timeout = "30s"`) {
		t.Errorf("durations not encoded as strings:\n%s", out)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("Redacted() mutated the receiver")
	}
}
