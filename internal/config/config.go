package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		CodeTTL        string `yaml:"code_ttl"`
		ElapsedSource  string `yaml:"elapsed_source"`
		JoinCodeLength int    `yaml:"join_code_length"`
	} `yaml:"quiz"`
	Events struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"events"`
	Host struct {
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"password_hash"`
		JWTSecret    string `yaml:"jwt_secret"`
		TokenTTL     string `yaml:"token_ttl"`
	} `yaml:"host"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Defaults returns a config for a single in-memory node.
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Redis.TTL = "10m"
	cfg.Quiz.CodeTTL = "10m"
	cfg.Quiz.ElapsedSource = "client"
	cfg.Quiz.JoinCodeLength = 6
	cfg.Events.Buffer = 256
	cfg.Host.Username = "admin"
	cfg.Host.TokenTTL = "12h"
	return cfg
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PORT", &c.Server.Port},
		{"LOG_LEVEL", &c.Log.Level},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"POSTGRES_URL", &c.Postgres.URL},
		{"HOST_JWT_SECRET", &c.Host.JWTSecret},
		{"HOST_PASSWORD_HASH", &c.Host.PasswordHash},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Quiz.ElapsedSource) {
	case "", "client", "server":
	default:
		return fmt.Errorf("quiz.elapsed_source must be client or server, got %q", c.Quiz.ElapsedSource)
	}
	if c.Quiz.JoinCodeLength <= 0 {
		return fmt.Errorf("quiz.join_code_length must be positive, got %d", c.Quiz.JoinCodeLength)
	}
	if c.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative, got %d", c.Events.Buffer)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
