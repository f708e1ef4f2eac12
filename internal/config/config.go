package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces our environment variables (CHAT_ADDR, CHAT_JWT_SECRET...).
const envPrefix = "CHAT_"

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chat/config.yaml",
}

type Config struct {
	Addr        string   `koanf:"addr"`
	DatabaseURL string   `koanf:"database_url"`
	RedisAddr   string   `koanf:"redis_addr"`
	JWTSecret   string   `koanf:"jwt_secret"`
	CORSOrigins []string `koanf:"cors_origins"`
	LogLevel    string   `koanf:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Addr:        ":8080",
		DatabaseURL: "",
		RedisAddr:   "localhost:6379",
		JWTSecret:   "",
		CORSOrigins: []string{"*"},
		LogLevel:    "info",
	}
}

// Load builds the configuration from three layers:
// defaults < optional YAML file < CHAT_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// CHAT_DATABASE_URL -> database_url, CHAT_JWT_SECRET -> jwt_secret
	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database_url is required (set CHAT_DATABASE_URL)")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required (set CHAT_JWT_SECRET)")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
