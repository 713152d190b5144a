package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Deployment-contract environment variables. These are what the hosting
// platform sets; they win over both config.yaml and CITYDUEL_* overrides.
const (
	envToken        = "TOKEN"
	envRoundSeconds = "ROUND_SECONDS"
	envPort         = "PORT"
)

const envPrefix = "CITYDUEL_"

// Config is the root runtime configuration, built once at startup and
// passed into constructors by reference.
type Config struct {
	Token        string `koanf:"token"`
	RoundSeconds int    `koanf:"round_seconds"`
	WordsFile    string `koanf:"words_file"`
	DBPath       string `koanf:"db_path"`

	PollTimeoutSeconds int `koanf:"poll_timeout_seconds"`
	SendMaxAttempts    int `koanf:"send_max_attempts"`

	Web     WebConfig     `koanf:"web"`
	Logging LoggingConfig `koanf:"logging"`
}

// WebConfig configures the leaderboard/uptime HTTP server.
type WebConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	IndexFile string `koanf:"index_file"`
	AllowAll  bool   `koanf:"allow_all"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `koanf:"format"`
	Level     string `koanf:"level"`
	AddSource bool   `koanf:"add_source"`
}

// Defaults returns the built-in configuration before any file or
// environment input is applied.
func Defaults() *Config {
	return &Config{
		RoundSeconds:       25,
		WordsFile:          "cities.txt",
		DBPath:             "cityduel.db",
		PollTimeoutSeconds: 10,
		SendMaxAttempts:    4,
		Web: WebConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			IndexFile: "index.html",
		},
	}
}

// Load resolves configuration: defaults, then the optional YAML file,
// then CITYDUEL_* environment overrides, then the deployment-contract
// variables (TOKEN, ROUND_SECONDS, PORT).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("access config %s: %w", path, err)
		}
	}

	// Nested keys map double underscores to dots: CITYDUEL_WEB__PORT -> web.port.
	// Single underscores stay part of the key (CITYDUEL_ROUND_SECONDS -> round_seconds).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvContract(cfg)

	return cfg, nil
}

// applyEnvContract injects the platform-supplied variables on top of
// everything else.
func applyEnvContract(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envToken)); token != "" {
		cfg.Token = token
	}

	if raw := strings.TrimSpace(os.Getenv(envRoundSeconds)); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.RoundSeconds = seconds
		}
	}

	if raw := strings.TrimSpace(os.Getenv(envPort)); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Web.Port = port
		}
	}
}

// Validate checks the invariants that must hold before the service may
// touch the network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("TOKEN is required (bot platform credential)")
	}
	if c.RoundSeconds <= 0 {
		return fmt.Errorf("round_seconds must be positive, got %d", c.RoundSeconds)
	}
	if strings.TrimSpace(c.WordsFile) == "" {
		return errors.New("words_file is required")
	}
	if c.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("poll_timeout_seconds must be positive, got %d", c.PollTimeoutSeconds)
	}
	if c.SendMaxAttempts <= 0 {
		return fmt.Errorf("send_max_attempts must be positive, got %d", c.SendMaxAttempts)
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", c.Web.Port)
	}

	return nil
}
