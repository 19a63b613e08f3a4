package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "agentdesk.yml"

// Config models agentdesk.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Log       LogConfig       `yaml:"log"`
	Models    ModelsConfig    `yaml:"models"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	BasePath    string   `yaml:"base_path"`
	CORSOrigins []string `yaml:"cors_origins"`
	// AdminToken guards /admin and /reports. Empty leaves them open.
	AdminToken string `yaml:"admin_token"`
	JWTSecret  string `yaml:"jwt_secret"`
	TokenTTL   string `yaml:"token_ttl"`
}

type StoreConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Workspace string `yaml:"workspace"`
}

type LifecycleConfig struct {
	DiffMode      string `yaml:"diff_mode"`
	AutoDiffEvery int    `yaml:"auto_diff_every"`
	ReminderStep  string `yaml:"reminder_step"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ModelsConfig struct {
	Default string `yaml:"default"`
	// Allowed restricts model selection when non-empty.
	Allowed []string `yaml:"allowed"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Server.TokenTTL = "24h"
	cfg.Store.Driver = "memory"
	cfg.Store.Workspace = "."
	cfg.Lifecycle.DiffMode = "tracked"
	cfg.Lifecycle.AutoDiffEvery = 10
	cfg.Lifecycle.ReminderStep = "Add onboarding reminder"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Models.Default = "Gemini Flash"
	return cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config.store.driver must be memory, sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("config.store.dsn is required for the postgres driver")
	}
	switch c.Lifecycle.DiffMode {
	case "tracked", "legacy":
	default:
		return fmt.Errorf("config.lifecycle.diff_mode must be tracked or legacy")
	}
	if c.Lifecycle.AutoDiffEvery <= 0 {
		return fmt.Errorf("config.lifecycle.auto_diff_every must be positive")
	}
	if strings.TrimSpace(c.Lifecycle.ReminderStep) == "" {
		return fmt.Errorf("config.lifecycle.reminder_step is required")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Models.Default) == "" {
		return fmt.Errorf("config.models.default is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config.log.format must be json or text")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// TokenTTL parses server.token_ttl.
func (c *Config) TokenTTL() (time.Duration, error) {
	if c.Server.TokenTTL == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Server.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("config.server.token_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config.server.token_ttl must be positive")
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads config from the workspace, falling back to Default when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML overlays raw YAML onto Default and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
