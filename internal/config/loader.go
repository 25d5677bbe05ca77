package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// DefaultStopSequences end a Mistral-instruct completion before it starts a new turn.
var DefaultStopSequences = []string{"</s>", "[INST]", "[/INST]", "\n\nUser:", "\n\nHuman:"}

// DefaultNegativePrompt is sent to the image service when none is configured.
const DefaultNegativePrompt = "blurry, bad quality, distorted, deformed, low resolution, ugly, watermark, text"

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to JSON, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns the default config when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Validate rejects values the services cannot work with.
func (c *Config) Validate() error {
	var errs []string
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port %d out of range", c.Gateway.Port))
	}
	if _, ok := c.Models.Providers[c.Models.Default]; !ok {
		errs = append(errs, fmt.Sprintf("models.default %q is not a configured provider", c.Models.Default))
	}
	if c.Completion.TemperatureValue() < 0 {
		errs = append(errs, "completion.temperature must be >= 0")
	}
	if c.Completion.TopP <= 0 || c.Completion.TopP > 1 {
		errs = append(errs, "completion.top_p must be in (0, 1]")
	}
	if c.Images.Width%8 != 0 || c.Images.Height%8 != 0 {
		errs = append(errs, fmt.Sprintf("images size %dx%d must be a multiple of 8", c.Images.Width, c.Images.Height))
	}
	switch c.Sessions.Driver {
	case "file", "sqlite", "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("sessions.driver %q unknown", c.Sessions.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "0.0.0.0"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8000
	}
	if cfg.Gateway.ExchangeTimeout == 0 {
		cfg.Gateway.ExchangeTimeout = Duration(120 * time.Second)
	}
	if cfg.Gateway.ImageExchangeTimeout == 0 {
		cfg.Gateway.ImageExchangeTimeout = Duration(300 * time.Second)
	}
	if len(cfg.Gateway.CORSOrigins) == 0 {
		cfg.Gateway.CORSOrigins = []string{"*"}
	}
	if cfg.Gateway.RateLimit > 0 && cfg.Gateway.RateBurst == 0 {
		cfg.Gateway.RateBurst = cfg.Gateway.RateLimit
	}

	if len(cfg.Models.Providers) == 0 {
		cfg.Models.Providers = map[string]ProviderConfig{
			"local": {
				Driver:  "ollama",
				Model:   "mistral:7b-instruct-v0.2-q4_K_M",
				BaseURL: "http://localhost:11434",
			},
		}
	}
	if cfg.Models.Default == "" {
		if _, ok := cfg.Models.Providers["local"]; ok {
			cfg.Models.Default = "local"
		} else if len(cfg.Models.Providers) == 1 {
			for name := range cfg.Models.Providers {
				cfg.Models.Default = name
			}
		}
	}

	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 512
	}
	if cfg.Completion.Temperature == nil {
		temp := float32(0.7)
		cfg.Completion.Temperature = &temp
	}
	if cfg.Completion.TopP == 0 {
		cfg.Completion.TopP = 0.9
	}
	if cfg.Completion.RepeatPenalty == 0 {
		cfg.Completion.RepeatPenalty = 1.1
	}
	if cfg.Completion.Stop == nil {
		cfg.Completion.Stop = append([]string(nil), DefaultStopSequences...)
	}

	if cfg.Images.Driver == "" {
		cfg.Images.Driver = "a1111"
	}
	if cfg.Images.BaseURL == "" {
		cfg.Images.BaseURL = "http://localhost:7860"
	}
	if cfg.Images.Steps == 0 {
		cfg.Images.Steps = 20
	}
	if cfg.Images.GuidanceScale == 0 {
		cfg.Images.GuidanceScale = 7.5
	}
	if cfg.Images.Width == 0 {
		cfg.Images.Width = 512
	}
	if cfg.Images.Height == 0 {
		cfg.Images.Height = 512
	}
	if cfg.Images.Seed == 0 {
		cfg.Images.Seed = 42
	}
	if cfg.Images.NegativePrompt == "" {
		cfg.Images.NegativePrompt = DefaultNegativePrompt
	}
	if cfg.Images.Timeout == 0 {
		cfg.Images.Timeout = Duration(180 * time.Second)
	}
	if cfg.Images.ArchiveDir == "" {
		cfg.Images.ArchiveDir = filepath.Join(DataPath(), "generated_images")
	}

	if cfg.Memory.MaxTokens == 0 {
		cfg.Memory.MaxTokens = 1000
	}
	if cfg.Memory.WindowTurns == 0 {
		cfg.Memory.WindowTurns = 5
	}
	if cfg.Memory.IdleTTL == 0 {
		cfg.Memory.IdleTTL = Duration(24 * time.Hour)
	}
	if cfg.Memory.SweepSchedule == "" {
		cfg.Memory.SweepSchedule = "@every 10m"
	}

	if cfg.Sessions.Driver == "" {
		cfg.Sessions.Driver = "file"
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(DataPath(), "conversations")
	}
	if cfg.Sessions.SQLitePath == "" {
		cfg.Sessions.SQLitePath = filepath.Join(DataPath(), "sessions.db")
	}
	if cfg.Sessions.RedisURL == "" {
		cfg.Sessions.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.Sessions.RedisTTL == 0 {
		cfg.Sessions.RedisTTL = Duration(7 * 24 * time.Hour)
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogDir == "" {
		cfg.Events.LogDir = filepath.Join(HomePath(), "logs")
	}
	// Auth resolution is deferred to models.ResolveAPIKey at model init time.
}
