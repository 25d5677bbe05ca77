package config

import "time"

// Config is the root configuration for EchoVision.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Models     ModelsConfig     `json:"models"`
	Completion CompletionConfig `json:"completion"`
	Images     ImagesConfig     `json:"images"`
	Memory     MemoryConfig     `json:"memory"`
	Sessions   SessionsConfig   `json:"sessions"`
	Events     EventsConfig     `json:"events"`
}

// GatewayConfig holds the HTTP server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// ExchangeTimeout bounds a text-only chat exchange.
	ExchangeTimeout Duration `json:"exchange_timeout"`
	// ImageExchangeTimeout bounds an exchange whose message may ask for an image.
	ImageExchangeTimeout Duration `json:"image_exchange_timeout"`

	CORSOrigins []string `json:"cors_origins"`

	// RateLimit is the sustained POST /chat rate per client IP, in requests per minute. 0 disables.
	RateLimit int `json:"rate_limit"`
	RateBurst int `json:"rate_burst"`
}

// ModelsConfig holds text-completion provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single text-completion provider.
type ProviderConfig struct {
	Driver  string     `json:"driver"` // "ollama", "openai", "mistral"
	Model   string     `json:"model"`
	BaseURL string     `json:"base_url,omitempty"`
	Auth    AuthConfig `json:"auth"`
	Timeout Duration   `json:"timeout,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
}

// CompletionConfig holds the sampling parameters sent with every completion.
type CompletionConfig struct {
	MaxTokens     int      `json:"max_tokens"`
	Temperature   *float32 `json:"temperature"` // nil means unset; 0 is greedy decoding
	TopP          float32  `json:"top_p"`
	RepeatPenalty float32  `json:"repeat_penalty"`
	Stop          []string `json:"stop"`
}

// TemperatureValue returns the configured temperature, or 0 when unset.
func (c CompletionConfig) TemperatureValue() float32 {
	if c.Temperature == nil {
		return 0
	}
	return *c.Temperature
}

// ImagesConfig configures the image-synthesis service.
type ImagesConfig struct {
	Driver         string   `json:"driver"` // "a1111"
	BaseURL        string   `json:"base_url"`
	Model          string   `json:"model,omitempty"`
	Steps          int      `json:"steps"`
	GuidanceScale  float64  `json:"guidance_scale"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Seed           int64    `json:"seed"`
	NegativePrompt string   `json:"negative_prompt"`
	Timeout        Duration `json:"timeout"`
	ArchiveDir     string   `json:"archive_dir"` // "-" disables archiving
}

// MemoryConfig bounds per-session conversation history.
type MemoryConfig struct {
	MaxTokens     int      `json:"max_tokens"`
	WindowTurns   int      `json:"window_turns"`
	IdleTTL       Duration `json:"idle_ttl"`       // 0 disables idle eviction
	SweepSchedule string   `json:"sweep_schedule"` // cron spec, e.g. "@every 10m"
}

// SessionsConfig selects the snapshot store.
type SessionsConfig struct {
	Driver     string   `json:"driver"` // "file", "sqlite", "redis", "memory"
	Dir        string   `json:"dir"`
	SQLitePath string   `json:"sqlite_path"`
	RedisURL   string   `json:"redis_url"`
	RedisTTL   Duration `json:"redis_ttl"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
