package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dohr-michael/echovision/internal/config"
)

// ProviderEntry holds a lazily-initialized completer.
type ProviderEntry struct {
	Config    config.ProviderConfig
	completer Completer
	once      sync.Once
	err       error
}

// Registry manages named completion providers with lazy initialization.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]*ProviderEntry
	defaultName string
}

// NewRegistry creates a registry from config.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	r := &Registry{
		providers:   make(map[string]*ProviderEntry),
		defaultName: cfg.Default,
	}

	for name, provCfg := range cfg.Providers {
		r.providers[name] = &ProviderEntry{Config: provCfg}
	}

	return r
}

// Get returns the named completer, initializing it lazily.
func (r *Registry) Get(ctx context.Context, name string) (Completer, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("model provider %q not found", name)
	}

	entry.once.Do(func() {
		entry.completer, entry.err = CreateCompleter(ctx, entry.Config)
	})

	return entry.completer, entry.err
}

// Default returns the default completer.
func (r *Registry) Default(ctx context.Context) (Completer, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, r.defaultName)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateCompleter builds a Completer from a provider config.
func CreateCompleter(ctx context.Context, cfg config.ProviderConfig) (Completer, error) {
	switch strings.ToLower(cfg.Driver) {
	case "ollama":
		o, err := NewOllama(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "openai", "mistral":
		key, err := ResolveAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		var c *ChatCompleter
		if strings.ToLower(cfg.Driver) == "mistral" {
			c, err = NewMistral(ctx, cfg, key)
		} else {
			c, err = NewOpenAI(ctx, cfg, key)
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}
