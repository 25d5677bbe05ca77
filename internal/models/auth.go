package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/echovision/internal/config"
)

// ResolveAPIKey resolves the API key for a provider.
// Resolution order: direct api_key (or ${VAR}) → driver default env.
// Local OpenAI-compatible servers usually need no key, so "openai" never fails.
func ResolveAPIKey(cfg config.ProviderConfig) (string, error) {
	key := strings.TrimSpace(cfg.Auth.APIKey)
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		key = os.Getenv(key[2 : len(key)-1])
	}
	if key != "" {
		return key, nil
	}

	switch strings.ToLower(cfg.Driver) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY"), nil
	case "mistral":
		if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("MISTRAL_API_KEY not set")
	case "ollama":
		return "", nil
	default:
		return "", fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
}
