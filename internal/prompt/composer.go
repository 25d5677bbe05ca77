// Package prompt builds the Mistral-instruct prompt sent to the text model.
package prompt

import (
	"log/slog"
	"strings"

	"github.com/dohr-michael/echovision/internal/language"
)

// MaxHistoryChars caps how much of the history window enters the prompt.
const MaxHistoryChars = 1000

// Composer renders prompts. It holds no per-call state and is safe for concurrent use.
type Composer struct {
	policies map[language.Code]string
}

// NewComposer returns a Composer using the built-in system policies.
func NewComposer() *Composer {
	return &Composer{policies: systemPolicies}
}

// SystemPolicy returns the policy for lang, falling back to English.
func (c *Composer) SystemPolicy(lang language.Code) string {
	if p, ok := c.policies[lang]; ok {
		return p
	}
	return c.policies[language.English]
}

// Compose builds the instruction prompt for one exchange. The output depends
// only on its arguments.
func (c *Composer) Compose(userMessage, history string, lang language.Code) string {
	parts := []string{"[INST]", c.SystemPolicy(lang)}

	if strings.TrimSpace(history) != "" {
		parts = append(parts,
			"\n\nPrevious conversation context:",
			tail(history, MaxHistoryChars),
			"",
		)
	}

	parts = append(parts,
		"Current user message: "+userMessage,
		"\nAssistant:",
		"[/INST]",
	)

	out := strings.Join(parts, "\n")
	slog.Debug("prompt composed", "language", lang, "length", len(out))
	return out
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
