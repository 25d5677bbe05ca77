// Package router splits a model reply into visible text and an optional,
// validated image prompt.
package router

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/dohr-michael/echovision/internal/language"
	"github.com/dohr-michael/echovision/internal/prompt"
)

const (
	// MaxImagePromptChars is the longest prompt handed to the image service.
	MaxImagePromptChars = 300
	// MinWordCut is the earliest whitespace position a clamp may cut at.
	MinWordCut = 200
)

// SuppressReason explains why a directive did not produce an image prompt.
type SuppressReason string

const (
	NotSuppressed     SuppressReason = ""
	SuppressNoKeyword SuppressReason = "no_keyword"
	SuppressEmpty     SuppressReason = "empty_prompt"
)

// Result is the outcome of routing one reply.
type Result struct {
	// Text is what the user sees. It never contains the directive marker.
	Text string
	// ImagePrompt is the clamped prompt to synthesize, or "" for none.
	ImagePrompt string
	// Directive reports whether the raw reply contained the marker.
	Directive bool
	// Suppressed is set when a directive was dropped.
	Suppressed SuppressReason
}

// WantsImage reports whether an image should be synthesized.
func (r Result) WantsImage() bool { return r.ImagePrompt != "" }

// Router validates directives against the user's own wording.
type Router struct {
	classifier *language.Classifier
}

// New returns a Router backed by classifier.
func New(classifier *language.Classifier) *Router {
	return &Router{classifier: classifier}
}

// Route splits raw at the first directive marker. The directive is kept only
// when the user message itself asks for an image and the prompt is non-empty.
func (r *Router) Route(raw, userMessage string) Result {
	idx := strings.Index(raw, prompt.DirectiveMarker)
	if idx < 0 {
		return Result{Text: raw}
	}

	res := Result{
		Text:      strings.TrimSpace(raw[:idx]),
		Directive: true,
	}
	imagePrompt := strings.TrimSpace(raw[idx+len(prompt.DirectiveMarker):])

	switch {
	case !r.classifier.WantsImage(userMessage, ""):
		res.Suppressed = SuppressNoKeyword
	case imagePrompt == "":
		res.Suppressed = SuppressEmpty
	default:
		res.ImagePrompt = ClampPrompt(imagePrompt)
		return res
	}

	slog.Info("image directive suppressed", "reason", res.Suppressed, "prompt_length", len(imagePrompt))
	return res
}

// ClampPrompt limits p to MaxImagePromptChars runes. It cuts at the last
// whitespace before the limit when that position is past MinWordCut, and
// hard-cuts at the limit otherwise.
func ClampPrompt(p string) string {
	runes := []rune(p)
	if len(runes) <= MaxImagePromptChars {
		return p
	}

	head := runes[:MaxImagePromptChars]
	cut := -1
	for i := len(head) - 1; i >= 0; i-- {
		if unicode.IsSpace(head[i]) {
			cut = i
			break
		}
	}
	if cut > MinWordCut {
		return string(head[:cut])
	}
	return string(head)
}
