package language

import "strings"

// imageKeywords lists the trigger substrings per language, in match order.
var imageKeywords = map[Code][]string{
	English: {"image", "picture", "photo", "generate", "create", "draw", "make", "show me", "paint", "design"},
	Hindi:   {"छवि", "तस्वीर", "फोटो", "बनाओ", "दिखाओ", "तैयार करो", "चित्र", "स्केच"},
	Spanish: {"imagen", "foto", "generar", "crear", "hacer", "mostrar", "dibujar", "pintar", "diseñar"},
	French:  {"image", "photo", "générer", "créer", "faire", "montrer", "dessiner", "peindre", "concevoir"},
}

// Classifier decides whether a message asks for an image.
type Classifier struct {
	keywords map[Code][]string
}

// NewClassifier returns a Classifier using the built-in keyword tables.
func NewClassifier() *Classifier {
	return &Classifier{keywords: imageKeywords}
}

// WantsImage reports whether text contains an image trigger word. The hint's
// list is tried first, then every supported language, so a trigger in any
// locale matches. An empty or unknown hint only skips the first step.
func (c *Classifier) WantsImage(text string, hint Code) bool {
	lower := strings.ToLower(text)

	if list, ok := c.keywords[hint]; ok && containsAny(lower, list) {
		return true
	}
	for _, code := range supported {
		if containsAny(lower, c.keywords[code]) {
			return true
		}
	}
	return false
}

// Keywords returns a copy of the trigger list for code.
func (c *Classifier) Keywords(code Code) []string {
	return append([]string(nil), c.keywords[code]...)
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
