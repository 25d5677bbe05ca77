// Package language detects which of the supported locales a message is
// written in and whether it asks for an image.
package language

// Code is one of the supported ISO 639-1 language codes.
type Code string

const (
	English Code = "en"
	Hindi   Code = "hi"
	Spanish Code = "es"
	French  Code = "fr"
)

// Default is returned whenever detection is inconclusive.
const Default = English

var supported = []Code{English, Hindi, Spanish, French}

var names = map[Code]string{
	English: "English",
	Hindi:   "Hindi",
	Spanish: "Spanish",
	French:  "French",
}

// Supported returns the supported codes in fixed order.
func Supported() []Code {
	return append([]Code(nil), supported...)
}

// IsSupported reports whether c is a supported code.
func IsSupported(c Code) bool {
	_, ok := names[c]
	return ok
}

// Name returns the English name of c, or "English" for unknown codes.
func Name(c Code) string {
	if n, ok := names[c]; ok {
		return n
	}
	return names[English]
}
