package language

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// MinDetectLength is the number of cleaned characters below which detection
// is skipped and English is assumed.
const MinDetectLength = 3

// Oracle identifies the language of text and returns an ISO 639-1 code.
type Oracle func(text string) (string, error)

// remap sends close neighbours of unsupported languages to a supported one.
var remap = map[string]Code{
	"ca": Spanish,
	"pt": Spanish,
	"it": French,
	"de": English,
	"nl": English,
}

var punctuationRe = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s]`)

// Detector maps free text to a supported language code.
type Detector struct {
	oracle Oracle
}

// NewDetector returns a Detector backed by oracle. A nil oracle uses WhatlangOracle.
func NewDetector(oracle Oracle) *Detector {
	if oracle == nil {
		oracle = WhatlangOracle
	}
	return &Detector{oracle: oracle}
}

// Detect returns the language of text. It never fails: short input, oracle
// errors and unsupported languages all resolve to English.
func (d *Detector) Detect(text string) (code Code) {
	cleaned := punctuationRe.ReplaceAllString(strings.TrimSpace(text), "")
	if utf8.RuneCountInString(cleaned) < MinDetectLength {
		return Default
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("language detection panicked, defaulting to english", "panic", r)
			code = Default
		}
	}()

	raw, err := d.oracle(cleaned)
	if err != nil {
		slog.Warn("language detection failed, defaulting to english", "error", err)
		return Default
	}

	c := Code(strings.ToLower(raw))
	if IsSupported(c) {
		slog.Debug("language detected", "code", c, "name", Name(c))
		return c
	}
	if mapped, ok := remap[string(c)]; ok {
		slog.Debug("language remapped", "detected", c, "mapped", mapped)
		return mapped
	}
	slog.Debug("language not supported, defaulting to english", "detected", c)
	return Default
}

// oracleOptions limits whatlanggo to the supported languages and the remap
// sources. Unrestricted, it labels plain Hindi prose as Bhojpuri.
var oracleOptions = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{
		whatlanggo.Eng: true,
		whatlanggo.Hin: true,
		whatlanggo.Spa: true,
		whatlanggo.Fra: true,
		whatlanggo.Cat: true,
		whatlanggo.Por: true,
		whatlanggo.Ita: true,
		whatlanggo.Deu: true,
		whatlanggo.Nld: true,
	},
}

// WhatlangOracle identifies text with whatlanggo's trigram model. It is
// deterministic, so repeated calls on the same input agree.
func WhatlangOracle(text string) (string, error) {
	info := whatlanggo.DetectWithOptions(text, oracleOptions)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", fmt.Errorf("no language identified for %d-byte input", len(text))
	}
	return code, nil
}
