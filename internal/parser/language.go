package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

var (
	reURL       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	reNonLetter = regexp.MustCompile(`[^\p{L} ]+`)
)

// Detector wraps the statistical language model behind the cleaned-text
// heuristic. Building the model is expensive, so one Detector is shared.
type Detector struct {
	inner lingua.LanguageDetector
}

// NewDetector builds a detector over the languages binary groups actually
// post in. A wider set only adds noise on short subjects.
func NewDetector() *Detector {
	langs := []lingua.Language{
		lingua.English,
		lingua.French,
		lingua.German,
		lingua.Italian,
		lingua.Spanish,
		lingua.Dutch,
	}
	return &Detector{
		inner: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			Build(),
	}
}

// Detect cleans the subject (URLs out, letters only) and classifies what is
// left. ASCII-only text is assumed English without consulting the model.
func (d *Detector) Detect(subject string) string {
	cleaned := reURL.ReplaceAllString(subject, " ")
	cleaned = reNonLetter.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}
	if isASCII(cleaned) {
		return "en"
	}
	lang, ok := d.inner.DetectLanguageOf(cleaned)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
