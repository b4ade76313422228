// Package parser normalizes raw article subjects into dedupe keys, tag sets
// and category ids. Everything here is deterministic: same subject in, same
// values out.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/datallboy/nzbidx/internal/domain"
)

// The whole regex table lives here and is compiled once at init.
var (
	reBracketTag  = regexp.MustCompile(`\[([^\[\]]+)\]`)
	rePartCounter = regexp.MustCompile(`[(\[]\s*(\d+)\s*/\s*\d+\s*[)\]]`)
	reSegmentNum  = regexp.MustCompile(`\(\s*(\d+)\s*/\s*\d+\s*\)`)
	reYenc        = regexp.MustCompile(`(?i)\byenc\b`)
	reFiller      = regexp.MustCompile(`(?i)\b(repost|re-post|sample|proof)\b`)
	reArchiveTail = regexp.MustCompile(`(?i)\b(part\d+|vol\d+(\+\d+)?|r\d{2}|rar|par2|zip|7z|sfv|nfo|nzb)\b`)
	reCounterOnly = regexp.MustCompile(`^\s*\d+\s*/\s*\d+\s*$`)
	reQuoted      = regexp.MustCompile(`"([^"]+)"`)
	reExtension   = regexp.MustCompile(`(?i)\.([a-z][a-z0-9]{1,4})$`)
	reWhitespace  = regexp.MustCompile(`\s+`)

	// Structured hints. Scene naming is rigid enough that these fire before
	// generic cleanup mangles the separators.
	reMusic = regexp.MustCompile(`(?i)^([a-z0-9&._ ]+)-([a-z0-9&._ ]+)-((?:19|20)\d{2})-(flac|mp3|aac|ogg|web)(?:-([a-z0-9]+))?\b`)
	reBook  = regexp.MustCompile(`(?i)^([a-z0-9&._ ]+)-([a-z0-9&._ ]+)-((?:19|20)\d{2})-(epub|mobi|pdf|azw3)(?:-(\d{10,13}))?\b`)
	reAdult = regexp.MustCompile(`(?i)^((?:[a-z0-9]+\.)+[a-z0-9]+)\.((?:19|20)\d{2})\.(\d{3,4}p)\b`)
	reSite  = regexp.MustCompile(`(?i)^([a-z0-9]+)\.((?:[a-z0-9]+\.)+)(\d{2})\.(\d{2})\.(\d{2})\b`)
)

// languageTokens is the explicit token table checked before any heuristic.
var languageTokens = []struct {
	token string
	code  string
}{
	{"TRUEFRENCH", "fr"},
	{"VOSTFR", "fr"},
	{"FRENCH", "fr"},
	{"GERMAN", "de"},
	{"DEUTSCH", "de"},
	{"ITALIAN", "it"},
	{"ITA", "it"},
	{"SPANISH", "es"},
	{"CASTELLANO", "es"},
	{"DUTCH", "nl"},
	{"NLSUBS", "nl"},
	{"ENGLISH", "en"},
	{"MULTI", "mul"},
}

var reLanguageToken = func() *regexp.Regexp {
	toks := make([]string, len(languageTokens))
	for i, lt := range languageTokens {
		toks[i] = lt.token
	}
	return regexp.MustCompile(`(?i)[\[(]?\b(` + strings.Join(toks, "|") + `)\b[\])]?`)
}()

// Parsed is the value object produced by Parse.
type Parsed struct {
	NormTitle     string
	Tags          []string
	SegmentNumber int
	Language      string // empty when undetermined
	Extension     string // empty when no filename was visible
}

// Parser owns the optional language detector. Construction is cheap when
// detection is disabled.
type Parser struct {
	detect *Detector
}

// New returns a Parser. detector may be nil to skip heuristic detection.
func New(detector *Detector) *Parser {
	return &Parser{detect: detector}
}

// Parse applies the normalization pipeline from top to bottom:
// capture tags, run structured extractors, flatten separators, strip noise,
// collapse whitespace, lowercase.
func (p *Parser) Parse(subject string) Parsed {
	subject = domain.CleanText(subject)

	out := Parsed{SegmentNumber: 1}
	tags := newTagSet()

	// 1. Bracketed hints, recorded verbatim before anything is stripped.
	// Part counters like [01/14] are positional, not hints.
	for _, m := range reBracketTag.FindAllStringSubmatch(subject, -1) {
		if reCounterOnly.MatchString(m[1]) {
			continue
		}
		tags.add(m[1])
	}

	// 2. Structured extractors.
	applyExtractors(subject, tags)

	// Segment number rides on the raw subject; counters are stripped below.
	if m := reSegmentNum.FindStringSubmatch(subject); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			out.SegmentNumber = n
		}
	}

	// Extension comes from the quoted filename when there is one.
	if m := reQuoted.FindStringSubmatch(subject); m != nil {
		if e := reExtension.FindStringSubmatch(strings.TrimSpace(m[1])); e != nil {
			out.Extension = strings.ToLower(e[1])
		}
	}

	// 3–5. Normalize the remainder into the title.
	title := subject
	title = strings.NewReplacer(".", " ", "_", " ").Replace(title)
	title = reBracketTag.ReplaceAllString(title, " ")
	title = reYenc.ReplaceAllString(title, " ")
	title = rePartCounter.ReplaceAllString(title, " ")
	title = reLanguageToken.ReplaceAllString(title, " ")
	title = reFiller.ReplaceAllString(title, " ")
	title = reArchiveTail.ReplaceAllString(title, " ")
	title = strings.ReplaceAll(title, `"`, " ")
	title = reWhitespace.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)

	// 6. Lowercase last so the strip regexes above stay case-insensitive.
	out.NormTitle = strings.ToLower(title)
	out.Tags = tags.values()
	out.Language = p.language(subject)
	return out
}

// language resolves the token table first, then hands cleaned text to the
// detector. ASCII-only text short-circuits to English.
func (p *Parser) language(subject string) string {
	if m := reLanguageToken.FindStringSubmatch(subject); m != nil {
		token := strings.ToUpper(m[1])
		for _, lt := range languageTokens {
			if lt.token == token {
				return lt.code
			}
		}
	}
	if p.detect == nil {
		return ""
	}
	return p.detect.Detect(subject)
}

func applyExtractors(subject string, tags *tagSet) {
	if m := reMusic.FindStringSubmatch(subject); m != nil {
		tags.add(m[4])
		if m[5] != "" {
			tags.add(m[5])
		}
		return
	}
	if m := reBook.FindStringSubmatch(subject); m != nil {
		tags.add(m[4])
		return
	}
	if m := reAdult.FindStringSubmatch(subject); m != nil {
		tags.add(m[3])
		tags.add("xxx")
		return
	}
	if reSite.MatchString(subject) {
		tags.add("xxx")
	}
}

// tagSet keeps insertion order while deduplicating lowercase values.
type tagSet struct {
	seen map[string]struct{}
	list []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: make(map[string]struct{})}
}

func (t *tagSet) add(raw string) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return
	}
	if _, ok := t.seen[v]; ok {
		return
	}
	t.seen[v] = struct{}{}
	t.list = append(t.list, v)
}

func (t *tagSet) values() []string { return t.list }
