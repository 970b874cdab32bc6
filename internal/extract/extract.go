package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgnsrekt/overlay_agent/internal/catalog"
)

// BodyTextLimit bounds how much visible body text is scanned as a last resort.
const BodyTextLimit = 3000

// Source identifies where on the page a code was found.
type Source string

const (
	SourceAddress     Source = "address"
	SourceTitle       Source = "title"
	SourceHeading     Source = "heading"
	SourceSiteTitle   Source = "site_title"
	SourceDictionary  Source = "dictionary"
	SourceBreadcrumbs Source = "breadcrumbs"
	SourceSearch      Source = "search"
	SourceBody        Source = "body"
)

// Sources is the ordered set of page text fragments consulted during detection.
// Any field may be empty.
type Sources struct {
	Address     string   `json:"address,omitempty"`
	Title       string   `json:"title,omitempty"`
	Heading     string   `json:"heading,omitempty"`
	SiteTitles  []string `json:"site_titles,omitempty"`
	Breadcrumbs []string `json:"breadcrumbs,omitempty"`
	SearchValue string   `json:"search_value,omitempty"`
	BodyText    string   `json:"body_text,omitempty"`
}

// Match is a resolved code and the source that produced it.
type Match struct {
	Code   string `json:"code"`
	Source Source `json:"source"`
}

type dictEntry struct {
	needle string
	code   string
}

// Extractor maps page text to canonical catalog codes. It is pure and safe
// for concurrent use once constructed.
type Extractor struct {
	cat     *catalog.Catalog
	pattern *regexp.Regexp
	dict    []dictEntry
}

// New builds an Extractor for the given catalog.
func New(cat *catalog.Catalog) *Extractor {
	if cat == nil {
		cat = catalog.Default()
	}
	prefixes := cat.Prefixes()
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(p))
	}
	pattern := regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)[-_ ]?(\d{1,2})`)

	dict := make([]dictEntry, 0, len(cat.Dictionary))
	for _, e := range cat.Dictionary {
		needle := normalizeWords(e.Name)
		if needle == "" {
			continue
		}
		dict = append(dict, dictEntry{needle: " " + needle + " ", code: e.Code})
	}
	// Longer names first so "two legends" style names are not shadowed by
	// shorter names they contain.
	sort.SliceStable(dict, func(i, j int) bool {
		return len(dict[i].needle) > len(dict[j].needle)
	})

	return &Extractor{cat: cat, pattern: pattern, dict: dict}
}

// Extract returns the canonical code for the page, or "" when nothing matches.
func (e *Extractor) Extract(src Sources) string {
	m, ok := e.ExtractMatch(src)
	if !ok {
		return ""
	}
	return m.Code
}

// ExtractMatch evaluates sources in priority order and returns the first hit.
func (e *Extractor) ExtractMatch(src Sources) (Match, bool) {
	steps := []struct {
		source Source
		texts  []string
		dict   bool
		pat    bool
	}{
		{SourceAddress, []string{src.Address}, true, true},
		{SourceTitle, []string{src.Title}, true, true},
		{SourceHeading, []string{src.Heading}, true, true},
		{SourceSiteTitle, src.SiteTitles, true, true},
		{SourceDictionary, []string{joinNonEmpty(src.Title, src.Heading, strings.Join(src.SiteTitles, " "))}, true, false},
		{SourceBreadcrumbs, src.Breadcrumbs, true, true},
		{SourceSearch, []string{src.SearchValue}, false, true},
		{SourceBody, []string{truncateRunes(src.BodyText, BodyTextLimit)}, false, true},
	}

	for _, step := range steps {
		for _, text := range step.texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			if step.dict {
				if code, ok := e.MatchDictionary(text); ok {
					return Match{Code: code, Source: step.source}, true
				}
			}
			if step.pat {
				if code, ok := e.MatchPattern(text); ok {
					return Match{Code: code, Source: step.source}, true
				}
			}
		}
	}
	return Match{}, false
}

// MatchPattern finds the first in-range family/number pair in text.
func (e *Extractor) MatchPattern(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, loc := range e.pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				continue
			}
		}
		if end < len(text) {
			r, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsDigit(r) {
				continue
			}
		}
		prefix := text[loc[2]:loc[3]]
		n, err := strconv.Atoi(text[loc[4]:loc[5]])
		if err != nil {
			continue
		}
		if !e.cat.InRange(prefix, n) {
			continue
		}
		return catalog.Format(prefix, n), true
	}
	return "", false
}

// MatchDictionary looks for a curated product name in text.
func (e *Extractor) MatchDictionary(text string) (string, bool) {
	norm := normalizeWords(text)
	if norm == "" {
		return "", false
	}
	padded := " " + norm + " "
	for _, d := range e.dict {
		if strings.Contains(padded, d.needle) {
			return d.code, true
		}
	}
	return "", false
}

// Normalize validates a user-entered code and returns its canonical form.
func (e *Extractor) Normalize(code string) (string, bool) {
	return e.cat.Canonical(code)
}

// normalizeWords lowercases and collapses every non-alphanumeric run to a
// single space, so "Romance-Dawn" and "romance_dawn" compare equal.
func normalizeWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
