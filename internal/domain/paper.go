package domain

import (
	"strings"
	"time"
	"unicode"
)

// Paper is a candidate publication produced by a source adapter.
// Later pipeline stages never modify it; their results travel in Outcome.
type Paper struct {
	Title     string
	Link      string
	Published time.Time
	Source    string
	SourceID  string
	Abstract  string
	Authors   []string
	AuthorIDs []string
	DOI       string
	WorkType  string
	Topics    []string
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI strips resolver URLs and the doi: scheme from a raw DOI.
func NormalizeDOI(raw string) string {
	doi := strings.TrimSpace(raw)
	for changed := true; changed; {
		changed = false
		for _, prefix := range doiPrefixes {
			if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
				doi = strings.TrimSpace(doi[len(prefix):])
				changed = true
			}
		}
	}
	return doi
}

// NewPaper normalises the DOI and all-caps titles of an upstream record.
func NewPaper(p Paper) Paper {
	p.DOI = NormalizeDOI(p.DOI)
	p.Title = fixAllCapsTitle(strings.TrimSpace(p.Title))
	return p
}

// IdentityFilename is the extension-less name shared by the cached PDF,
// the summary and its sidecar.
func (p Paper) IdentityFilename() string {
	if p.DOI != "" {
		var b strings.Builder
		for _, r := range p.DOI {
			if isASCIIAlnum(r) || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
			} else {
				b.WriteRune('_')
			}
		}
		return b.String()
	}

	author := "Unknown"
	if len(p.Authors) > 0 {
		var b strings.Builder
		for _, r := range p.Authors[0] {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			author = b.String()
		}
	}
	return p.Published.Format("20060102") + "-" + author
}

// Year is the directory bucket used for cached artifacts.
func (p Paper) Year() string {
	return p.Published.Format("2006")
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

var lowerTitleWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "but": {}, "or": {}, "for": {}, "nor": {},
	"on": {}, "at": {}, "to": {}, "from": {}, "by": {}, "of": {}, "in": {}, "with": {}, "as": {},
}

func fixAllCapsTitle(title string) string {
	if title == "" || strings.ToUpper(title) != title || strings.ToLower(title) == title {
		return title
	}

	words := strings.Fields(strings.ToLower(title))
	for i, word := range words {
		if _, minor := lowerTitleWords[word]; minor && i != 0 && i != len(words)-1 {
			continue
		}
		parts := strings.Split(word, "-")
		for j, part := range parts {
			parts[j] = capitalize(part)
		}
		words[i] = strings.Join(parts, "-")
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
