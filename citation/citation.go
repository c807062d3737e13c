// Package citation canonicalizes and deduplicates citation records taken
// from heterogeneous provider payloads.
package citation

import (
	"net/url"
	"regexp"
	"strings"
)

// Citation is one retrieval source. The URI is its identity.
type Citation struct {
	URI    string `json:"uri"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

// Noise is an entry that carried no resolvable URI. It is kept for audit but
// never counted as a citation.
type Noise struct {
	Source string `json:"source"`
	Text   string `json:"text,omitempty"`
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\]\}]+`)

// uriKeys and titleKeys are tried in order on object-shaped entries.
var (
	uriKeys    = []string{"uri", "url", "link", "href", "source_url", "sourceUrl"}
	titleKeys  = []string{"title", "name", "source_title", "sourceTitle"}
	nestedKeys = []string{"web", "retrievedContext", "retrieved_context", "source", "url_citation"}
)

// Set accumulates citations in first-seen order. The zero value is ready.
type Set struct {
	items []Citation
	index map[string]int
	noise []Noise
}

// Add records c unless its canonical URI is already present. A later entry
// fills in a missing title but never replaces one. It reports whether c was
// new.
func (s *Set) Add(c Citation) bool {
	key := Canonical(c.URI)
	if key == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[key]; ok {
		if s.items[i].Title == "" && c.Title != "" {
			s.items[i].Title = c.Title
		}
		return false
	}
	c.URI = key
	s.index[key] = len(s.items)
	s.items = append(s.items, c)
	return true
}

// AddNoise records an entry without a URI.
func (s *Set) AddNoise(text string) {
	s.noise = append(s.noise, Noise{Source: "text", Text: strings.TrimSpace(text)})
}

// AddRaw extracts citations from a decoded JSON value (the result of
// json.Unmarshal into any). Structured fields are tried first; strings fall
// back to URL extraction. Entries yielding no URI become noise.
func (s *Set) AddRaw(v any, source string) {
	switch val := v.(type) {
	case nil:
	case []any:
		for _, item := range val {
			s.AddRaw(item, source)
		}
	case string:
		urls := urlPattern.FindAllString(val, -1)
		if len(urls) == 0 {
			if strings.TrimSpace(val) != "" {
				s.AddNoise(val)
			}
			return
		}
		for _, u := range urls {
			s.Add(Citation{URI: trimProse(u), Source: source})
		}
	case map[string]any:
		if c, ok := fromObject(val); ok {
			if c.Source == "" {
				c.Source = source
			}
			s.Add(c)
			return
		}
		if text, ok := val["text"].(string); ok {
			s.AddRaw(text, source)
			return
		}
		s.AddNoise("")
	}
}

func fromObject(m map[string]any) (Citation, bool) {
	for _, k := range nestedKeys {
		if inner, ok := m[k].(map[string]any); ok {
			if c, ok := fromObject(inner); ok {
				if c.Title == "" {
					c.Title = firstString(m, titleKeys)
				}
				return c, true
			}
		}
	}
	uri := firstString(m, uriKeys)
	if uri == "" {
		return Citation{}, false
	}
	if !strings.Contains(uri, "://") {
		if found := urlPattern.FindString(uri); found != "" {
			uri = trimProse(found)
		}
	}
	return Citation{URI: uri, Title: firstString(m, titleKeys)}, true
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Citations returns the deduplicated citations in first-seen order.
func (s *Set) Citations() []Citation {
	return append([]Citation(nil), s.items...)
}

// Noise returns entries that had no URI.
func (s *Set) Noise() []Noise {
	return append([]Noise(nil), s.noise...)
}

// Len returns the number of distinct citations.
func (s *Set) Len() int {
	return len(s.items)
}

// Canonical returns the identity form of a URI: trimmed, scheme and host
// lowercased, fragment dropped. It returns "" for input that is not an
// absolute URI. The path is kept byte for byte, so a structured URI ending
// in ")" or "." keeps it.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// trimProse drops sentence punctuation that a URL found in free text picks
// up. A closing parenthesis is dropped only when it has no opening partner
// in the URL.
func trimProse(u string) string {
	for {
		trimmed := strings.TrimRight(u, ".,;:!?'\"")
		if strings.HasSuffix(trimmed, ")") && strings.Count(trimmed, "(") < strings.Count(trimmed, ")") {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if trimmed == u {
			return u
		}
		u = trimmed
	}
}

// Dedupe canonicalizes and deduplicates cs, keeping first-seen order.
func Dedupe(cs []Citation) []Citation {
	var s Set
	for _, c := range cs {
		s.Add(c)
	}
	return s.Citations()
}
