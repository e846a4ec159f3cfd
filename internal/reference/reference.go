// Package reference serves the rules-reference lookups: spells and monsters
// from an SRD excerpt compiled into the binary, or from a YAML file with the
// same layout.
//
// [Library.Find] answers a query in one of three ways:
//   - an exact (case and punctuation insensitive) name match yields a single
//     one-line description starting with "<<Name>>";
//   - terms containing '*' or '?' are matched as globs against names and
//     against individual words of each record;
//   - otherwise every term must occur as a substring of the name or text.
//
// Non-exact hits are returned as teasers: `"<key>": <text prefix> ...`.
//
// A Library is immutable after construction and safe for concurrent use.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

//go:embed srd.yaml
var srd []byte

// ErrUnknownDomain is returned for a domain the library has no records for.
var ErrUnknownDomain = errors.New("reference: unknown domain")

const (
	// DefaultMax is the number of teasers returned when the caller passes 0.
	DefaultMax = 5

	// TeaserLength is the number of runes of record text shown in a teaser.
	TeaserLength = 35

	suggestThreshold = 0.8
)

// Record is one entry of a domain.
type Record struct {
	Name    string   `yaml:"name"`
	Summary []string `yaml:"summary"`
	Text    string   `yaml:"text"`
	URL     string   `yaml:"url"`

	key   string
	words map[string]struct{}
}

// Key returns the normalised name used for exact matching.
func (r Record) Key() string { return r.key }

// OneLine renders the record's full one-line description.
func (r Record) OneLine() string {
	parts := append([]string(nil), r.Summary...)
	if r.URL != "" {
		parts = append(parts, r.URL)
	}
	return fmt.Sprintf("<<%s>> %s", r.Name, strings.Join(parts, " || "))
}

// Teaser renders the short form returned for non-exact hits.
func (r Record) Teaser() string {
	body := []rune(r.Name + " " + strings.Join(r.Summary, " "))
	if len(body) > TeaserLength {
		body = body[:TeaserLength]
	}
	return fmt.Sprintf("%q: %s ...", r.key, string(body))
}

func (r Record) haystack() string {
	return strings.ToLower(r.Name + " " + strings.Join(r.Summary, " ") + " " + r.Text)
}

// Library holds the records of every domain.
type Library struct {
	domains map[string][]Record
}

// Embedded returns the library compiled into the binary.
func Embedded() (*Library, error) {
	return Parse(srd)
}

// Load reads a library from a YAML file.
func Load(filename string) (*Library, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reference: read %q: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document mapping domain names to record lists.
// Records without a name, or whose names normalise to the same key within a
// domain, are rejected.
func Parse(data []byte) (*Library, error) {
	var raw map[string][]Record
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("reference: decode: %w", err)
	}

	var errs []error
	lib := &Library{domains: make(map[string][]Record, len(raw))}
	for domain, records := range raw {
		domain = strings.ToLower(strings.TrimSpace(domain))
		seen := make(map[string]bool, len(records))
		for i := range records {
			r := &records[i]
			if strings.TrimSpace(r.Name) == "" {
				errs = append(errs, fmt.Errorf("reference: %s[%d]: name is required", domain, i))
				continue
			}
			r.key = normalise(r.Name, false)
			if seen[r.key] {
				errs = append(errs, fmt.Errorf("reference: %s: duplicate record %q", domain, r.key))
			}
			seen[r.key] = true
			r.words = make(map[string]struct{})
			for _, w := range strings.Fields(normalise(r.haystack(), false)) {
				r.words[w] = struct{}{}
			}
		}
		sort.SliceStable(records, func(i, j int) bool { return records[i].key < records[j].key })
		lib.domains[domain] = records
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return lib, nil
}

// Domains returns the domain names in sorted order.
func (l *Library) Domains() []string {
	out := make([]string, 0, len(l.domains))
	for d := range l.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of records in domain.
func (l *Library) Len(domain string) int {
	return len(l.domains[strings.ToLower(domain)])
}

// Find looks terms up in domain. It returns either the single one-line
// description of an exact match or up to max teasers. An empty result with a
// nil error means nothing matched.
func (l *Library) Find(domain string, terms []string, max int) ([]string, error) {
	records, ok := l.domains[strings.ToLower(domain)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	if max <= 0 {
		max = DefaultMax
	}
	query := strings.Join(terms, " ")
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	wild := strings.ContainsAny(query, "*?")
	key := normalise(query, wild)
	if !wild {
		for _, r := range records {
			if r.key == key {
				return []string{r.OneLine()}, nil
			}
		}
	}

	type hit struct {
		rank int
		rec  Record
	}
	var hits []hit
	patterns := strings.Fields(key)
	for _, r := range records {
		var rank int
		if wild {
			rank = globRank(r, key, patterns)
		} else {
			rank = substringRank(r, patterns)
		}
		if rank >= 0 {
			hits = append(hits, hit{rank: rank, rec: r})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	if len(hits) > max {
		hits = hits[:max]
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.rec.Teaser())
	}
	return out, nil
}

// globRank ranks whole-name matches first, then records where every pattern
// matches a word of the name, then records where every pattern matches some
// word of the text. -1 means no match.
func globRank(r Record, whole string, patterns []string) int {
	if ok, _ := path.Match(whole, r.key); ok {
		return 0
	}
	if allMatch(patterns, strings.Fields(r.key)) {
		return 1
	}
	words := make([]string, 0, len(r.words))
	for w := range r.words {
		words = append(words, w)
	}
	if allMatch(patterns, words) {
		return 2
	}
	return -1
}

func allMatch(patterns, words []string) bool {
	for _, p := range patterns {
		found := false
		for _, w := range words {
			if ok, _ := path.Match(p, w); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func substringRank(r Record, terms []string) int {
	inName, inText := true, true
	hay := normalise(r.haystack(), false)
	for _, t := range terms {
		if !strings.Contains(r.key, t) {
			inName = false
		}
		if !strings.Contains(hay, t) {
			inText = false
		}
	}
	switch {
	case inName:
		return 0
	case inText:
		return 1
	default:
		return -1
	}
}

// Suggest returns up to n record names in domain that sound or look like
// terms, best first. It is used for "did you mean" hints.
func (l *Library) Suggest(domain string, terms []string, n int) ([]string, error) {
	records, ok := l.domains[strings.ToLower(domain)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	query := normalise(strings.Join(terms, " "), false)
	if query == "" {
		return nil, nil
	}
	qPrimary, qSecondary := matchr.DoubleMetaphone(query)

	type scored struct {
		name  string
		score float64
	}
	var cands []scored
	for _, r := range records {
		score := matchr.JaroWinkler(query, r.key, false)
		p, s := matchr.DoubleMetaphone(r.key)
		if p != "" && (p == qPrimary || s == qSecondary) {
			score += 0.1
		}
		if score >= suggestThreshold {
			cands = append(cands, scored{name: r.Name, score: score})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.name)
	}
	return out, nil
}

// Complete returns up to n record names in domain for a partially typed
// prefix: names starting with it first, then [Library.Suggest] matches.
func (l *Library) Complete(domain, prefix string, n int) ([]string, error) {
	records, ok := l.domains[strings.ToLower(domain)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	want := normalise(prefix, false)
	var out []string
	seen := make(map[string]bool)
	for _, r := range records {
		if n > 0 && len(out) == n {
			return out, nil
		}
		if strings.HasPrefix(r.key, want) {
			out = append(out, r.Name)
			seen[r.Name] = true
		}
	}
	if want == "" {
		return out, nil
	}
	more, err := l.Suggest(domain, []string{prefix}, n)
	if err != nil {
		return nil, err
	}
	for _, name := range more {
		if n > 0 && len(out) == n {
			break
		}
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// normalise lower-cases s and collapses everything but letters and digits
// into single spaces. With keepGlob, '*' and '?' survive.
func normalise(s string, keepGlob bool) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || (keepGlob && (r == '*' || r == '?')) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
