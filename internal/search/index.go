// Package search provides a small, deterministic, concurrency-safe in-memory
// index of defect names used to suggest consistent spellings while a worker
// records a defect line.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Diacritic-insensitive tokenization ("vết bẩn" matches "vet ban")
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// name's token set: score = |Q ∩ N| / |Q ∪ N|. A query token also matches a
// name token it is a prefix of, so partially typed words still score.
package search

import (
	"cmp"
	"io"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-ncr-backend/internal/aql"
)

// Result is a suggested defect name with its similarity score.
type Result struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// Option tunes an index at construction time.
type Option func(*config)

type config struct {
	minPrefixRunes int
	stopwords      map[string]struct{}
	maxDocs        int
}

func defaultConfig() config {
	return config{minPrefixRunes: 2}
}

// WithMinPrefixRunes sets how long a query token must be before it may match
// a longer name token by prefix. 0 disables prefix matching.
func WithMinPrefixRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minPrefixRunes = n
		}
	}
}

// WithStopwords drops filler words ("loi", "bi") from both names and queries.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = aql.Fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps how many names are indexed.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	name   string
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromReader builds an Index from a defect-name list read from r
// (see ReadNames for the accepted format).
func NewIndexFromReader(r io.Reader, opts ...Option) (Index, error) {
	names, err := ReadNames(r)
	if err != nil {
		cfg := defaultConfig()
		for _, o := range opts {
			o(&cfg)
		}
		return &index{cfg: cfg}, err
	}
	return NewIndex(names, opts...), nil
}

// NewIndex builds an Index from names. Names that fold to the same text are
// kept once, first spelling wins.
func NewIndex(names []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(names, cfg)
}

func buildIndex(names []string, cfg config) *index {
	docs := make([]doc, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		n := strings.TrimSpace(normalizeWhitespace(raw))
		if n == "" {
			continue
		}
		key := aql.Fold(n)
		if _, dup := seen[key]; dup {
			continue
		}
		toks := tokenize(n, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		seen[key] = struct{}{}
		docs = append(docs, doc{name: n, tokens: toks, tLen: len(toks)})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching names.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 5
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type hit struct {
		name  string
		score float64
		runes int
	}
	hits := make([]hit, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		shared := overlap(qTokens, d.tokens, i.cfg.minPrefixRunes)
		if shared == 0 {
			continue
		}
		union := qLen + d.tLen - shared
		if union <= 0 {
			continue
		}
		hits = append(hits, hit{
			name:  d.name,
			score: float64(shared) / float64(union),
			runes: utf8.RuneCountInString(d.name),
		})
	}
	if len(hits) == 0 {
		return nil
	}

	// best score first, then the shorter name, then alphabetical
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.runes, b.runes); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	out := make([]Result, 0, min(k, len(hits)))
	for _, h := range hits[:cap(out)] {
		out = append(out, Result{Name: h.name, Score: h.score})
	}
	return out
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(aql.Fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts query tokens present in the name, exactly or (when at least
// minPrefix runes long) as a prefix of a name token.
func overlap(q, name map[string]struct{}, minPrefix int) int {
	if len(q) == 0 || len(name) == 0 {
		return 0
	}
	n := 0
	for w := range q {
		if _, ok := name[w]; ok {
			n++
			continue
		}
		if minPrefix == 0 || utf8.RuneCountInString(w) < minPrefix {
			continue
		}
		for nt := range name {
			if strings.HasPrefix(nt, w) {
				n++
				break
			}
		}
	}
	return n
}

// normalizeWhitespace collapses every run of whitespace into one space.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
