package search

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"docchat-client/internal/entity"
	"docchat-client/pkg/utils"
)

const (
	passageSize    = 480
	passageOverlap = 60
	excerptRunes   = 240
)

// Page is one page of a document in the index source file.
type Page struct {
	Number  int    `yaml:"page"`
	Chapter string `yaml:"chapter"`
	Text    string `yaml:"text"`
}

// Document is a source the dev backend can cite.
type Document struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
	Pages []Page `yaml:"pages"`
}

type Passage struct {
	Source  string
	URL     string
	Page    int
	Chapter string
	Text    string

	terms map[string]int
}

// Citation renders the passage as a citation with a single locator.
func (p Passage) Citation() entity.Citation {
	c := entity.Citation{Excerpt: excerpt(p.Text), Source: p.Source}
	switch {
	case p.Page > 0:
		page := p.Page
		c.Page = &page
	case p.Chapter != "":
		c.Chapter = p.Chapter
	default:
		c.URL = p.URL
	}
	return c
}

// Index is an in-memory passage index over a fixed set of documents.
type Index struct {
	passages []Passage
}

// LoadIndex reads a YAML list of documents.
func LoadIndex(r io.Reader) (*Index, error) {
	var docs []Document
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode page index: %w", err)
	}
	return NewIndex(docs), nil
}

func NewIndex(docs []Document) *Index {
	idx := &Index{}
	for _, doc := range docs {
		for _, page := range doc.Pages {
			for _, chunk := range utils.SplitText(strings.TrimSpace(page.Text), passageSize, passageOverlap) {
				chunk = strings.TrimSpace(chunk)
				if chunk == "" {
					continue
				}
				idx.passages = append(idx.passages, Passage{
					Source:  doc.Title,
					URL:     doc.URL,
					Page:    page.Number,
					Chapter: page.Chapter,
					Text:    chunk,
					terms:   termCounts(chunk),
				})
			}
		}
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.passages)
}

// Search returns up to limit passages for a question, best first.
func (idx *Index) Search(raw string, limit int) []Passage {
	filters := ParseQuery(raw)
	query := strings.TrimSpace(filters.SearchQuery)
	strategy := DetermineStrategy(query)
	phrase := strings.ToLower(strings.Trim(query, "\""))
	queryTerms := termCounts(query)

	type scored struct {
		passage Passage
		score   int
		order   int
	}
	var hits []scored
	for i, p := range idx.passages {
		if filters.Page > 0 && p.Page != filters.Page {
			continue
		}
		if filters.Chapter != "" && !strings.Contains(strings.ToLower(p.Chapter), filters.Chapter) {
			continue
		}

		score := 0
		if strategy == StrategyPhrase && phrase != "" && strings.Contains(strings.ToLower(p.Text), phrase) {
			score += 100
		}
		for term := range queryTerms {
			score += p.terms[term]
		}
		if score == 0 && query != "" {
			continue
		}
		hits = append(hits, scored{passage: p, score: score, order: i})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = h.passage
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "what": {}, "how": {}, "does": {}, "this": {},
	"that": {}, "with": {}, "are": {}, "is": {}, "of": {}, "to": {}, "in": {}, "a": {},
	"an": {}, "it": {}, "on": {}, "why": {}, "explain": {}, "me": {},
}

func termCounts(text string) map[string]int {
	counts := map[string]int{}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(word)) < 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		counts[word]++
	}
	return counts
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	cut := excerptRunes
	for j := excerptRunes; j > excerptRunes*3/4; j-- {
		if unicode.IsSpace(runes[j]) {
			cut = j
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
