package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIndex = `
- title: Robot Arm Handbook
  url: https://docs.example.com/arm
  pages:
    - page: 12
      chapter: Control
      text: Gravity compensation adds a feed-forward torque so the joint holds its pose without drift.
    - page: 13
      chapter: Control
      text: The PID loop corrects residual error after the feed-forward term is applied.
- title: Release Notes
  url: https://docs.example.com/notes
  pages:
    - chapter: Version 2
      text: Version 2 introduces torque limits and a safer homing routine.
`

func loadSample(t *testing.T) *Index {
	t.Helper()
	idx, err := LoadIndex(strings.NewReader(sampleIndex))
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())
	return idx
}

func TestSearchPhraseRanksExactMatchFirst(t *testing.T) {
	idx := loadSample(t)

	hits := idx.Search("gravity compensation", 2)
	require.NotEmpty(t, hits)
	assert.Equal(t, 12, hits[0].Page)

	c := hits[0].Citation()
	require.NotNil(t, c.Page)
	assert.Equal(t, 12, *c.Page)
	assert.Empty(t, c.URL)
	assert.Equal(t, "Robot Arm Handbook", c.Source)
}

func TestSearchKeywordsAndFilters(t *testing.T) {
	idx := loadSample(t)

	hits := idx.Search("what does the torque limit change in version 2", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Release Notes", hits[0].Source)
	assert.Equal(t, "Version 2", hits[0].Citation().Chapter)

	hits = idx.Search("/page:13 feed-forward torque", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, 13, hits[0].Page)

	assert.Empty(t, idx.Search("quantum chromodynamics lattice", 5))
}

func TestParseQuery(t *testing.T) {
	f := ParseQuery("/ch:Control /page:4 why does it drift")
	assert.Equal(t, "control", f.Chapter)
	assert.Equal(t, 4, f.Page)
	assert.Equal(t, "why does it drift", f.SearchQuery)

	f = ParseQuery("/page:x hello")
	assert.Zero(t, f.Page)
	assert.Equal(t, "hello", f.SearchQuery)
}

func TestDetermineStrategy(t *testing.T) {
	assert.Equal(t, StrategyPhrase, DetermineStrategy(`"holds its pose"`))
	assert.Equal(t, StrategyPhrase, DetermineStrategy("gravity compensation"))
	assert.Equal(t, StrategyKeyword, DetermineStrategy("how does the arm hold its pose"))
}

func TestExcerptShortensLongPassages(t *testing.T) {
	long := strings.Repeat("word ", 100)
	out := excerpt(long)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.LessOrEqual(t, len([]rune(out)), excerptRunes+1)
}
