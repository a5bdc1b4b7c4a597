package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTextShortInput(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitText("short", 10, 2))
}

func TestSplitTextCoversInputAndPrefersWhitespace(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)
	chunks := SplitText(text, 50, 10)

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(c)), 50)
		assert.False(t, strings.HasSuffix(c, "alph"), "cut mid-word: %q", c)
	}
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestSplitTextCountsRunes(t *testing.T) {
	text := strings.Repeat("ä", 25)
	chunks := SplitText(text, 10, 0)
	assert.Len(t, chunks, 3)
	assert.Equal(t, "ääääääääää", chunks[0])
}
