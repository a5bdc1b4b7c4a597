package search

import (
	"strings"
)

type SearchStrategy string

const (
	StrategyPhrase  SearchStrategy = "phrase"
	StrategyKeyword SearchStrategy = "keyword"
)

// DetermineStrategy decides between exact phrase lookup and keyword scoring.
func DetermineStrategy(query string) SearchStrategy {
	query = strings.TrimSpace(query)

	// 1. Quoted queries are explicit phrase requests
	if len(query) >= 2 && strings.HasPrefix(query, "\"") && strings.HasSuffix(query, "\"") {
		return StrategyPhrase
	}

	// 2. A short selection of two or three words is usually a term lifted from the page
	if words := strings.Fields(query); len(words) > 0 && len(words) <= 3 {
		return StrategyPhrase
	}

	// 3. Default to keyword scoring for questions
	return StrategyKeyword
}
