package search

import (
	"strconv"
	"strings"
)

// SearchFilters holds the extracted filters and the remaining clean query
type SearchFilters struct {
	Chapter     string
	Page        int
	SearchQuery string // The remaining text matched against passages
}

// ParseQuery extracts slash filters from the raw question.
// Supported:
// /chapter:<term> OR /ch:<term> -> Filter by chapter title
// /page:<n> -> Filter by page number
// <text> -> Remaining text is the SearchQuery
func ParseQuery(raw string) SearchFilters {
	filters := SearchFilters{}
	parts := strings.Fields(raw)
	var cleanParts []string

	for _, part := range parts {
		lowerPart := strings.ToLower(part)

		switch {
		case strings.HasPrefix(lowerPart, "/chapter:"):
			filters.Chapter = strings.TrimPrefix(lowerPart, "/chapter:")
		case strings.HasPrefix(lowerPart, "/ch:"):
			filters.Chapter = strings.TrimPrefix(lowerPart, "/ch:")
		case strings.HasPrefix(lowerPart, "/page:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(lowerPart, "/page:")); err == nil && n > 0 {
				filters.Page = n
			}
		default:
			cleanParts = append(cleanParts, part)
		}
	}

	filters.SearchQuery = strings.Join(cleanParts, " ")
	return filters
}
