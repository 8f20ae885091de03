package search

import "strings"

// SortField selects the field search results are ordered by.
type SortField string

const (
	SortByTitle SortField = "title"
	SortByYear  SortField = "year"
)

// Sort is a sort directive for search results.
type Sort struct {
	Field     SortField
	Ascending bool
}

// DefaultSort is title ascending, applied when the caller specifies nothing.
var DefaultSort = Sort{Field: SortByTitle, Ascending: true}

// ParseSort maps the request parameters onto a sort directive. Unknown
// fields fall back to sorting by title.
func ParseSort(sortBy string, ascending bool) Sort {
	field := SortByTitle
	if strings.EqualFold(strings.TrimSpace(sortBy), string(SortByYear)) {
		field = SortByYear
	}
	return Sort{Field: field, Ascending: ascending}
}

// BuildSearchQuery translates a free-text query and a sort directive into
// the engine's structured query. It is a pure function so query shapes can
// be tested without a live engine.
//
// A blank query matches every document. A non-empty query is an OR of
// phrase-prefix matches on title and author, requiring at least one to
// match; this favors as-you-type prefix matching over exact or fuzzy
// matching. Sorting by title uses the keyword subfield so ordering is
// lexicographic on the literal string rather than on tokenized text.
func BuildSearchQuery(query string, sort Sort) map[string]any {
	var clause map[string]any
	if strings.TrimSpace(query) == "" {
		clause = map[string]any{"match_all": map[string]any{}}
	} else {
		clause = map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{
						"match_phrase_prefix": map[string]any{
							"title": map[string]any{"query": query},
						},
					},
					map[string]any{
						"match_phrase_prefix": map[string]any{
							"author": map[string]any{"query": query},
						},
					},
				},
				"minimum_should_match": 1,
			},
		}
	}

	order := "desc"
	if sort.Ascending {
		order = "asc"
	}
	var sortClause map[string]any
	switch sort.Field {
	case SortByYear:
		sortClause = map[string]any{"publicationYear": map[string]any{"order": order}}
	default:
		sortClause = map[string]any{"title.keyword": map[string]any{"order": order}}
	}

	return map[string]any{
		"query": clause,
		"sort":  []any{sortClause},
	}
}
