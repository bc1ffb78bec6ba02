package search

import (
	"errors"
	"fmt"
	"time"
)

var errUnknownType = errors.New("unknown search type")

// SearchType selects which tables a query is routed to.
type SearchType int

const (
	DecisionContext SearchType = iota
	StakeholderIntelligence
	InitiativeSimilarity
	StrategicThemes
	MeetingIntelligence
)

var searchTypeNames = map[SearchType]string{
	DecisionContext:         "decision_context",
	StakeholderIntelligence: "stakeholder_intelligence",
	InitiativeSimilarity:    "initiative_similarity",
	StrategicThemes:         "strategic_themes",
	MeetingIntelligence:     "meeting_intelligence",
}

func (t SearchType) String() string {
	if s, ok := searchTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("search_type(%d)", int(t))
}

// ParseSearchType converts a name such as "strategic_themes" to a SearchType.
func ParseSearchType(s string) (SearchType, error) {
	for t, name := range searchTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown search type %q", s)
}

// Filters narrow the rows each retriever considers.
type Filters struct {
	StakeholderKey string `json:"stakeholder_key,omitempty"`
	TimeRangeDays  int    `json:"time_range_days,omitempty"`
}

// Query is one search request.
type Query struct {
	Text            string     `json:"query"`
	Type            SearchType `json:"-"`
	MaxResults      int        `json:"max_results"`
	MinRelevance    float64    `json:"min_relevance"`
	Filters         Filters    `json:"filters"`
	IncludeMetadata bool       `json:"include_metadata"`
}

// Result is a scored row from one of the searched tables.
type Result struct {
	Content             string         `json:"content"`
	SourceTable         string         `json:"source_table"`
	SourceID            string         `json:"source_id"`
	RelevanceScore      float64        `json:"relevance_score"`
	ContextType         string         `json:"context_type"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	HighlightedSnippets []string       `json:"highlighted_snippets,omitempty"`
}

// ValidationResult reports one canned query from the performance self-check.
type ValidationResult struct {
	Query     string        `json:"query"`
	Type      string        `json:"search_type"`
	Elapsed   time.Duration `json:"elapsed"`
	Results   int           `json:"results"`
	WithinSLA bool          `json:"within_sla"`
}

// SearchError wraps a failed retrieval or scoring step.
type SearchError struct {
	Table string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("searching %s: %v", e.Table, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
