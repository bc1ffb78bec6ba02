package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/stratctx/internal/storage"
)

// Relevance weights.
const (
	weightSimilarity = 0.4
	weightContext    = 0.3
	weightRecency    = 0.2
	weightImportance = 0.1
)

// primaryTables are the tables each search type is mainly about.
var primaryTables = map[SearchType]string{
	DecisionContext:         tableExecutiveSessions,
	StakeholderIntelligence: tableStakeholders,
	InitiativeSimilarity:    tableInitiatives,
	StrategicThemes:         tableInitiatives,
	MeetingIntelligence:     tableMeetings,
}

func relevance(similarity, context, recency, importance float64) float64 {
	return weightSimilarity*similarity + weightContext*context + weightRecency*recency + weightImportance*importance
}

// contextScore rewards rows from the tables a search type targets and rows
// matching the stakeholder filter.
func contextScore(q Query, c candidate) float64 {
	score := 0.5
	switch {
	case primaryTables[q.Type] == c.table:
		score += 0.4
	case routes[q.Type].includes(c.table):
		score += 0.2
	}
	if q.Filters.StakeholderKey != "" && strings.EqualFold(q.Filters.StakeholderKey, c.stakeholder) {
		score += 0.2
	}
	return min(score, 1.0)
}

// recencyScore grades a date string by year relative to now.
func recencyScore(date string, now time.Time) float64 {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0.5
	}
	switch {
	case strings.Contains(date, fmt.Sprintf("%d-", now.Year())):
		return 0.9
	case strings.Contains(date, fmt.Sprintf("%d-", now.Year()-1)):
		return 0.7
	}
	if _, err := storage.ParseTime(date); err != nil {
		return 0.5
	}
	return 0.3
}

// importanceScore combines urgency language with table-specific markers.
func importanceScore(c candidate) float64 {
	score := 0.5
	lower := strings.ToLower(c.content)
	if matchCount(lower, urgencyKeywords) > 0 {
		score += 0.3
	}
	switch strings.ToLower(c.priority) {
	case "high", "critical":
		score += 0.3
	}
	if strings.EqualFold(c.risk, "red") {
		score += 0.2
	}
	if strings.EqualFold(c.influence, "high") {
		score += 0.2
	}
	return min(score, 1.0)
}
