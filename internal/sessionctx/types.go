package sessionctx

import (
	"fmt"
	"time"
)

// Turn is one exchange in a conversation thread.
type Turn struct {
	UserInput         string    `json:"user_input"`
	AssistantResponse string    `json:"assistant_response"`
	PersonasActivated []string  `json:"personas_activated,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Context is the structured snapshot of an in-progress session. Each field
// is persisted as its own JSON blob and is independently optional.
type Context struct {
	ActivePersonas     []string       `json:"active_personas,omitempty"`
	Stakeholder        map[string]any `json:"stakeholder_context,omitempty"`
	Initiatives        map[string]any `json:"strategic_initiatives_context,omitempty"`
	Executive          map[string]any `json:"executive_context,omitempty"`
	ROIDiscussions     map[string]any `json:"roi_discussions_context,omitempty"`
	CoalitionMapping   map[string]any `json:"coalition_mapping_context,omitempty"`
	ConversationThread []Turn         `json:"conversation_thread,omitempty"`
}

// Scoring selects the quality formula applied by UpdateSessionContext.
type Scoring int

const (
	// ScoreByActivity averages normalized turn-level counts.
	ScoreByActivity Scoring = iota
	// ScoreByPresence weights which structured categories are non-empty.
	ScoreByPresence
)

func (s Scoring) String() string {
	if s == ScoreByPresence {
		return "presence"
	}
	return "activity"
}

// ParseScoring accepts "activity", "presence" or "" (activity).
func ParseScoring(s string) (Scoring, error) {
	switch s {
	case "", "activity":
		return ScoreByActivity, nil
	case "presence":
		return ScoreByPresence, nil
	}
	return 0, fmt.Errorf("unknown scoring %q", s)
}

// ContextUpdate is a partial context write. Nil fields are left unchanged;
// ConversationThread turns are appended to the stored thread.
//
// StakeholderMentions, StrategicTopics and DecisionsMade are turn-level
// activity signals. They feed the activity score and are stored under the
// "mentions", "topics" and "decisions" keys of the stakeholder, initiatives
// and executive blobs when the matching structured field is nil.
type ContextUpdate struct {
	ActivePersonas     []string       `json:"active_personas,omitempty"`
	Stakeholder        map[string]any `json:"stakeholder_context,omitempty"`
	Initiatives        map[string]any `json:"strategic_initiatives_context,omitempty"`
	Executive          map[string]any `json:"executive_context,omitempty"`
	ROIDiscussions     map[string]any `json:"roi_discussions_context,omitempty"`
	CoalitionMapping   map[string]any `json:"coalition_mapping_context,omitempty"`
	ConversationThread []Turn         `json:"conversation_thread,omitempty"`

	StakeholderMentions []string `json:"stakeholder_mentions,omitempty"`
	StrategicTopics     []string `json:"strategic_topics,omitempty"`
	DecisionsMade       []string `json:"decisions_made,omitempty"`

	Scoring Scoring `json:"-"`
}

// SessionSummary describes one session for listings.
type SessionSummary struct {
	SessionID    string     `json:"session_id"`
	SessionType  string     `json:"session_type"`
	StartedAt    time.Time  `json:"session_start_timestamp"`
	LastBackupAt time.Time  `json:"last_backup_timestamp"`
	EndedAt      *time.Time `json:"session_end_timestamp,omitempty"`
	QualityScore float64    `json:"context_quality_score"`
}

// Gap types produced by completeness validation.
const (
	GapStakeholder = "missing_stakeholder_context"
	GapInitiatives = "missing_initiatives_context"
	GapExecutive   = "missing_executive_context"
	GapROI         = "missing_roi_context"
)

// Gap is a detected hole in a recovered context.
type Gap struct {
	ID               int64     `json:"id,omitempty"`
	SessionID        string    `json:"session_id"`
	Type             string    `json:"gap_type"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	RecoveryStrategy string    `json:"recovery_strategy"`
	RecoveryStatus   string    `json:"recovery_status"`
	DetectedAt       time.Time `json:"detected_at"`
}

// Recovery is the outcome of a restart check.
type Recovery struct {
	SessionID string `json:"session_id,omitempty"`
	Recovered bool   `json:"recovered"`
	Gaps      []Gap  `json:"gaps,omitempty"`
	Prompt    string `json:"prompt"`
}
