package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is one row of session_context. Blob columns hold JSON text
// and are empty when NULL.
type SessionRecord struct {
	SessionID                   string
	SessionType                 string
	ActivePersonas              string
	StakeholderContext          string
	StrategicInitiativesContext string
	ExecutiveContext            string
	ROIDiscussionsContext       string
	CoalitionMappingContext     string
	ConversationThread          string
	LastBackupAt                time.Time
	StartedAt                   time.Time
	EndedAt                     *time.Time
	QualityScore                float64
}

// SessionFields carries blob columns for a partial update. Nil fields are left unchanged.
type SessionFields struct {
	ActivePersonas              *string
	StakeholderContext          *string
	StrategicInitiativesContext *string
	ExecutiveContext            *string
	ROIDiscussionsContext       *string
	CoalitionMappingContext     *string
	ConversationThread          *string
}

type SessionSummary struct {
	SessionID    string
	SessionType  string
	StartedAt    time.Time
	LastBackupAt time.Time
	EndedAt      *time.Time
	QualityScore float64
}

type ContextGap struct {
	ID               int64
	SessionID        string
	GapType          string
	Description      string
	Severity         string // "high" or "medium"
	RecoveryStrategy string
	RecoveryStatus   string
	DetectedAt       time.Time
}

// ThreadSnapshot is the conversation thread of one backed-up session.
type ThreadSnapshot struct {
	SessionID          string
	ConversationThread string // JSON array of turns
	BackedUpAt         time.Time
}

type StakeholderProfile struct {
	Key                string
	DisplayName        string
	RoleTitle          string
	Organization       string
	CommunicationStyle string
	InfluenceLevel     string
	StrategicInterests string
	RelationshipNotes  string
	LastInteraction    string
	UpdatedAt          time.Time
}

type Initiative struct {
	Key                string
	Name               string
	Description        string
	Status             string // "planning", "in_progress", "at_risk", "completed", ...
	Priority           string
	RiskLevel          string // "green", "yellow", "red"
	OwnerStakeholder   string
	ProgressPercentage float64
	TargetDate         string
	UpdatedAt          time.Time
}

type ExecutiveSession struct {
	SessionID      string
	SessionType    string
	StakeholderKey string
	SessionDate    string
	AgendaTopics   string
	KeyDecisions   string
	ActionItems    string
	Outcomes       string
}
