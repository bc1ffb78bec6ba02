// Package sessionctx persists the evolving context of a strategic
// conversation and decides whether a new process should resume it.
package sessionctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/stratctx/internal/classify"
	"github.com/kalambet/stratctx/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	InsertSession(ctx context.Context, sessionID, sessionType string, at time.Time) error
	UpdateSessionFields(ctx context.Context, sessionID string, f storage.SessionFields, score float64, at time.Time) (bool, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) error
	EndOpenSessions(ctx context.Context, at time.Time) (int64, error)
	GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error)
	LatestOpenSession(ctx context.Context) (storage.SessionRecord, error)
	RecentSessions(ctx context.Context, since time.Time) ([]storage.SessionSummary, error)
	RecentThreads(ctx context.Context, since time.Time, limit int) ([]storage.ThreadSnapshot, error)
	InsertGap(ctx context.Context, g storage.ContextGap) (int64, error)
	ListGaps(ctx context.Context, sessionID string) ([]storage.ContextGap, error)

	StakeholdersUpdatedSince(ctx context.Context, since time.Time) ([]storage.StakeholderProfile, error)
	InitiativesByStatus(ctx context.Context, statuses ...string) ([]storage.Initiative, error)
	ExecutiveSessionsSince(ctx context.Context, since time.Time) ([]storage.ExecutiveSession, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Clock     Clock
	Logger    *slog.Logger
	// Policy gates session resumption. Nil selects DefaultRestartPolicy; a
	// non-nil policy is used as given, except that a non-positive Window
	// falls back to the default window.
	Policy    *RestartPolicy
	Personas  classify.Classifier
	ROI       classify.Classifier
	Coalition classify.Classifier
}

// Manager owns session_context and context_gaps rows. Apart from
// StartSession, its methods never return errors: failures are logged and
// reported as false or empty results.
type Manager struct {
	store     Store
	clock     Clock
	logger    *slog.Logger
	policy    RestartPolicy
	personas  classify.Classifier
	roi       classify.Classifier
	coalition classify.Classifier
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts Options) *Manager {
	m := &Manager{
		store:     store,
		clock:     opts.Clock,
		logger:    opts.Logger,
		policy:    DefaultRestartPolicy,
		personas:  opts.Personas,
		roi:       opts.ROI,
		coalition: opts.Coalition,
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if opts.Policy != nil {
		m.policy = *opts.Policy
		if m.policy.Window <= 0 {
			m.policy.Window = DefaultRestartPolicy.Window
		}
	}
	if m.personas == nil {
		m.personas = classify.NewPersonaClassifier()
	}
	if m.roi == nil {
		m.roi = classify.NewROIClassifier()
	}
	if m.coalition == nil {
		m.coalition = classify.NewCoalitionClassifier()
	}
	return m
}

// StartSession creates an open session and returns its id.
func (m *Manager) StartSession(ctx context.Context, sessionType string) (string, error) {
	id := uuid.New().String()
	if err := m.store.InsertSession(ctx, id, sessionType, m.clock.Now()); err != nil {
		return "", &StorageError{Op: "start session", Err: err}
	}
	m.logger.Info("session started", "session_id", id, "session_type", sessionType)
	return id, nil
}

// UpdateSessionContext merges u into the stored session, rescoring it with
// u.Scoring. It reports false when the session does not exist or the write fails.
func (m *Manager) UpdateSessionContext(ctx context.Context, sessionID string, u ContextUpdate) bool {
	current, err := m.restore(ctx, sessionID)
	if err != nil {
		m.logFailure("update session context", sessionID, err)
		return false
	}

	merged := current
	var fields storage.SessionFields

	if u.ActivePersonas != nil {
		merged.ActivePersonas = u.ActivePersonas
	}
	if u.Stakeholder != nil {
		merged.Stakeholder = u.Stakeholder
	} else if len(u.StakeholderMentions) > 0 {
		merged.Stakeholder = appendSignals(current.Stakeholder, "mentions", u.StakeholderMentions)
	}
	if u.Initiatives != nil {
		merged.Initiatives = u.Initiatives
	} else if len(u.StrategicTopics) > 0 {
		merged.Initiatives = appendSignals(current.Initiatives, "topics", u.StrategicTopics)
	}
	if u.Executive != nil {
		merged.Executive = u.Executive
	} else if len(u.DecisionsMade) > 0 {
		merged.Executive = appendSignals(current.Executive, "decisions", u.DecisionsMade)
	}
	if u.ROIDiscussions != nil {
		merged.ROIDiscussions = u.ROIDiscussions
	}
	if u.CoalitionMapping != nil {
		merged.CoalitionMapping = u.CoalitionMapping
	}
	if len(u.ConversationThread) > 0 {
		thread := make([]Turn, 0, len(current.ConversationThread)+len(u.ConversationThread))
		thread = append(thread, current.ConversationThread...)
		merged.ConversationThread = append(thread, u.ConversationThread...)
	}

	if u.ActivePersonas != nil {
		fields.ActivePersonas = encodeField(merged.ActivePersonas)
	}
	if u.Stakeholder != nil || len(u.StakeholderMentions) > 0 {
		fields.StakeholderContext = encodeField(merged.Stakeholder)
	}
	if u.Initiatives != nil || len(u.StrategicTopics) > 0 {
		fields.StrategicInitiativesContext = encodeField(merged.Initiatives)
	}
	if u.Executive != nil || len(u.DecisionsMade) > 0 {
		fields.ExecutiveContext = encodeField(merged.Executive)
	}
	if u.ROIDiscussions != nil {
		fields.ROIDiscussionsContext = encodeField(merged.ROIDiscussions)
	}
	if u.CoalitionMapping != nil {
		fields.CoalitionMappingContext = encodeField(merged.CoalitionMapping)
	}
	if len(u.ConversationThread) > 0 {
		fields.ConversationThread = encodeField(merged.ConversationThread)
	}

	var score float64
	switch u.Scoring {
	case ScoreByPresence:
		score = QualityFromPresence(merged)
	default:
		score = QualityFromActivityCounts(activityCounts(merged))
	}

	changed, err := m.store.UpdateSessionFields(ctx, sessionID, fields, score, m.clock.Now())
	if err != nil {
		m.logFailure("update session context", sessionID, &StorageError{Op: "update session", Err: err})
		return false
	}
	m.logger.Debug("session context updated", "session_id", sessionID, "quality", score)
	return changed
}

// BackupSessionContext rebuilds the full context from recent history and
// collaborator tables and stores it with a presence-based quality score.
func (m *Manager) BackupSessionContext(ctx context.Context, sessionID string) bool {
	c, err := m.reconstruct(ctx)
	if err != nil {
		m.logFailure("backup session context", sessionID, err)
		return false
	}

	fields := storage.SessionFields{
		ActivePersonas:              encodeField(c.ActivePersonas),
		StakeholderContext:          encodeField(c.Stakeholder),
		StrategicInitiativesContext: encodeField(c.Initiatives),
		ExecutiveContext:            encodeField(c.Executive),
		ROIDiscussionsContext:       encodeField(c.ROIDiscussions),
		CoalitionMappingContext:     encodeField(c.CoalitionMapping),
	}
	score := QualityFromPresence(c)

	changed, err := m.store.UpdateSessionFields(ctx, sessionID, fields, score, m.clock.Now())
	if err != nil {
		m.logFailure("backup session context", sessionID, &StorageError{Op: "backup session", Err: err})
		return false
	}
	if !changed {
		m.logger.Warn("backup skipped, session not found", "session_id", sessionID)
		return false
	}
	m.logger.Info("session context backed up", "session_id", sessionID, "quality", score)
	return true
}

// EndSession marks the session closed.
func (m *Manager) EndSession(ctx context.Context, sessionID string) bool {
	if err := m.store.EndSession(ctx, sessionID, m.clock.Now()); err != nil {
		m.logFailure("end session", sessionID, err)
		return false
	}
	m.logger.Info("session ended", "session_id", sessionID)
	return true
}

// CloseAbandonedSessions ends every open session. Callers use it on a cold
// start, after DetectSessionRestart declined to resume, so that at most one
// session stays open.
func (m *Manager) CloseAbandonedSessions(ctx context.Context) int {
	n, err := m.store.EndOpenSessions(ctx, m.clock.Now())
	if err != nil {
		m.logger.Error("closing abandoned sessions failed", "error", &StorageError{Op: "end open sessions", Err: err})
		return 0
	}
	if n > 0 {
		m.logger.Info("closed abandoned sessions", "count", n)
	}
	return int(n)
}

// GetRecentSessions lists sessions started within the last hours, most recent first.
func (m *Manager) GetRecentSessions(ctx context.Context, hours int) []SessionSummary {
	since := m.clock.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := m.store.RecentSessions(ctx, since)
	if err != nil {
		m.logger.Error("listing recent sessions failed", "error", err)
		return nil
	}
	out := make([]SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionSummary{
			SessionID:    r.SessionID,
			SessionType:  r.SessionType,
			StartedAt:    r.StartedAt,
			LastBackupAt: r.LastBackupAt,
			EndedAt:      r.EndedAt,
			QualityScore: r.QualityScore,
		})
	}
	return out
}

// RestoreSessionContext loads the stored context. A corrupt field is logged
// and restored as empty; the bool is false only when the session cannot be read.
func (m *Manager) RestoreSessionContext(ctx context.Context, sessionID string) (Context, bool) {
	c, err := m.restore(ctx, sessionID)
	if err != nil {
		m.logFailure("restore session context", sessionID, err)
		return Context{}, false
	}
	return c, true
}

// SessionQuality returns the stored quality score of a session.
func (m *Manager) SessionQuality(ctx context.Context, sessionID string) (float64, bool) {
	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		m.logFailure("read session quality", sessionID, err)
		return 0, false
	}
	return rec.QualityScore, true
}

func (m *Manager) restore(ctx context.Context, sessionID string) (Context, error) {
	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Context{}, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return Context{}, &StorageError{Op: "get session", Err: err}
	}

	var c Context
	m.decodeField(sessionID, "active_personas", rec.ActivePersonas, &c.ActivePersonas)
	m.decodeField(sessionID, "stakeholder_context", rec.StakeholderContext, &c.Stakeholder)
	m.decodeField(sessionID, "strategic_initiatives_context", rec.StrategicInitiativesContext, &c.Initiatives)
	m.decodeField(sessionID, "executive_context", rec.ExecutiveContext, &c.Executive)
	m.decodeField(sessionID, "roi_discussions_context", rec.ROIDiscussionsContext, &c.ROIDiscussions)
	m.decodeField(sessionID, "coalition_mapping_context", rec.CoalitionMappingContext, &c.CoalitionMapping)
	m.decodeField(sessionID, "conversation_thread", rec.ConversationThread, &c.ConversationThread)
	return c, nil
}

// decodeField unmarshals raw into dst. Empty or corrupt blobs leave dst at
// its zero value.
func (m *Manager) decodeField(sessionID, field, raw string, dst any) {
	if raw == "" || raw == "null" {
		return
	}
	if err := decodeBlob(raw, dst); err != nil {
		m.logger.Warn("corrupt session field, treating as empty",
			"session_id", sessionID, "error", &DecodeError{Field: field, Err: err})
		// Unmarshal may have partially filled dst.
		switch d := dst.(type) {
		case *[]string:
			*d = nil
		case *map[string]any:
			*d = nil
		case *[]Turn:
			*d = nil
		}
	}
}

func (m *Manager) logFailure(op, sessionID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn(op+" failed", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Error(op+" failed", "session_id", sessionID, "error", err)
}

// encodeField marshals v to JSON text. Unencodable values are stored as null.
func encodeField(v any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		s := "null"
		return &s
	}
	s := string(data)
	return &s
}

// decodeBlob decodes one JSON blob. Numbers inside maps come back as int64
// when they are whole and float64 otherwise.
func decodeBlob(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	if d, ok := dst.(*map[string]any); ok {
		for k, v := range *d {
			(*d)[k] = normalizeNumbers(v)
		}
	}
	return nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	}
	return v
}

// activityCounts reads the five activity signals from the stored context,
// so an update carrying only turns keeps earlier mentions, topics and decisions.
func activityCounts(c Context) ActivityCounts {
	return ActivityCounts{
		Turns:     len(c.ConversationThread),
		Personas:  len(c.ActivePersonas),
		Mentions:  len(stringList(c.Stakeholder["mentions"])),
		Topics:    len(stringList(c.Initiatives["topics"])),
		Decisions: len(stringList(c.Executive["decisions"])),
	}
}

// appendSignals adds values to the list stored under key, skipping duplicates.
func appendSignals(base map[string]any, key string, values []string) map[string]any {
	list := stringList(base[key])
	seen := make(map[string]bool, len(list)+len(values))
	for _, v := range list {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			list = append(list, v)
		}
	}
	return withKey(base, key, list)
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func withKey(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
