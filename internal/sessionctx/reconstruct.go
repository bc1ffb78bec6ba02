package sessionctx

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/stratctx/internal/storage"
)

const day = 24 * time.Hour

// Look-back windows and backup limits used when rebuilding context.
const (
	personaRecentWindow  = day
	personaRecentLimit   = 5
	personaKeywordWindow = 7 * day
	personaKeywordLimit  = 10
	stakeholderWindow    = 30 * day
	executiveWindow      = 14 * day
	roiWindow            = 30 * day
	roiLimit             = 15
	coalitionWindow      = 30 * day
	coalitionLimit       = 10

	maxExcerptRunes = 200
)

// activeInitiativeStatuses are the statuses carried into a backup.
var activeInitiativeStatuses = []string{"in_progress", "at_risk"}

// Excerpt is a piece of conversation text that matched a keyword rule.
type Excerpt struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"excerpt"`
	Timestamp time.Time `json:"timestamp"`
}

// reconstruct derives a full context from recent conversation history and
// the collaborator tables. It reads everything it needs before returning.
func (m *Manager) reconstruct(ctx context.Context) (Context, error) {
	now := m.clock.Now()
	var c Context
	var err error

	if c.ActivePersonas, err = m.recentPersonas(ctx, now); err != nil {
		return Context{}, err
	}
	if c.Stakeholder, err = m.stakeholderContext(ctx, now); err != nil {
		return Context{}, err
	}
	if c.Initiatives, err = m.initiativesContext(ctx); err != nil {
		return Context{}, err
	}
	if c.Executive, err = m.executiveContext(ctx, now); err != nil {
		return Context{}, err
	}
	if c.ROIDiscussions, err = m.roiContext(ctx, now); err != nil {
		return Context{}, err
	}
	if c.CoalitionMapping, err = m.coalitionContext(ctx, now); err != nil {
		return Context{}, err
	}
	return c, nil
}

// recentPersonas unions personas recorded on recent turns with personas
// detected by keyword in a wider window.
func (m *Manager) recentPersonas(ctx context.Context, now time.Time) ([]string, error) {
	seen := make(map[string]bool)

	recent, err := m.threads(ctx, now.Add(-personaRecentWindow), personaRecentLimit)
	if err != nil {
		return nil, err
	}
	for _, th := range recent {
		for _, t := range th.turns {
			for _, p := range t.PersonasActivated {
				if p = strings.TrimSpace(p); p != "" {
					seen[strings.ToLower(p)] = true
				}
			}
		}
	}

	wider, err := m.threads(ctx, now.Add(-personaKeywordWindow), personaKeywordLimit)
	if err != nil {
		return nil, err
	}
	for _, th := range wider {
		for _, t := range th.turns {
			for _, p := range m.personas.Classify(turnText(t)) {
				seen[p] = true
			}
		}
	}

	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) stakeholderContext(ctx context.Context, now time.Time) (map[string]any, error) {
	profiles, err := m.store.StakeholdersUpdatedSince(ctx, now.Add(-stakeholderWindow))
	if err != nil {
		return nil, &StorageError{Op: "read stakeholders", Err: err}
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(profiles))
	for _, p := range profiles {
		out[p.Key] = map[string]any{
			"display_name":        p.DisplayName,
			"role_title":          p.RoleTitle,
			"organization":        p.Organization,
			"influence_level":     p.InfluenceLevel,
			"communication_style": p.CommunicationStyle,
			"strategic_interests": p.StrategicInterests,
			"last_interaction":    p.LastInteraction,
		}
	}
	return out, nil
}

func (m *Manager) initiativesContext(ctx context.Context) (map[string]any, error) {
	initiatives, err := m.store.InitiativesByStatus(ctx, activeInitiativeStatuses...)
	if err != nil {
		return nil, &StorageError{Op: "read initiatives", Err: err}
	}
	if len(initiatives) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(initiatives))
	for _, in := range initiatives {
		out[in.Key] = map[string]any{
			"name":                in.Name,
			"status":              in.Status,
			"priority":            in.Priority,
			"risk_level":          in.RiskLevel,
			"owner":               in.OwnerStakeholder,
			"progress_percentage": in.ProgressPercentage,
			"target_date":         in.TargetDate,
		}
	}
	return out, nil
}

func (m *Manager) executiveContext(ctx context.Context, now time.Time) (map[string]any, error) {
	sessions, err := m.store.ExecutiveSessionsSince(ctx, now.Add(-executiveWindow))
	if err != nil {
		return nil, &StorageError{Op: "read executive sessions", Err: err}
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(sessions))
	for _, es := range sessions {
		out[es.SessionID] = map[string]any{
			"session_type":  es.SessionType,
			"stakeholder":   es.StakeholderKey,
			"session_date":  es.SessionDate,
			"agenda_topics": es.AgendaTopics,
			"key_decisions": es.KeyDecisions,
			"action_items":  es.ActionItems,
			"outcomes":      es.Outcomes,
		}
	}
	return out, nil
}

func (m *Manager) roiContext(ctx context.Context, now time.Time) (map[string]any, error) {
	threads, err := m.threads(ctx, now.Add(-roiWindow), roiLimit)
	if err != nil {
		return nil, err
	}
	var excerpts []Excerpt
	for _, th := range threads {
		for _, t := range th.turns {
			text := turnText(t)
			if len(m.roi.Classify(text)) > 0 {
				excerpts = append(excerpts, th.excerpt(t, text))
			}
		}
	}
	if len(excerpts) == 0 {
		return nil, nil
	}
	return map[string]any{"discussions": excerpts}, nil
}

// coalitionContext groups matching excerpts by coalition category.
func (m *Manager) coalitionContext(ctx context.Context, now time.Time) (map[string]any, error) {
	threads, err := m.threads(ctx, now.Add(-coalitionWindow), coalitionLimit)
	if err != nil {
		return nil, err
	}
	byCategory := make(map[string][]Excerpt)
	for _, th := range threads {
		for _, t := range th.turns {
			text := turnText(t)
			for _, cat := range m.coalition.Classify(text) {
				byCategory[cat] = append(byCategory[cat], th.excerpt(t, text))
			}
		}
	}
	if len(byCategory) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(byCategory))
	for cat, ex := range byCategory {
		out[cat] = ex
	}
	return out, nil
}

type decodedThread struct {
	sessionID  string
	backedUpAt time.Time
	turns      []Turn
}

func (th decodedThread) excerpt(t Turn, text string) Excerpt {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = th.backedUpAt
	}
	return Excerpt{SessionID: th.sessionID, Text: truncate(text, maxExcerptRunes), Timestamp: ts}
}

// threads loads and decodes recent conversation threads, skipping corrupt ones.
func (m *Manager) threads(ctx context.Context, since time.Time, limit int) ([]decodedThread, error) {
	snaps, err := m.store.RecentThreads(ctx, since, limit)
	if err != nil {
		return nil, &StorageError{Op: "read conversation threads", Err: err}
	}
	out := make([]decodedThread, 0, len(snaps))
	for _, s := range snaps {
		th := decodedThread{sessionID: s.SessionID, backedUpAt: s.BackedUpAt}
		if err := unmarshalThread(s, &th.turns); err != nil {
			m.logger.Warn("skipping corrupt conversation thread", "session_id", s.SessionID,
				"error", &DecodeError{Field: "conversation_thread", Err: err})
			continue
		}
		out = append(out, th)
	}
	return out, nil
}

func unmarshalThread(s storage.ThreadSnapshot, dst *[]Turn) error {
	if s.ConversationThread == "" || s.ConversationThread == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.ConversationThread), dst)
}

func turnText(t Turn) string {
	return strings.TrimSpace(t.UserInput + " " + t.AssistantResponse)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
