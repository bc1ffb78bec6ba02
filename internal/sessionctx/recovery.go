package sessionctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/stratctx/internal/storage"
)

// RestartPolicy decides whether a dangling session is worth resuming.
type RestartPolicy struct {
	Window     time.Duration
	MinQuality float64
}

// DefaultRestartPolicy resumes sessions backed up less than two hours ago
// with quality above 0.6.
var DefaultRestartPolicy = RestartPolicy{Window: 2 * time.Hour, MinQuality: 0.6}

// ShouldRecover reports whether a session last backed up elapsed ago with
// the given quality should be resumed. Both bounds are strict.
func (p RestartPolicy) ShouldRecover(elapsed time.Duration, quality float64) bool {
	return elapsed < p.Window && quality > p.MinQuality
}

// ShouldRecover applies DefaultRestartPolicy.
func ShouldRecover(elapsed time.Duration, quality float64) bool {
	return DefaultRestartPolicy.ShouldRecover(elapsed, quality)
}

// DetectSessionRestart looks for the most recent open session and reports
// whether it qualifies for recovery. The returned id is empty when it does not.
func (m *Manager) DetectSessionRestart(ctx context.Context) (string, bool) {
	rec, err := m.store.LatestOpenSession(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Debug("no open session, cold start")
		return "", false
	}
	if err != nil {
		m.logger.Error("restart detection failed", "error", &StorageError{Op: "latest open session", Err: err})
		return "", false
	}

	elapsed := m.clock.Now().Sub(rec.LastBackupAt)
	if !m.policy.ShouldRecover(elapsed, rec.QualityScore) {
		m.logger.Info("open session not resumed",
			"session_id", rec.SessionID, "elapsed", elapsed, "quality", rec.QualityScore)
		return "", false
	}
	m.logger.Info("resuming session", "session_id", rec.SessionID, "elapsed", elapsed, "quality", rec.QualityScore)
	return rec.SessionID, true
}

type gapRule struct {
	gapType     string
	description string
	severity    string
	strategy    string
	empty       func(Context) bool
}

var gapRules = []gapRule{
	{
		gapType:     GapStakeholder,
		description: "Stakeholder context is missing from the recovered session",
		severity:    "high",
		strategy:    "Ask which stakeholders were discussed and their current positions",
		empty:       func(c Context) bool { return len(c.Stakeholder) == 0 },
	},
	{
		gapType:     GapInitiatives,
		description: "Strategic initiative context is missing from the recovered session",
		severity:    "medium",
		strategy:    "Ask which initiatives are in progress or at risk",
		empty:       func(c Context) bool { return len(c.Initiatives) == 0 },
	},
	{
		gapType:     GapExecutive,
		description: "Executive session context is missing from the recovered session",
		severity:    "high",
		strategy:    "Ask for recent executive meetings, decisions and follow-ups",
		empty:       func(c Context) bool { return len(c.Executive) == 0 },
	},
	{
		gapType:     GapROI,
		description: "ROI discussion context is missing from the recovered session",
		severity:    "medium",
		strategy:    "Ask for the investment and ROI figures under discussion",
		empty:       func(c Context) bool { return len(c.ROIDiscussions) == 0 },
	},
}

// ValidateContextCompleteness restores the session and records a gap for
// each empty validated category. Gaps are appended on every call.
func (m *Manager) ValidateContextCompleteness(ctx context.Context, sessionID string) []Gap {
	c, err := m.restore(ctx, sessionID)
	if err != nil {
		m.logFailure("validate context completeness", sessionID, err)
		return nil
	}

	now := m.clock.Now()
	var gaps []Gap
	for _, r := range gapRules {
		if !r.empty(c) {
			continue
		}
		g := Gap{
			SessionID:        sessionID,
			Type:             r.gapType,
			Description:      r.description,
			Severity:         r.severity,
			RecoveryStrategy: r.strategy,
			RecoveryStatus:   "identified",
			DetectedAt:       now,
		}
		id, err := m.store.InsertGap(ctx, storage.ContextGap{
			SessionID:        g.SessionID,
			GapType:          g.Type,
			Description:      g.Description,
			Severity:         g.Severity,
			RecoveryStrategy: g.RecoveryStrategy,
			RecoveryStatus:   g.RecoveryStatus,
			DetectedAt:       g.DetectedAt,
		})
		if err != nil {
			m.logger.Warn("persisting context gap failed", "session_id", sessionID, "gap_type", g.Type,
				"error", &StorageError{Op: "insert gap", Err: err})
		}
		g.ID = id
		gaps = append(gaps, g)
	}
	return gaps
}

// ListContextGaps returns the gaps recorded for a session, oldest first.
func (m *Manager) ListContextGaps(ctx context.Context, sessionID string) []Gap {
	rows, err := m.store.ListGaps(ctx, sessionID)
	if err != nil {
		m.logFailure("list context gaps", sessionID, &StorageError{Op: "list gaps", Err: err})
		return nil
	}
	out := make([]Gap, 0, len(rows))
	for _, r := range rows {
		out = append(out, Gap{
			ID:               r.ID,
			SessionID:        r.SessionID,
			Type:             r.GapType,
			Description:      r.Description,
			Severity:         r.Severity,
			RecoveryStrategy: r.RecoveryStrategy,
			RecoveryStatus:   r.RecoveryStatus,
			DetectedAt:       r.DetectedAt,
		})
	}
	return out
}

const (
	completeContextMessage = "Session context recovered: complete context preserved. Continuing where we left off."
	coldStartMessage       = "No recent session to resume. Starting with a fresh context."
)

// GenerateRecoveryPrompt renders gaps as a numbered request for the missing
// information. It never returns an empty string.
func GenerateRecoveryPrompt(gaps []Gap) string {
	if len(gaps) == 0 {
		return completeContextMessage
	}
	var b strings.Builder
	b.WriteString("Session context recovered with gaps. To restore full context, please help with the following:\n\n")
	for i, g := range gaps {
		fmt.Fprintf(&b, "%d. %s\n   Suggested: %s\n", i+1, g.Description, g.RecoveryStrategy)
	}
	b.WriteString("\nPlease share the missing information so we can continue with full context.")
	return b.String()
}

// RecoverSession runs restart detection and, when a session is resumed,
// gap validation. The returned prompt is always set.
func (m *Manager) RecoverSession(ctx context.Context) Recovery {
	id, ok := m.DetectSessionRestart(ctx)
	if !ok {
		return Recovery{Prompt: coldStartMessage}
	}
	gaps := m.ValidateContextCompleteness(ctx, id)
	return Recovery{
		SessionID: id,
		Recovered: true,
		Gaps:      gaps,
		Prompt:    GenerateRecoveryPrompt(gaps),
	}
}
