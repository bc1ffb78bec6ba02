package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `session_id, session_type, active_personas, stakeholder_context,
	strategic_initiatives_context, executive_context, roi_discussions_context,
	coalition_mapping_context, conversation_thread, last_backup_timestamp,
	session_start_timestamp, session_end_timestamp, context_quality_score`

// --- Sessions ---

// InsertSession creates an open session row with start and backup timestamps set to at.
func (s *Store) InsertSession(ctx context.Context, sessionID, sessionType string, at time.Time) error {
	ts := FormatTime(at)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_context (session_id, session_type, last_backup_timestamp, session_start_timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, sessionType, ts, ts, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateSessionFields writes the non-nil blob fields together with the quality
// score and backup timestamp. It reports whether a row was changed.
func (s *Store) UpdateSessionFields(ctx context.Context, sessionID string, f SessionFields, score float64, at time.Time) (bool, error) {
	sets := []string{"context_quality_score = ?", "last_backup_timestamp = ?", "updated_at = ?"}
	ts := FormatTime(at)
	args := []any{score, ts, ts}

	add := func(col string, v *string) {
		if v == nil {
			return
		}
		sets = append(sets, col+" = ?")
		args = append(args, *v)
	}
	add("active_personas", f.ActivePersonas)
	add("stakeholder_context", f.StakeholderContext)
	add("strategic_initiatives_context", f.StrategicInitiativesContext)
	add("executive_context", f.ExecutiveContext)
	add("roi_discussions_context", f.ROIDiscussionsContext)
	add("coalition_mapping_context", f.CoalitionMappingContext)
	add("conversation_thread", f.ConversationThread)

	args = append(args, sessionID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_context SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("updating session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EndSession stamps session_end_timestamp.
func (s *Store) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	ts := FormatTime(at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_context SET session_end_timestamp = ?, updated_at = ? WHERE session_id = ?`,
		ts, ts, sessionID)
	if err != nil {
		return fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndOpenSessions stamps session_end_timestamp on every open session and
// returns how many were closed.
func (s *Store) EndOpenSessions(ctx context.Context, at time.Time) (int64, error) {
	ts := FormatTime(at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_context SET session_end_timestamp = ?, updated_at = ? WHERE session_end_timestamp IS NULL`,
		ts, ts)
	if err != nil {
		return 0, fmt.Errorf("ending open sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM session_context WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// LatestOpenSession returns the most recently started session that has not ended.
func (s *Store) LatestOpenSession(ctx context.Context) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM session_context
		WHERE session_end_timestamp IS NULL
		ORDER BY session_start_timestamp DESC, id DESC LIMIT 1`)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// RecentSessions lists sessions started at or after since, most recent first.
func (s *Store) RecentSessions(ctx context.Context, since time.Time) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, session_type, session_start_timestamp, last_backup_timestamp,
			session_end_timestamp, context_quality_score
		FROM session_context
		WHERE session_start_timestamp >= ?
		ORDER BY session_start_timestamp DESC, id DESC`, FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying recent sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var started, backup string
		var ended sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&sum.SessionID, &sum.SessionType, &started, &backup, &ended, &score); err != nil {
			return nil, err
		}
		if sum.StartedAt, err = ParseTime(started); err != nil {
			return nil, fmt.Errorf("parsing session_start_timestamp for %s: %w", sum.SessionID, err)
		}
		if sum.LastBackupAt, err = ParseTime(backup); err != nil {
			return nil, fmt.Errorf("parsing last_backup_timestamp for %s: %w", sum.SessionID, err)
		}
		if sum.EndedAt, err = parseNullTime(ended); err != nil {
			return nil, fmt.Errorf("parsing session_end_timestamp for %s: %w", sum.SessionID, err)
		}
		sum.QualityScore = score.Float64
		results = append(results, sum)
	}
	return results, rows.Err()
}

// RecentThreads returns up to limit conversation threads from sessions backed
// up at or after since, most recent backup first.
func (s *Store) RecentThreads(ctx context.Context, since time.Time, limit int) ([]ThreadSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, conversation_thread, last_backup_timestamp
		FROM session_context
		WHERE conversation_thread IS NOT NULL AND last_backup_timestamp >= ?
		ORDER BY last_backup_timestamp DESC
		LIMIT ?`, FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation threads: %w", err)
	}
	defer rows.Close()

	var results []ThreadSnapshot
	for rows.Next() {
		var snap ThreadSnapshot
		var backup string
		if err := rows.Scan(&snap.SessionID, &snap.ConversationThread, &backup); err != nil {
			return nil, err
		}
		if snap.BackedUpAt, err = ParseTime(backup); err != nil {
			return nil, fmt.Errorf("parsing last_backup_timestamp for %s: %w", snap.SessionID, err)
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// --- Context gaps ---

// InsertGap appends a gap row. Gaps are never deduplicated.
func (s *Store) InsertGap(ctx context.Context, g ContextGap) (int64, error) {
	status := g.RecoveryStatus
	if status == "" {
		status = "identified"
	}
	ts := FormatTime(g.DetectedAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO context_gaps (session_id, gap_type, gap_description, severity, recovery_strategy, recovery_status, detected_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.SessionID, g.GapType, g.Description, g.Severity, g.RecoveryStrategy, status, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting gap for %s: %w", g.SessionID, err)
	}
	return res.LastInsertId()
}

func (s *Store) ListGaps(ctx context.Context, sessionID string) ([]ContextGap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, gap_type, gap_description, severity, recovery_strategy, recovery_status, detected_at
		FROM context_gaps WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying gaps: %w", err)
	}
	defer rows.Close()

	var results []ContextGap
	for rows.Next() {
		var g ContextGap
		var strategy, status sql.NullString
		var detected string
		if err := rows.Scan(&g.ID, &g.SessionID, &g.GapType, &g.Description, &g.Severity, &strategy, &status, &detected); err != nil {
			return nil, err
		}
		g.RecoveryStrategy = strategy.String
		g.RecoveryStatus = status.String
		if g.DetectedAt, err = ParseTime(detected); err != nil {
			return nil, fmt.Errorf("parsing detected_at for gap %d: %w", g.ID, err)
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

func scanSession(row *sql.Row) (SessionRecord, error) {
	var rec SessionRecord
	var personas, stakeholder, initiatives, executive, roi, coalition, thread sql.NullString
	var backup, started string
	var ended sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&rec.SessionID, &rec.SessionType, &personas, &stakeholder, &initiatives,
		&executive, &roi, &coalition, &thread, &backup, &started, &ended, &score)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.ActivePersonas = personas.String
	rec.StakeholderContext = stakeholder.String
	rec.StrategicInitiativesContext = initiatives.String
	rec.ExecutiveContext = executive.String
	rec.ROIDiscussionsContext = roi.String
	rec.CoalitionMappingContext = coalition.String
	rec.ConversationThread = thread.String
	rec.QualityScore = score.Float64
	if rec.LastBackupAt, err = ParseTime(backup); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing last_backup_timestamp: %w", err)
	}
	if rec.StartedAt, err = ParseTime(started); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing session_start_timestamp: %w", err)
	}
	if rec.EndedAt, err = parseNullTime(ended); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing session_end_timestamp: %w", err)
	}
	return rec, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
