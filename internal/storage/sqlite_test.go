package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DataDir: ":memory:"})
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestInlineSchemaTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"session_context", "context_gaps", "stakeholder_profiles", "strategic_initiatives", "executive_sessions", "platform_intelligence"} {
		ok, err := TableExists(ctx, s.DB(), table)
		if err != nil {
			t.Fatalf("TableExists(%s): %v", table, err)
		}
		if !ok {
			t.Errorf("table %s missing", table)
		}
	}

	ok, err := TableExists(ctx, s.DB(), "meeting_sessions")
	if err != nil {
		t.Fatalf("TableExists(meeting_sessions): %v", err)
	}
	if ok {
		t.Error("meeting_sessions should only come from an external schema")
	}
}

func TestExternalSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.sql")
	schema := `CREATE TABLE IF NOT EXISTS meeting_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		meeting_key TEXT,
		title TEXT,
		meeting_type TEXT,
		stakeholder_key TEXT,
		meeting_date TEXT,
		summary TEXT,
		decisions TEXT
	);`
	if err := os.WriteFile(path, []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Options{DataDir: ":memory:", SchemaFile: path})
	if err != nil {
		t.Fatalf("Open with schema file: %v", err)
	}
	defer s.Close()

	ok, err := TableExists(context.Background(), s.DB(), "meeting_sessions")
	if err != nil {
		t.Fatalf("TableExists: %v", err)
	}
	if !ok {
		t.Error("meeting_sessions not created from external schema")
	}
}

func TestMissingSchemaFileFallsBack(t *testing.T) {
	s, err := Open(Options{DataDir: ":memory:", SchemaFile: filepath.Join(t.TempDir(), "absent.sql")})
	if err != nil {
		t.Fatalf("Open should fall back to inline schema: %v", err)
	}
	defer s.Close()

	ok, err := TableExists(context.Background(), s.DB(), "session_context")
	if err != nil || !ok {
		t.Fatalf("session_context missing after fallback: ok=%v err=%v", ok, err)
	}
}

func TestInsertAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.InsertSession(ctx, "sess-1", "strategic", now); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	rec, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.SessionType != "strategic" {
		t.Errorf("SessionType = %q, want strategic", rec.SessionType)
	}
	if !rec.StartedAt.Equal(now) || !rec.LastBackupAt.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", rec.StartedAt, rec.LastBackupAt, now)
	}
	if rec.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", rec.EndedAt)
	}
	if rec.QualityScore != 0.5 {
		t.Errorf("QualityScore = %v, want default 0.5", rec.QualityScore)
	}
	if rec.ActivePersonas != "" {
		t.Errorf("ActivePersonas = %q, want empty", rec.ActivePersonas)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.InsertSession(ctx, "sess-1", "strategic", start); err != nil {
		t.Fatal(err)
	}

	personas := `["diego"]`
	later := start.Add(5 * time.Minute)
	changed, err := s.UpdateSessionFields(ctx, "sess-1", SessionFields{ActivePersonas: &personas}, 0.1, later)
	if err != nil {
		t.Fatalf("UpdateSessionFields: %v", err)
	}
	if !changed {
		t.Fatal("expected row to change")
	}

	rec, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ActivePersonas != personas {
		t.Errorf("ActivePersonas = %q, want %q", rec.ActivePersonas, personas)
	}
	if rec.StakeholderContext != "" {
		t.Errorf("StakeholderContext = %q, want untouched", rec.StakeholderContext)
	}
	if rec.QualityScore != 0.1 {
		t.Errorf("QualityScore = %v, want 0.1", rec.QualityScore)
	}
	if !rec.LastBackupAt.Equal(later) {
		t.Errorf("LastBackupAt = %v, want %v", rec.LastBackupAt, later)
	}

	changed, err = s.UpdateSessionFields(ctx, "nope", SessionFields{}, 0, later)
	if err != nil {
		t.Fatalf("UpdateSessionFields(nope): %v", err)
	}
	if changed {
		t.Error("update of unknown session reported a change")
	}
}

func TestLatestOpenSessionAndEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.LatestOpenSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty db: err = %v, want ErrNotFound", err)
	}

	s.InsertSession(ctx, "old", "strategic", base)
	s.InsertSession(ctx, "new", "strategic", base.Add(time.Hour))

	rec, err := s.LatestOpenSession(ctx)
	if err != nil {
		t.Fatalf("LatestOpenSession: %v", err)
	}
	if rec.SessionID != "new" {
		t.Errorf("latest open = %q, want new", rec.SessionID)
	}

	if err := s.EndSession(ctx, "new", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	rec, err = s.LatestOpenSession(ctx)
	if err != nil {
		t.Fatalf("LatestOpenSession: %v", err)
	}
	if rec.SessionID != "old" {
		t.Errorf("latest open after end = %q, want old", rec.SessionID)
	}

	if err := s.EndSession(ctx, "ghost", base); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndSession(ghost) = %v, want ErrNotFound", err)
	}
}

func TestEndOpenSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.InsertSession(ctx, "a", "strategic", base)
	s.InsertSession(ctx, "b", "strategic", base.Add(time.Hour))
	s.InsertSession(ctx, "done", "strategic", base)
	if err := s.EndSession(ctx, "done", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	n, err := s.EndOpenSessions(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("EndOpenSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("closed %d sessions, want 2", n)
	}
	if _, err := s.LatestOpenSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestOpenSession after close = %v, want ErrNotFound", err)
	}
	rec, err := s.GetSession(ctx, "done")
	if err != nil {
		t.Fatal(err)
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("already ended session restamped: %v", rec.EndedAt)
	}
}

func TestRecentSessionsOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.InsertSession(ctx, "a", "strategic", base.Add(-48*time.Hour))
	s.InsertSession(ctx, "b", "strategic", base.Add(-2*time.Hour))
	s.InsertSession(ctx, "c", "review", base.Add(-1*time.Hour))

	got, err := s.RecentSessions(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	if got[0].SessionID != "c" || got[1].SessionID != "b" {
		t.Errorf("order = %s,%s want c,b", got[0].SessionID, got[1].SessionID)
	}
}

func TestRecentThreads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		at := base.Add(time.Duration(i) * time.Hour)
		s.InsertSession(ctx, id, "strategic", at)
		thread := `[{"user_input":"hello"}]`
		if _, err := s.UpdateSessionFields(ctx, id, SessionFields{ConversationThread: &thread}, 0, at); err != nil {
			t.Fatal(err)
		}
	}
	s.InsertSession(ctx, "empty", "strategic", base.Add(5*time.Hour))

	got, err := s.RecentThreads(ctx, base.Add(30*time.Minute), 5)
	if err != nil {
		t.Fatalf("RecentThreads: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d threads, want 2", len(got))
	}
	if got[0].SessionID != "s3" {
		t.Errorf("first thread = %q, want s3", got[0].SessionID)
	}

	limited, err := s.RecentThreads(ctx, base.Add(-time.Hour), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func TestGapsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.InsertSession(ctx, "sess-1", "strategic", now)

	gap := ContextGap{
		SessionID:        "sess-1",
		GapType:          "missing_stakeholder_context",
		Description:      "No stakeholder context",
		Severity:         "high",
		RecoveryStrategy: "Ask about stakeholders",
		DetectedAt:       now,
	}
	for i := 0; i < 2; i++ {
		if _, err := s.InsertGap(ctx, gap); err != nil {
			t.Fatalf("InsertGap: %v", err)
		}
	}

	gaps, err := s.ListGaps(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListGaps: %v", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("got %d gaps, want 2 (no dedup)", len(gaps))
	}
	if gaps[0].RecoveryStatus != "identified" {
		t.Errorf("RecoveryStatus = %q, want identified", gaps[0].RecoveryStatus)
	}
	if gaps[0].Severity != "high" {
		t.Errorf("Severity = %q, want high", gaps[0].Severity)
	}
}

func TestSourceQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	mustExec(t, s, `INSERT INTO stakeholder_profiles (stakeholder_key, display_name, role_title, influence_level, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"cfo", "Dana CFO", "Chief Financial Officer", "high", FormatTime(now.Add(-24*time.Hour)))
	mustExec(t, s, `INSERT INTO stakeholder_profiles (stakeholder_key, display_name, updated_at) VALUES (?, ?, ?)`,
		"stale", "Old Contact", FormatTime(now.Add(-90*24*time.Hour)))
	mustExec(t, s, `INSERT INTO strategic_initiatives (initiative_key, name, status, priority, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"plat", "Platform migration", "in_progress", "high", FormatTime(now))
	mustExec(t, s, `INSERT INTO strategic_initiatives (initiative_key, name, status, updated_at) VALUES (?, ?, ?, ?)`,
		"risk", "Design system", "at_risk", FormatTime(now))
	mustExec(t, s, `INSERT INTO strategic_initiatives (initiative_key, name, status, updated_at) VALUES (?, ?, ?, ?)`,
		"done", "Old thing", "completed", FormatTime(now))
	mustExec(t, s, `INSERT INTO executive_sessions (session_id, session_type, stakeholder_key, session_date, key_decisions) VALUES (?, ?, ?, ?, ?)`,
		"es-1", "1on1", "cfo", "2026-03-05", "approve budget")
	mustExec(t, s, `INSERT INTO executive_sessions (session_id, session_type, session_date) VALUES (?, ?, ?)`,
		"es-old", "qbr", "2025-11-01")

	profiles, err := s.StakeholdersUpdatedSince(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("StakeholdersUpdatedSince: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Key != "cfo" {
		t.Errorf("profiles = %+v, want only cfo", profiles)
	}

	initiatives, err := s.InitiativesByStatus(ctx, "in_progress", "at_risk")
	if err != nil {
		t.Fatalf("InitiativesByStatus: %v", err)
	}
	if len(initiatives) != 2 {
		t.Errorf("got %d initiatives, want 2", len(initiatives))
	}

	sessions, err := s.ExecutiveSessionsSince(ctx, now.Add(-14*24*time.Hour))
	if err != nil {
		t.Fatalf("ExecutiveSessionsSince: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "es-1" {
		t.Errorf("executive sessions = %+v, want es-1", sessions)
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2026-03-01T10:00:00.000000Z", "2026-03-01T10:00:00Z", "2026-03-01 10:00:00", "2026-03-01"} {
		if _, err := ParseTime(in); err != nil {
			t.Errorf("ParseTime(%q): %v", in, err)
		}
	}
	if _, err := ParseTime("last tuesday"); err == nil {
		t.Error("expected error for free text")
	}
}

func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.DB().Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
