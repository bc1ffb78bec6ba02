package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/stratctx/internal/storage"
)

const (
	tableExecutiveSessions = "executive_sessions"
	tableStakeholders      = "stakeholder_profiles"
	tableInitiatives       = "strategic_initiatives"
	tablePlatform          = "platform_intelligence"
	tableMeetings          = "meeting_sessions"
)

// candidateLimit bounds the rows each retriever scores per query.
const candidateLimit = 200

type tableList []string

func (l tableList) includes(table string) bool {
	for _, t := range l {
		if t == table {
			return true
		}
	}
	return false
}

// routes lists the tables searched for each type.
var routes = map[SearchType]tableList{
	DecisionContext:         {tableExecutiveSessions, tableInitiatives, tableMeetings},
	StakeholderIntelligence: {tableStakeholders, tableExecutiveSessions},
	InitiativeSimilarity:    {tableInitiatives},
	StrategicThemes:         {tableInitiatives, tablePlatform, tableExecutiveSessions},
	MeetingIntelligence:     {tableMeetings},
}

// candidate is a raw row before scoring.
type candidate struct {
	table       string
	id          string
	content     string
	date        string
	stakeholder string
	priority    string
	risk        string
	influence   string
	metadata    map[string]any
}

type retriever func(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error)

var retrievers = map[string]retriever{
	tableExecutiveSessions: retrieveExecutiveSessions,
	tableStakeholders:      retrieveStakeholders,
	tableInitiatives:       retrieveInitiatives,
	tablePlatform:          retrievePlatform,
	tableMeetings:          retrieveMeetings,
}

// whereClause joins conditions; empty conditions yield an empty clause.
func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func sinceDate(f Filters, now time.Time) string {
	return now.AddDate(0, 0, -f.TimeRangeDays).UTC().Format("2006-01-02")
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func retrieveExecutiveSessions(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error) {
	var conds []string
	var args []any
	if f.StakeholderKey != "" {
		conds = append(conds, "stakeholder_key = ?")
		args = append(args, f.StakeholderKey)
	}
	if f.TimeRangeDays > 0 {
		conds = append(conds, "session_date >= ?")
		args = append(args, sinceDate(f, now))
	}
	args = append(args, candidateLimit)

	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, session_type, stakeholder_key, session_date,
			agenda_topics, key_decisions, action_items, outcomes
		FROM executive_sessions`+whereClause(conds)+`
		ORDER BY session_date DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var id int64
		var sessionID, sessionType, date string
		var stakeholder, agenda, decisions, actions, outcomes sql.NullString
		if err := rows.Scan(&id, &sessionID, &sessionType, &stakeholder, &date, &agenda, &decisions, &actions, &outcomes); err != nil {
			return nil, err
		}
		out = append(out, candidate{
			table:       tableExecutiveSessions,
			id:          strconv.FormatInt(id, 10),
			content:     joinText(sessionType, agenda.String, decisions.String, actions.String, outcomes.String),
			date:        date,
			stakeholder: stakeholder.String,
			metadata: map[string]any{
				"session_id":      sessionID,
				"session_type":    sessionType,
				"stakeholder_key": stakeholder.String,
				"session_date":    date,
			},
		})
	}
	return out, rows.Err()
}

func retrieveStakeholders(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error) {
	var conds []string
	var args []any
	if f.StakeholderKey != "" {
		conds = append(conds, "stakeholder_key = ?")
		args = append(args, f.StakeholderKey)
	}
	if f.TimeRangeDays > 0 {
		conds = append(conds, "updated_at >= ?")
		args = append(args, sinceDate(f, now))
	}
	args = append(args, candidateLimit)

	rows, err := db.QueryContext(ctx, `
		SELECT id, stakeholder_key, display_name, role_title, organization, communication_style,
			influence_level, strategic_interests, relationship_notes, last_interaction_date, updated_at
		FROM stakeholder_profiles`+whereClause(conds)+`
		ORDER BY updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var id int64
		var key, name, updated string
		var role, org, style, influence, interests, notes, last sql.NullString
		if err := rows.Scan(&id, &key, &name, &role, &org, &style, &influence, &interests, &notes, &last, &updated); err != nil {
			return nil, err
		}
		date := last.String
		if date == "" {
			date = updated
		}
		out = append(out, candidate{
			table:       tableStakeholders,
			id:          strconv.FormatInt(id, 10),
			content:     joinText(name, role.String, org.String, style.String, interests.String, notes.String),
			date:        date,
			stakeholder: key,
			influence:   influence.String,
			metadata: map[string]any{
				"stakeholder_key": key,
				"display_name":    name,
				"role_title":      role.String,
				"influence_level": influence.String,
			},
		})
	}
	return out, rows.Err()
}

func retrieveInitiatives(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error) {
	var conds []string
	var args []any
	if f.StakeholderKey != "" {
		conds = append(conds, "owner_stakeholder_key = ?")
		args = append(args, f.StakeholderKey)
	}
	if f.TimeRangeDays > 0 {
		conds = append(conds, "updated_at >= ?")
		args = append(args, sinceDate(f, now))
	}
	args = append(args, candidateLimit)

	rows, err := db.QueryContext(ctx, `
		SELECT id, initiative_key, name, description, status, priority, risk_level,
			owner_stakeholder_key, business_impact, updated_at
		FROM strategic_initiatives`+whereClause(conds)+`
		ORDER BY updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var id int64
		var key, name, status, updated string
		var desc, priority, risk, owner, impact sql.NullString
		if err := rows.Scan(&id, &key, &name, &desc, &status, &priority, &risk, &owner, &impact, &updated); err != nil {
			return nil, err
		}
		out = append(out, candidate{
			table:       tableInitiatives,
			id:          strconv.FormatInt(id, 10),
			content:     joinText(name, desc.String, impact.String, status),
			date:        updated,
			stakeholder: owner.String,
			priority:    priority.String,
			risk:        risk.String,
			metadata: map[string]any{
				"initiative_key": key,
				"name":           name,
				"status":         status,
				"priority":       priority.String,
				"risk_level":     risk.String,
			},
		})
	}
	return out, rows.Err()
}

func retrievePlatform(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error) {
	var conds []string
	var args []any
	if f.TimeRangeDays > 0 {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, sinceDate(f, now))
	}
	args = append(args, candidateLimit)

	rows, err := db.QueryContext(ctx, `
		SELECT id, metric_name, category, metric_value, trend, insight, recorded_at
		FROM platform_intelligence`+whereClause(conds)+`
		ORDER BY recorded_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var id int64
		var metric, recorded string
		var category, trend, insight sql.NullString
		var value sql.NullFloat64
		if err := rows.Scan(&id, &metric, &category, &value, &trend, &insight, &recorded); err != nil {
			return nil, err
		}
		out = append(out, candidate{
			table:   tablePlatform,
			id:      strconv.FormatInt(id, 10),
			content: joinText(metric, category.String, trend.String, insight.String),
			date:    recorded,
			metadata: map[string]any{
				"metric_name":  metric,
				"category":     category.String,
				"metric_value": value.Float64,
				"trend":        trend.String,
			},
		})
	}
	return out, rows.Err()
}

// retrieveMeetings reads meeting_sessions, which only exists when an
// external schema provides it. Its columns are discovered at query time.
func retrieveMeetings(ctx context.Context, db *sql.DB, f Filters, now time.Time) ([]candidate, error) {
	ok, err := storage.TableExists(ctx, db, tableMeetings)
	if err != nil || !ok {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT rowid, * FROM meeting_sessions ORDER BY rowid DESC LIMIT ?`, candidateLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	since := ""
	if f.TimeRangeDays > 0 {
		since = sinceDate(f, now)
	}

	var out []candidate
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		c := candidate{table: tableMeetings, metadata: map[string]any{}}
		var texts []string
		for i, col := range cols {
			v := columnString(values[i])
			name := strings.ToLower(col)
			switch {
			case i == 0:
				c.id = v
				continue
			case name == "stakeholder_key":
				c.stakeholder = v
			case strings.Contains(name, "date") && c.date == "":
				c.date = v
			}
			if v == "" || name == "id" {
				continue
			}
			c.metadata[col] = values[i]
			if _, isText := values[i].(string); isText && !strings.HasSuffix(name, "_key") && !strings.Contains(name, "date") {
				texts = append(texts, v)
			}
		}
		if f.StakeholderKey != "" && !strings.EqualFold(c.stakeholder, f.StakeholderKey) {
			continue
		}
		if since != "" && c.date != "" && c.date < since {
			continue
		}
		c.content = joinText(texts...)
		out = append(out, c)
	}
	return out, rows.Err()
}

func columnString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return storage.FormatTime(t)
	default:
		return fmt.Sprint(t)
	}
}
