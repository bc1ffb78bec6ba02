package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Read-only access to the strategic source tables. Their schema may come
// from an external schema file; the inline migration creates a compatible one.

// StakeholdersUpdatedSince returns stakeholder profiles updated at or after since.
func (s *Store) StakeholdersUpdatedSince(ctx context.Context, since time.Time) ([]StakeholderProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stakeholder_key, display_name, role_title, organization, communication_style,
			influence_level, strategic_interests, relationship_notes, last_interaction_date, updated_at
		FROM stakeholder_profiles
		WHERE datetime(updated_at) >= datetime(?)
		ORDER BY updated_at DESC`, FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying stakeholder profiles: %w", err)
	}
	defer rows.Close()

	var results []StakeholderProfile
	for rows.Next() {
		var p StakeholderProfile
		var role, org, style, influence, interests, notes, last sql.NullString
		var updated string
		if err := rows.Scan(&p.Key, &p.DisplayName, &role, &org, &style, &influence, &interests, &notes, &last, &updated); err != nil {
			return nil, err
		}
		p.RoleTitle = role.String
		p.Organization = org.String
		p.CommunicationStyle = style.String
		p.InfluenceLevel = influence.String
		p.StrategicInterests = interests.String
		p.RelationshipNotes = notes.String
		p.LastInteraction = last.String
		if p.UpdatedAt, err = ParseTime(updated); err != nil {
			return nil, fmt.Errorf("parsing updated_at for stakeholder %s: %w", p.Key, err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// InitiativesByStatus returns initiatives whose status is one of statuses.
func (s *Store) InitiativesByStatus(ctx context.Context, statuses ...string) ([]Initiative, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT initiative_key, name, description, status, priority, risk_level,
			owner_stakeholder_key, progress_percentage, target_date, updated_at
		FROM strategic_initiatives
		WHERE status IN (?`+strings.Repeat(",?", len(statuses)-1)+`)
		ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying strategic initiatives: %w", err)
	}
	defer rows.Close()

	var results []Initiative
	for rows.Next() {
		var in Initiative
		var desc, priority, risk, owner, target sql.NullString
		var progress sql.NullFloat64
		var updated string
		if err := rows.Scan(&in.Key, &in.Name, &desc, &in.Status, &priority, &risk, &owner, &progress, &target, &updated); err != nil {
			return nil, err
		}
		in.Description = desc.String
		in.Priority = priority.String
		in.RiskLevel = risk.String
		in.OwnerStakeholder = owner.String
		in.ProgressPercentage = progress.Float64
		in.TargetDate = target.String
		if in.UpdatedAt, err = ParseTime(updated); err != nil {
			return nil, fmt.Errorf("parsing updated_at for initiative %s: %w", in.Key, err)
		}
		results = append(results, in)
	}
	return results, rows.Err()
}

// ExecutiveSessionsSince returns executive sessions dated on or after since.
func (s *Store) ExecutiveSessionsSince(ctx context.Context, since time.Time) ([]ExecutiveSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, session_type, stakeholder_key, session_date, agenda_topics,
			key_decisions, action_items, outcomes
		FROM executive_sessions
		WHERE session_date >= ?
		ORDER BY session_date DESC`, since.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("querying executive sessions: %w", err)
	}
	defer rows.Close()

	var results []ExecutiveSession
	for rows.Next() {
		var es ExecutiveSession
		var stakeholder, agenda, decisions, actions, outcomes sql.NullString
		if err := rows.Scan(&es.SessionID, &es.SessionType, &stakeholder, &es.SessionDate, &agenda, &decisions, &actions, &outcomes); err != nil {
			return nil, err
		}
		es.StakeholderKey = stakeholder.String
		es.AgendaTopics = agenda.String
		es.KeyDecisions = decisions.String
		es.ActionItems = actions.String
		es.Outcomes = outcomes.String
		results = append(results, es)
	}
	return results, rows.Err()
}
