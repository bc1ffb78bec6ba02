package sessionctx

import (
	"math"
	"testing"
)

func fullContext() Context {
	return Context{
		ActivePersonas:   []string{"diego"},
		Stakeholder:      map[string]any{"cfo": "supportive"},
		Initiatives:      map[string]any{"platform": "in_progress"},
		Executive:        map[string]any{"qbr": "approved"},
		ROIDiscussions:   map[string]any{"q3": "budget"},
		CoalitionMapping: map[string]any{"cto": "advocate"},
	}
}

func TestQualityFromPresence(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want float64
	}{
		{"empty", Context{}, 0},
		{"all present", fullContext(), 1},
		{"stakeholder only", Context{Stakeholder: map[string]any{"cfo": 1}}, 0.25},
		{"initiatives only", Context{Initiatives: map[string]any{"a": 1}}, 0.20},
		{"executive only", Context{Executive: map[string]any{"a": 1}}, 0.20},
		{"roi only", Context{ROIDiscussions: map[string]any{"a": 1}}, 0.15},
		{"coalition only", Context{CoalitionMapping: map[string]any{"a": 1}}, 0.10},
		{"personas only", Context{ActivePersonas: []string{"diego"}}, 0.10},
		{"stakeholder and personas", Context{
			Stakeholder:    map[string]any{"cfo": map[string]any{"stance": "cautious"}},
			ActivePersonas: []string{"diego"},
		}, 0.35},
		{"thread alone scores nothing", Context{ConversationThread: []Turn{{UserInput: "hi"}}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QualityFromPresence(tt.ctx); got != tt.want {
				t.Errorf("QualityFromPresence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQualityFromPresenceIgnoresRichness(t *testing.T) {
	one := Context{Stakeholder: map[string]any{"cfo": 1}}
	many := Context{Stakeholder: map[string]any{"cfo": 1, "cto": 2, "coo": 3, "ceo": 4}}
	if QualityFromPresence(one) != QualityFromPresence(many) {
		t.Error("one stakeholder should score the same as many")
	}
}

func TestQualityIdempotent(t *testing.T) {
	c := fullContext()
	c.CoalitionMapping = nil
	first := QualityFromPresence(c)
	for range 5 {
		if got := QualityFromPresence(c); got != first {
			t.Fatalf("score changed between calls: %v then %v", first, got)
		}
	}

	a := ActivityCounts{Turns: 4, Personas: 1, Mentions: 2}
	if QualityFromActivityCounts(a) != QualityFromActivityCounts(a) {
		t.Error("activity score is not stable")
	}
}

func TestQualityFromActivityCounts(t *testing.T) {
	tests := []struct {
		name   string
		counts ActivityCounts
		want   float64
	}{
		{"zero", ActivityCounts{}, 0},
		{"saturated", ActivityCounts{Turns: 10, Personas: 3, Mentions: 5, Topics: 5, Decisions: 3}, 1},
		{"capped above max", ActivityCounts{Turns: 40, Personas: 9, Mentions: 50, Topics: 12, Decisions: 7}, 1},
		{"turns only", ActivityCounts{Turns: 5}, 0.1},
		{"mixed", ActivityCounts{Turns: 10, Personas: 3}, 0.4},
		{"negative counts ignored", ActivityCounts{Turns: -3, Decisions: 3}, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityFromActivityCounts(tt.counts)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("QualityFromActivityCounts(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}
