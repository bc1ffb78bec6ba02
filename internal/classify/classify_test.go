package classify

import (
	"reflect"
	"testing"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier([]Rule{
		{Category: "b", Phrases: []string{"Budget"}},
		{Category: "a", Phrases: []string{"alpha", " "}},
		{Category: "b", Phrases: []string{"money"}},
	})

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"no match", "nothing to see", nil},
		{"case insensitive", "the BUDGET is tight", []string{"b"}},
		{"sorted", "budget for Alpha", []string{"a", "b"}},
		{"dedup across rules", "budget and money", []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestPersonaClassifier(t *testing.T) {
	c := NewPersonaClassifier()
	if !Matches(c, "Can you stress-test this plan?", PersonaDiego) {
		t.Error("stress-test should activate diego")
	}
	if Matches(c, "hello there", PersonaDiego) {
		t.Error("plain greeting should not activate diego")
	}
}

func TestROIAndCoalitionClassifiers(t *testing.T) {
	if !Matches(NewROIClassifier(), "What's the ROI on this?", CategoryROI) {
		t.Error("expected roi match")
	}
	got := NewCoalitionClassifier().Classify("The CTO is skeptical of the migration")
	want := []string{CategoryExecutiveInfluence, CategoryPlatformOpponent}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("coalition = %v, want %v", got, want)
	}
}
