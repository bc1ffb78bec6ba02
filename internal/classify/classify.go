// Package classify maps free text to categories using keyword rule tables.
package classify

import (
	"sort"
	"strings"
)

// Classifier assigns zero or more categories to a piece of text.
type Classifier interface {
	Classify(text string) []string
}

// Rule tags text with Category when any of Phrases occurs in it.
type Rule struct {
	Category string
	Phrases  []string
}

// KeywordClassifier matches rule phrases as case-insensitive substrings.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier lowercases the rule phrases once so Classify only
// lowercases the input.
func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		phrases := make([]string, 0, len(r.Phrases))
		for _, p := range r.Phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				phrases = append(phrases, p)
			}
		}
		normalized = append(normalized, Rule{Category: r.Category, Phrases: phrases})
	}
	return &KeywordClassifier{rules: normalized}
}

// Classify returns the matched categories sorted and deduplicated. The result
// is nil when nothing matches.
func (c *KeywordClassifier) Classify(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	seen := make(map[string]bool)
	var out []string
	for _, r := range c.rules {
		if seen[r.Category] {
			continue
		}
		if hasAny(lower, r.Phrases...) {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	sort.Strings(out)
	return out
}

// Matches reports whether text falls into category.
func Matches(c Classifier, text, category string) bool {
	for _, got := range c.Classify(text) {
		if got == category {
			return true
		}
	}
	return false
}

func hasAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
