package search

import "strings"

const (
	snippetWindow   = 50
	snippetStep     = 25
	maxSnippets     = 3
	minSnippetChars = 20
)

// snippets slides a word window over content and keeps windows that
// contain any query word.
func snippets(content, query string) []string {
	terms := strings.Fields(strings.ToLower(query))
	words := strings.Fields(content)
	if len(terms) == 0 || len(words) == 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(words) && len(out) < maxSnippets; start += snippetStep {
		end := min(start+snippetWindow, len(words))
		window := strings.Join(words[start:end], " ")
		if len(window) >= minSnippetChars && containsAny(strings.ToLower(window), terms) {
			out = append(out, window)
		}
		if end == len(words) {
			break
		}
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		t = strings.Trim(t, "?.,!;:\"'")
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}
