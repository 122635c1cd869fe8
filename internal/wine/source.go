package wine

import (
	"fmt"
	"regexp"
	"strings"
)

// Source names where a piece of wine data came from. Any lowercase
// identifier is accepted; only the constants below carry a priority.
type Source string

const (
	SourceManual        Source = "manual"
	SourceVivino        Source = "vivino"
	SourceWineSearcher  Source = "wine_searcher"
	SourceLWIN          Source = "lwin"
	SourceOpenFoodFacts Source = "openfoodfacts"
	SourceAI            Source = "ai_extraction"
	SourceDefault       Source = "default"
)

// --------------------------------------------------------------------------
// Priority table used for conflict resolution
// --------------------------------------------------------------------------

// priorityOrder lists sources from highest to lowest priority. Sources not
// listed rank below all of them, tied with each other.
var priorityOrder = []Source{
	SourceManual,
	SourceVivino,
	SourceWineSearcher,
	SourceLWIN,
	SourceOpenFoodFacts,
}

var priorities = func() map[Source]int {
	m := make(map[Source]int, len(priorityOrder))
	for i, s := range priorityOrder {
		m[s] = len(priorityOrder) - i
	}
	return m
}()

// Priority returns the rank of a source. Higher wins; unknown sources are 0.
func Priority(s Source) int {
	return priorities[s]
}

// PriorityOrder returns a copy of the ranked source list, highest first.
func PriorityOrder() []Source {
	out := make([]Source, len(priorityOrder))
	copy(out, priorityOrder)
	return out
}

// Outranks reports whether s has strictly higher priority than other.
func (s Source) Outranks(other Source) bool {
	return Priority(s) > Priority(other)
}

func (s Source) String() string { return string(s) }

var sourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

var sourceAliases = map[string]Source{
	"winesearcher":    SourceWineSearcher,
	"ws":              SourceWineSearcher,
	"off":             SourceOpenFoodFacts,
	"open_food_facts": SourceOpenFoodFacts,
	"ai":              SourceAI,
	"openai":          SourceAI,
	"admin":           SourceManual,
	"liv_ex":          SourceLWIN,
	"livex":           SourceLWIN,
}

// ParseSource normalizes a source name ("Wine-Searcher" -> wine_searcher)
// and rejects names that cannot be used as map keys in stored documents.
func ParseSource(raw string) (Source, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
	if s == "" {
		return SourceDefault, nil
	}
	if alias, ok := sourceAliases[s]; ok {
		return alias, nil
	}
	if !sourcePattern.MatchString(s) {
		return "", fmt.Errorf("invalid source name %q", raw)
	}
	return Source(s), nil
}
