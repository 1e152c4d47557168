package dedup

import (
	"strings"
	"time"

	"MaterialsMonitor/internal/domain"
)

const (
	titleWeight = 0.8
	timeWeight  = 0.2

	// Two reports of one event rarely land more than two days apart.
	proximityHorizon = 48 * time.Hour
)

// Stop words filtered before comparing title token sets.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// tokenSet lowercases, trims punctuation, drops stop words, and trims
// plural suffixes so "exports" and "export" count as one token.
func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, word := range strings.Fields(text) {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned == "" || stopWords[cleaned] {
			continue
		}
		if len(cleaned) > 3 && strings.HasSuffix(cleaned, "s") && !strings.HasSuffix(cleaned, "ss") {
			cleaned = cleaned[:len(cleaned)-1]
		}
		set[cleaned] = true
	}
	return set
}

// titleSimilarity is the Jaccard overlap of the two filtered token sets.
func titleSimilarity(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// timeProximity decays linearly from 1 to 0 over the proximity horizon.
func timeProximity(a, b time.Time) float64 {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	if gap >= proximityHorizon {
		return 0
	}
	return 1 - float64(gap)/float64(proximityHorizon)
}

// Similarity scores how likely two records describe the same event.
// Symmetric and deterministic; range [0,1].
func Similarity(a, b domain.NormalizedRecord) float64 {
	return titleWeight*titleSimilarity(a.Title, b.Title) +
		timeWeight*timeProximity(a.PublishedAt, b.PublishedAt)
}

// mentionsOverlap reports whether two mention lists share any entry,
// case-insensitively. Used for cross-kind candidate pruning.
func mentionsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, m := range a {
		set[strings.ToLower(m)] = true
	}
	for _, m := range b {
		if set[strings.ToLower(m)] {
			return true
		}
	}
	return false
}
