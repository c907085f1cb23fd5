package selector

import (
	"context"
	"math"
	"strings"

	"timemgr/internal/model"
)

// DefaultSimilarityThreshold mirrors the acceptance threshold used by
// the embedding backend this oracle stands in for.
const DefaultSimilarityThreshold = 0.6

// LexicalOracle is a SimilarityOracle backed by character-trigram
// cosine similarity over each candidate's summary and description. It
// needs no external service and scores in [0, 1].
type LexicalOracle struct {
	threshold float64
}

// NewLexicalOracle creates an oracle with the given acceptance
// threshold; non-positive values fall back to the default.
func NewLexicalOracle(threshold float64) *LexicalOracle {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &LexicalOracle{threshold: threshold}
}

// Threshold returns the configured acceptance threshold.
func (o *LexicalOracle) Threshold() float64 { return o.threshold }

// BestMatch scores every candidate against the query and returns the
// highest scorer. It never fails; the caller decides acceptance.
func (o *LexicalOracle) BestMatch(_ context.Context, query string, candidates []model.CalendarEvent) (*model.CalendarEvent, float64, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	queryGrams := trigrams(query)

	best := -1
	bestScore := -1.0
	for i, ev := range candidates {
		text := ev.Summary
		if ev.Description != "" {
			text += " " + ev.Description
		}
		score := cosine(queryGrams, trigrams(text))
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return nil, 0, nil
	}
	match := candidates[best]
	return &match, bestScore, nil
}

// trigrams returns the character-trigram frequency profile of s,
// case-folded, with word boundaries padded so short words still
// contribute.
func trigrams(s string) map[string]int {
	out := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		padded := " " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			out[string(runes[i:i+3])]++
		}
	}
	return out
}

func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for g, ca := range a {
		normA += float64(ca * ca)
		if cb, ok := b[g]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range b {
		normB += float64(cb * cb)
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
