// Package selector resolves ambiguous event references (by position,
// identifier or free text) against a candidate list.
package selector

import (
	"context"

	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

// SimilarityOracle is the fuzzy-match boundary. BestMatch returns the
// closest candidate and its similarity score; the caller applies the
// oracle's configured acceptance threshold.
type SimilarityOracle interface {
	BestMatch(ctx context.Context, query string, candidates []model.CalendarEvent) (*model.CalendarEvent, float64, error)
	Threshold() float64
}

// Reference carries up to three optional ways to identify one event out
// of a candidate list. Index is 1-based into the displayed list; zero
// means absent. Empty strings mean absent.
type Reference struct {
	Index int
	ID    string
	Name  string
}

// IsZero reports whether no reference field is set.
func (r Reference) IsZero() bool {
	return r.Index == 0 && r.ID == "" && r.Name == ""
}

// Resolve matches ref against candidates with strict priority
// index > id > name; the first step that succeeds wins and later
// steps are never consulted, while a step whose guard fails yields to
// the next. The oracle is only called for a name
// reference and its result is accepted only above the oracle's
// threshold. A nil event with nil error means no match: callers must
// re-prompt with an enumerated candidate list.
func Resolve(ctx context.Context, ref Reference, candidates []model.CalendarEvent, oracle SimilarityOracle) (*model.CalendarEvent, error) {
	// A present-but-out-of-range index falls through to the id and name
	// steps rather than ending resolution.
	if ref.Index >= 1 && ref.Index <= len(candidates) {
		ev := candidates[ref.Index-1]
		appLog.Debug("selector: resolved by index", "index", ref.Index, "summary", ev.Summary)
		return &ev, nil
	}

	if ref.ID != "" {
		for _, ev := range candidates {
			if ev.ID == ref.ID {
				appLog.Debug("selector: resolved by id", "id", ref.ID, "summary", ev.Summary)
				return &ev, nil
			}
		}
		return nil, nil
	}

	if ref.Name != "" && oracle != nil {
		match, score, err := oracle.BestMatch(ctx, ref.Name, candidates)
		if err != nil {
			return nil, &model.ExternalServiceError{Op: "similarity best match", Err: err}
		}
		if match != nil && score > oracle.Threshold() {
			appLog.Debug("selector: resolved by similarity",
				"name", ref.Name, "summary", match.Summary, "score", score)
			return match, nil
		}
		return nil, nil
	}

	return nil, nil
}
