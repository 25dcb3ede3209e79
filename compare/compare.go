// Package compare diffs a page's predicted event set against the
// observed event distribution from the analytics backend.
package compare

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/jakopako/tagcheck/analytics"
	"github.com/jakopako/tagcheck/predict"
)

// suggestionMaxDistance bounds the edit distance for "did you mean"
// hints on wrong predictions.
const suggestionMaxDistance = 2

// Result is the terminal comparison artifact of one page.
type Result struct {
	PageID              string   `json:"pageId"`
	Correct             []string `json:"correct"`
	Missed              []string `json:"missed"`
	Wrong               []string `json:"wrong"`
	SessionOnceExcluded []string `json:"sessionOnceExcluded"`
	// Suggestions maps a wrong prediction to an observed event name
	// within a small edit distance, a frequent sign of a renamed tag.
	Suggestions map[string]string `json:"suggestions,omitempty"`
	Accuracy    float64           `json:"accuracy"`
}

// Compare classifies every event appearing in the prediction or in the
// observed set. Events flagged as session-once cannot be judged from a
// single page load and are excluded from the accuracy computation but
// reported separately. Noise events count as not observed.
//
// accuracy = |correct| / (|correct| + |wrong|), 0 when both are empty.
func Compare(predicted predict.PredictedEventSet, actual *analytics.ActualEventSet, sessionOnce map[string]bool) Result {
	result := Result{
		PageID:              predicted.PageID,
		Correct:             []string{},
		Missed:              []string{},
		Wrong:               []string{},
		SessionOnceExcluded: []string{},
	}

	observed := map[string]bool{}
	var observedNames []string
	if actual != nil {
		for _, ev := range actual.Events {
			if ev.IsNoise {
				continue
			}
			observed[ev.EventName] = true
			observedNames = append(observedNames, ev.EventName)
		}
	}

	fireable := map[string]bool{}
	for _, name := range predicted.Fireable {
		fireable[name] = true
	}

	excluded := map[string]bool{}
	exclude := func(name string) {
		if !excluded[name] {
			excluded[name] = true
			result.SessionOnceExcluded = append(result.SessionOnceExcluded, name)
		}
	}

	for _, name := range predicted.Fireable {
		if sessionOnce[name] {
			exclude(name)
			continue
		}
		if observed[name] {
			result.Correct = append(result.Correct, name)
		} else {
			result.Wrong = append(result.Wrong, name)
			if suggestion := nearestName(name, observedNames); suggestion != "" {
				if result.Suggestions == nil {
					result.Suggestions = map[string]string{}
				}
				result.Suggestions[name] = suggestion
			}
		}
	}

	for _, name := range observedNames {
		if sessionOnce[name] {
			exclude(name)
			continue
		}
		if !fireable[name] {
			result.Missed = append(result.Missed, name)
		}
	}

	sort.Strings(result.Missed)
	denominator := len(result.Correct) + len(result.Wrong)
	if denominator > 0 {
		result.Accuracy = float64(len(result.Correct)) / float64(denominator)
	}
	return result
}

// nearestName returns the observed event name closest to the given
// name, empty when nothing is within the suggestion distance.
func nearestName(name string, observedNames []string) string {
	best := ""
	bestDistance := suggestionMaxDistance + 1
	for _, candidate := range observedNames {
		if candidate == name {
			continue
		}
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDistance {
			best = candidate
			bestDistance = d
		}
	}
	return best
}
