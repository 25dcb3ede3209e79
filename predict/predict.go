// Package predict merges the structural verdicts of the rule engine and
// the ui verification results into the predicted event set of a page.
package predict

import (
	"github.com/jakopako/tagcheck/trigger"
	"github.com/jakopako/tagcheck/vision"
)

// PredictedEventSet partitions the event catalog of a page into three
// disjoint buckets. It is immutable once produced.
type PredictedEventSet struct {
	PageID        string   `json:"pageId"`
	Fireable      []string `json:"fireable"`
	BlockedByRule []string `json:"blockedByRule"`
	BlockedByUI   []string `json:"blockedByUI"`
	// Reasons records the blocking or degradation reason per event,
	// for human review.
	Reasons map[string]string `json:"reasons,omitempty"`
	// Degraded lists events whose ui verification produced no usable
	// model evidence; their bucket placement is lower confidence.
	Degraded []string `json:"degraded,omitempty"`
}

// Aggregate builds the predicted event set from the verdicts and ui
// results of one page. Every event name appearing in the verdicts ends
// up in exactly one bucket:
//   - fireable: structurally allowed and (no ui requirement or ui
//     verified present)
//   - blockedByRule: not structurally allowed, regardless of ui outcome
//   - blockedByUI: structurally allowed, ui requirement present, ui
//     verification returned absent
func Aggregate(pageID string, verdicts []trigger.Verdict, uiResults []vision.UIVerificationResult) PredictedEventSet {
	set := PredictedEventSet{
		PageID:        pageID,
		Fireable:      []string{},
		BlockedByRule: []string{},
		BlockedByUI:   []string{},
		Reasons:       map[string]string{},
	}

	uiByName := make(map[string]vision.UIVerificationResult, len(uiResults))
	for _, r := range uiResults {
		uiByName[r.EventName] = r
	}

	for _, v := range verdicts {
		if !v.StructurallyAllowed {
			set.BlockedByRule = append(set.BlockedByRule, v.EventName)
			set.Reasons[v.EventName] = v.Reason
			continue
		}
		ui, ok := uiByName[v.EventName]
		if !ok {
			// no verification ran for an allowed event, treat it like
			// a missing ui requirement
			set.Fireable = append(set.Fireable, v.EventName)
			continue
		}
		if ui.Degraded {
			set.Degraded = append(set.Degraded, v.EventName)
		}
		if ui.ElementsFound {
			set.Fireable = append(set.Fireable, v.EventName)
			continue
		}
		set.BlockedByUI = append(set.BlockedByUI, v.EventName)
		set.Reasons[v.EventName] = ui.Reason
	}
	if len(set.Reasons) == 0 {
		set.Reasons = nil
	}
	return set
}
