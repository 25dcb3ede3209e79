// Package types defines shared types used across the application.
package types

import "time"

// PageTask describes a single page whose analytics events should be
// predicted and verified. Tasks are created by the caller before a run
// and are never mutated afterwards.
type PageTask struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	PageTypeHint   string   `yaml:"page_type_hint,omitempty"`
	ExpectedEvents []string `yaml:"expected_events,omitempty"`
}

// Statuses of a finished page task.
const (
	StatusOK           = "ok"
	StatusSkipped      = "skipped"
	StatusNoComparison = "no-comparison"
)

// PageResult is the terminal artifact of one page task. Predicted,
// Actual and Comparison are kept untyped so that the output writers do
// not depend on the domain packages; they carry the JSON-serializable
// structs of the predict, analytics and compare packages respectively.
type PageResult struct {
	PageID     string        `json:"pageId"`
	URL        string        `json:"url"`
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Predicted  any           `json:"predicted,omitempty"`
	Actual     any           `json:"actual,omitempty"`
	Comparison any           `json:"comparison,omitempty"`
	Accuracy   float64       `json:"accuracy"`
	Elapsed    time.Duration `json:"elapsed"`
}

// RunSummary aggregates all page results of one run.
type RunSummary struct {
	RunID           string         `json:"runId"`
	NrPages         int            `json:"nrPages"`
	NrOK            int            `json:"nrOk"`
	NrSkipped       int            `json:"nrSkipped"`
	NrNoComparison  int            `json:"nrNoComparison"`
	OverallAccuracy float64        `json:"overallAccuracy"`
	MeanAccuracy    float64        `json:"meanAccuracy"`
	MedianAccuracy  float64        `json:"medianAccuracy"`
	MinAccuracy     float64        `json:"minAccuracy"`
	MissCounts      map[string]int `json:"missCounts"`
	Start           time.Time      `json:"start"`
	End             time.Time      `json:"end"`
}
