package run

import (
	"time"

	"github.com/jakopako/tagcheck/compare"
	"github.com/jakopako/tagcheck/types"
	"github.com/montanaflynn/stats"
)

// Summarize aggregates the per-page results of a run. Accuracy
// statistics are computed only over pages with a valid comparison so
// that unreachable pages do not masquerade as wrong predictions.
func Summarize(runID string, results []types.PageResult, start, end time.Time) types.RunSummary {
	summary := types.RunSummary{
		RunID:      runID,
		NrPages:    len(results),
		MissCounts: map[string]int{},
		Start:      start,
		End:        end,
	}

	var accuracies []float64
	var totalCorrect, totalWrong int
	for _, result := range results {
		switch result.Status {
		case types.StatusSkipped:
			summary.NrSkipped++
			continue
		case types.StatusNoComparison:
			summary.NrNoComparison++
			continue
		}
		summary.NrOK++
		accuracies = append(accuracies, result.Accuracy)
		if comparison, ok := result.Comparison.(compare.Result); ok {
			totalCorrect += len(comparison.Correct)
			totalWrong += len(comparison.Wrong)
			for _, name := range comparison.Missed {
				summary.MissCounts[name]++
			}
		}
	}

	if totalCorrect+totalWrong > 0 {
		summary.OverallAccuracy = float64(totalCorrect) / float64(totalCorrect+totalWrong)
	}
	if len(accuracies) > 0 {
		// the stats functions only error on empty input
		summary.MeanAccuracy, _ = stats.Mean(accuracies)
		summary.MedianAccuracy, _ = stats.Median(accuracies)
		summary.MinAccuracy, _ = stats.Min(accuracies)
	}
	return summary
}
