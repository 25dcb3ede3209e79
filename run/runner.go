// Package run drives many page tasks through the prediction and
// comparison pipeline. Two independently bounded pools limit the
// resource-heavy render sessions and the rate-limited inference calls;
// a failing page never affects its siblings.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jakopako/tagcheck/analytics"
	"github.com/jakopako/tagcheck/catalog"
	"github.com/jakopako/tagcheck/compare"
	"github.com/jakopako/tagcheck/fetch"
	"github.com/jakopako/tagcheck/log"
	"github.com/jakopako/tagcheck/predict"
	"github.com/jakopako/tagcheck/trigger"
	"github.com/jakopako/tagcheck/types"
	"github.com/jakopako/tagcheck/vision"
	"golang.org/x/sync/semaphore"
)

// UIVerifier is what the runner needs from the vision package.
type UIVerifier interface {
	VerifyPage(ctx context.Context, screenshot []byte, defs []*catalog.EventDefinition) []vision.UIVerificationResult
}

// AnalyticsClient is what the runner needs from the analytics package.
type AnalyticsClient interface {
	QueryEventsForPage(ctx context.Context, pageID, pagePath string) (*analytics.ActualEventSet, error)
}

// Runner owns the two worker pools and the pipeline components.
type Runner struct {
	catalog   *catalog.Catalog
	engine    *trigger.Engine
	renderer  fetch.Renderer
	verifier  UIVerifier
	analytics AnalyticsClient

	renderSem *semaphore.Weighted
	inferSem  *semaphore.Weighted
}

func NewRunner(c *catalog.Catalog, renderer fetch.Renderer, verifier UIVerifier, analyticsClient AnalyticsClient, renderConcurrency, inferConcurrency int) *Runner {
	if renderConcurrency < 1 {
		renderConcurrency = 1
	}
	if inferConcurrency < 1 {
		inferConcurrency = 1
	}
	return &Runner{
		catalog:   c,
		engine:    trigger.NewEngine(c),
		renderer:  renderer,
		verifier:  verifier,
		analytics: analyticsClient,
		renderSem: semaphore.NewWeighted(int64(renderConcurrency)),
		inferSem:  semaphore.NewWeighted(int64(inferConcurrency)),
	}
}

// Run drives all tasks through the pipeline and blocks until every task
// has produced a result. Tasks are admitted in submission order: the
// render slot is acquired here, before the task goroutine starts, so
// that admission follows the task list and not goroutine scheduling.
// Results are sent to the results channel in completion order, which is
// not the submission order; each result carries its page id. Cancelling
// ctx stops the admission of new tasks into the pools while in-flight
// tasks drain to completion.
func (r *Runner) Run(ctx context.Context, tasks []types.PageTask, results chan<- types.PageResult) {
	defer close(results)

	done := make(chan types.PageResult)
	for _, task := range tasks {
		if err := r.renderSem.Acquire(ctx, 1); err != nil {
			go func(task types.PageTask) {
				done <- types.PageResult{
					PageID: task.ID,
					URL:    task.URL,
					Status: types.StatusSkipped,
					Reason: "run cancelled before rendering",
				}
			}(task)
			continue
		}
		go func(task types.PageTask) {
			done <- r.runTask(ctx, task)
		}(task)
	}
	for range tasks {
		results <- <-done
	}
}

// RunAll is a convenience wrapper collecting all results into a slice.
func (r *Runner) RunAll(ctx context.Context, tasks []types.PageTask) []types.PageResult {
	results := make(chan types.PageResult, len(tasks))
	r.Run(ctx, tasks, results)
	all := make([]types.PageResult, 0, len(tasks))
	for result := range results {
		all = append(all, result)
	}
	return all
}

// runTask executes the sequential per-page chain: render, rule
// evaluation, ui verification, aggregation, ground truth comparison.
// The caller has already acquired the render slot; it is released when
// rendering completes. Every failure is converted into a result,
// nothing escapes.
func (r *Runner) runTask(runCtx context.Context, task types.PageTask) (result types.PageResult) {
	start := time.Now()
	logger := slog.With(slog.String("page", task.ID), slog.String("url", task.URL))
	// in-flight work is detached from the run context on purpose: a
	// run-level cancel only stops admission, it does not tear down open
	// browser sessions or pending api calls
	taskCtx := log.ContextWithLogger(context.Background(), logger)

	result = types.PageResult{
		PageID: task.ID,
		URL:    task.URL,
		Status: types.StatusOK,
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(fmt.Sprintf("task panicked: %v", rec))
			result.Status = types.StatusSkipped
			result.Reason = fmt.Sprintf("internal error: %v", rec)
		}
		result.Elapsed = time.Since(start)
	}()

	// render, the slot acquired by Run is released here
	artifact, err := func() (*fetch.Artifact, error) {
		defer r.renderSem.Release(1)
		logger.Info("rendering page")
		return r.renderer.Render(taskCtx, task.URL, task.PageTypeHint)
	}()
	if err != nil {
		logger.Error(fmt.Sprintf("render failed: %v", err))
		result.Status = types.StatusSkipped
		result.Reason = renderFailureReason(err)
		return result
	}

	// structural rule evaluation
	pc := trigger.PageContext{
		PageType:  artifact.PageType,
		Variables: artifact.Variables,
	}
	verdicts := r.engine.EvaluateAll(pc)

	// ui verification, bounded by the inference pool; only events that
	// passed the structural check are verified
	allowed := r.allowedDefinitions(verdicts)
	var uiResults []vision.UIVerificationResult
	if needsInference(allowed) {
		if err := r.inferSem.Acquire(runCtx, 1); err != nil {
			// run cancelled mid-task: fall through with rule-engine-only
			// evidence instead of dropping the page
			logger.Warn("run cancelled before ui verification, continuing without model evidence")
			uiResults = degradedResults(allowed, "run cancelled before ui verification")
		} else {
			func() {
				defer r.inferSem.Release(1)
				uiResults = r.verifier.VerifyPage(taskCtx, artifact.Screenshot, allowed)
			}()
		}
	} else {
		uiResults = r.verifier.VerifyPage(taskCtx, artifact.Screenshot, allowed)
	}

	predicted := predict.Aggregate(task.ID, verdicts, uiResults)
	result.Predicted = predicted

	// ground truth comparison
	actual, err := r.analytics.QueryEventsForPage(taskCtx, task.ID, pagePath(task.URL))
	if err != nil {
		logger.Error(fmt.Sprintf("analytics query failed: %v", err))
		result.Status = types.StatusNoComparison
		result.Reason = err.Error()
		return result
	}
	result.Actual = actual

	comparison := compare.Compare(predicted, actual, r.catalog.SessionOnceEvents())
	result.Comparison = comparison
	result.Accuracy = comparison.Accuracy
	logger.Info(fmt.Sprintf("page compared: %d correct, %d missed, %d wrong, accuracy %.2f",
		len(comparison.Correct), len(comparison.Missed), len(comparison.Wrong), comparison.Accuracy))
	return result
}

func (r *Runner) allowedDefinitions(verdicts []trigger.Verdict) []*catalog.EventDefinition {
	allowed := []*catalog.EventDefinition{}
	for _, v := range verdicts {
		if !v.StructurallyAllowed {
			continue
		}
		if def, ok := r.catalog.Event(v.EventName); ok {
			allowed = append(allowed, def)
		}
	}
	return allowed
}

func needsInference(defs []*catalog.EventDefinition) bool {
	for _, def := range defs {
		if len(def.RequiresUIElements) > 0 {
			return true
		}
	}
	return false
}

func degradedResults(defs []*catalog.EventDefinition, reason string) []vision.UIVerificationResult {
	results := make([]vision.UIVerificationResult, 0, len(defs))
	for _, def := range defs {
		if len(def.RequiresUIElements) == 0 {
			results = append(results, vision.UIVerificationResult{
				EventName:     def.EventName,
				ElementsFound: true,
				Reason:        "no ui requirement",
			})
			continue
		}
		results = append(results, vision.UIVerificationResult{
			EventName: def.EventName,
			Reason:    reason,
			Degraded:  true,
		})
	}
	return results
}

func renderFailureReason(err error) string {
	var navErr *fetch.NavigationError
	switch {
	case errors.Is(err, fetch.ErrRenderTimeout):
		return fmt.Sprintf("render timeout: %v", err)
	case errors.As(err, &navErr):
		return fmt.Sprintf("navigation error: %v", navErr)
	default:
		return fmt.Sprintf("render failed: %v", err)
	}
}

// pagePath extracts the path component that the analytics backend keys
// its reports on.
func pagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
