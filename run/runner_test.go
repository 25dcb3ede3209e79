package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jakopako/tagcheck/analytics"
	"github.com/jakopako/tagcheck/catalog"
	"github.com/jakopako/tagcheck/compare"
	"github.com/jakopako/tagcheck/fetch"
	"github.com/jakopako/tagcheck/predict"
	"github.com/jakopako/tagcheck/types"
	"github.com/jakopako/tagcheck/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runnerCatalogYml = `
events:
  - name: page_view
  - name: add_to_cart
    requires_ui_elements: [add-to-cart-button]
    allowed_page_types: [PRODUCT_DETAIL]
  - name: purchase
    allowed_page_types: [ORDER_COMPLETE]
`

func runnerCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(runnerCatalogYml))
	require.NoError(t, err)
	return c
}

// fakeVerifier answers ui verifications from a fixed map without any
// inference calls.
type fakeVerifier struct {
	elementsFound map[string]bool
}

func (f *fakeVerifier) VerifyPage(ctx context.Context, screenshot []byte, defs []*catalog.EventDefinition) []vision.UIVerificationResult {
	results := make([]vision.UIVerificationResult, 0, len(defs))
	for _, def := range defs {
		if len(def.RequiresUIElements) == 0 {
			results = append(results, vision.UIVerificationResult{EventName: def.EventName, ElementsFound: true})
			continue
		}
		results = append(results, vision.UIVerificationResult{EventName: def.EventName, ElementsFound: f.elementsFound[def.EventName]})
	}
	return results
}

type fakeAnalytics struct {
	sets map[string]*analytics.ActualEventSet
	errs map[string]error
}

func (f *fakeAnalytics) QueryEventsForPage(ctx context.Context, pageID, pagePath string) (*analytics.ActualEventSet, error) {
	if err, ok := f.errs[pageID]; ok {
		return nil, err
	}
	if set, ok := f.sets[pageID]; ok {
		return set, nil
	}
	return &analytics.ActualEventSet{PageID: pageID}, nil
}

// concurrencyProbe counts how many renders run at the same instant.
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	max     int
}

func (p *concurrencyProbe) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.max {
		p.max = p.current
	}
	p.mu.Unlock()
}

func (p *concurrencyProbe) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

func TestRunRenderPoolBound(t *testing.T) {
	probe := &concurrencyProbe{}
	pages := make([]fetch.MockPage, 0, 10)
	tasks := make([]types.PageTask, 0, 10)
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("https://shop.example.com/page/%d", i)
		pages = append(pages, fetch.MockPage{
			URL:      url,
			PageType: "MAIN",
			OnRender: probe.enter,
			Delay: func() {
				time.Sleep(20 * time.Millisecond)
				probe.leave()
			},
		})
		tasks = append(tasks, types.PageTask{ID: fmt.Sprintf("p%d", i), URL: url})
	}

	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{}, &fakeAnalytics{}, 2, 2)
	results := runner.RunAll(context.Background(), tasks)

	require.Len(t, results, 10)
	assert.LessOrEqual(t, probe.max, 2, "at no instant more than 2 tasks may hold a render slot")
	assert.GreaterOrEqual(t, probe.max, 2, "the pool should actually be saturated by 10 tasks")
}

func TestRunFailureIsolation(t *testing.T) {
	pages := []fetch.MockPage{}
	tasks := []types.PageTask{}
	actuals := map[string]*analytics.ActualEventSet{}
	for i := 1; i <= 5; i++ {
		url := fmt.Sprintf("https://shop.example.com/page/%d", i)
		id := fmt.Sprintf("p%d", i)
		p := fetch.MockPage{URL: url, PageType: "MAIN"}
		if i == 3 {
			p.Err = fmt.Errorf("%w: page 3", fetch.ErrRenderTimeout)
		}
		pages = append(pages, p)
		tasks = append(tasks, types.PageTask{ID: id, URL: url})
		actuals[id] = &analytics.ActualEventSet{
			PageID: id,
			Events: []analytics.EventVolume{{EventName: "page_view", Count: 100}},
		}
	}

	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{}, &fakeAnalytics{sets: actuals}, 2, 2)
	results := runner.RunAll(context.Background(), tasks)

	require.Len(t, results, 5)
	byID := map[string]types.PageResult{}
	for _, r := range results {
		byID[r.PageID] = r
	}
	assert.Equal(t, types.StatusSkipped, byID["p3"].Status)
	assert.Contains(t, byID["p3"].Reason, "render timeout")
	for _, id := range []string{"p1", "p2", "p4", "p5"} {
		r := byID[id]
		assert.Equal(t, types.StatusOK, r.Status, "task %s must not be affected by the timeout of p3", id)
		assert.Equal(t, 1.0, r.Accuracy, "task %s must still be compared correctly", id)
	}
}

func TestRunAnalyticsFailure(t *testing.T) {
	url := "https://shop.example.com/product/1"
	pages := []fetch.MockPage{{URL: url, PageType: "PRODUCT_DETAIL"}}
	tasks := []types.PageTask{{ID: "p1", URL: url}}
	backend := &fakeAnalytics{
		errs: map[string]error{"p1": &analytics.QueryError{PagePath: "/product/1", Err: errors.New("503")}},
	}

	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{elementsFound: map[string]bool{"add_to_cart": true}}, backend, 1, 1)
	results := runner.RunAll(context.Background(), tasks)

	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, types.StatusNoComparison, r.Status)
	// the prediction must still be produced and persisted
	predicted, ok := r.Predicted.(predict.PredictedEventSet)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"page_view", "add_to_cart"}, predicted.Fireable)
	assert.Nil(t, r.Comparison)
}

func TestRunUIBlockEndToEnd(t *testing.T) {
	url := "https://shop.example.com/product/1"
	pages := []fetch.MockPage{{URL: url, PageType: "PRODUCT_DETAIL", Screenshot: []byte("png")}}
	tasks := []types.PageTask{{ID: "p1", URL: url}}
	backend := &fakeAnalytics{
		sets: map[string]*analytics.ActualEventSet{
			"p1": {
				PageID: "p1",
				Events: []analytics.EventVolume{
					{EventName: "page_view", Count: 100},
					{EventName: "add_to_cart", Count: 30},
				},
			},
		},
	}

	// the verifier does not find the add to cart button
	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{elementsFound: map[string]bool{"add_to_cart": false}}, backend, 1, 1)
	results := runner.RunAll(context.Background(), tasks)

	require.Len(t, results, 1)
	r := results[0]
	require.Equal(t, types.StatusOK, r.Status)

	predicted := r.Predicted.(predict.PredictedEventSet)
	assert.ElementsMatch(t, []string{"add_to_cart"}, predicted.BlockedByUI)
	assert.ElementsMatch(t, []string{"purchase"}, predicted.BlockedByRule)
	assert.ElementsMatch(t, []string{"page_view"}, predicted.Fireable)

	comparison := r.Comparison.(compare.Result)
	assert.ElementsMatch(t, []string{"page_view"}, comparison.Correct)
	assert.ElementsMatch(t, []string{"add_to_cart"}, comparison.Missed)
	assert.Empty(t, comparison.Wrong)
	assert.Equal(t, 1.0, comparison.Accuracy)
}

func TestRunAdmitsInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var admitted []string

	pages := []fetch.MockPage{}
	tasks := []types.PageTask{}
	for i := 0; i < 4; i++ {
		url := fmt.Sprintf("https://shop.example.com/page/%d", i)
		id := fmt.Sprintf("p%d", i)
		pages = append(pages, fetch.MockPage{
			URL:      url,
			PageType: "MAIN",
			OnRender: func() {
				mu.Lock()
				admitted = append(admitted, id)
				mu.Unlock()
			},
		})
		tasks = append(tasks, types.PageTask{ID: id, URL: url})
	}

	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{}, &fakeAnalytics{}, 1, 1)
	results := runner.RunAll(context.Background(), tasks)

	require.Len(t, results, 4)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, admitted, "with a single render slot tasks must enter the pool in submission order")
}

// cancelling mid-run stops the admission of queued tasks, the task
// holding the render slot drains to completion with rule-engine-only
// evidence instead of being dropped
func TestRunCancelMidRunDrainsInFlightTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pages := []fetch.MockPage{}
	tasks := []types.PageTask{}
	for i := 1; i <= 2; i++ {
		url := fmt.Sprintf("https://shop.example.com/product/%d", i)
		pages = append(pages, fetch.MockPage{
			URL:        url,
			PageType:   "PRODUCT_DETAIL",
			Screenshot: []byte("png"),
			Delay:      func() { cancel() },
		})
		tasks = append(tasks, types.PageTask{ID: fmt.Sprintf("p%d", i), URL: url})
	}

	// the verifier would find the button, but it must never be consulted
	// once the run is cancelled
	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{elementsFound: map[string]bool{"add_to_cart": true}}, &fakeAnalytics{}, 1, 1)
	results := runner.RunAll(ctx, tasks)

	require.Len(t, results, 2)
	byID := map[string]types.PageResult{}
	for _, r := range results {
		byID[r.PageID] = r
	}

	require.Equal(t, types.StatusSkipped, byID["p2"].Status)
	assert.Contains(t, byID["p2"].Reason, "cancelled")

	drained := byID["p1"]
	require.Equal(t, types.StatusOK, drained.Status, "the in-flight task must drain to a full result")
	predicted, ok := drained.Predicted.(predict.PredictedEventSet)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"add_to_cart"}, predicted.Degraded)
	assert.ElementsMatch(t, []string{"add_to_cart"}, predicted.BlockedByUI)
	assert.ElementsMatch(t, []string{"page_view"}, predicted.Fireable)
}

func TestRunCancelledBeforeAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	url := "https://shop.example.com/"
	pages := []fetch.MockPage{{URL: url, PageType: "MAIN"}}
	tasks := []types.PageTask{{ID: "p1", URL: url}, {ID: "p2", URL: url}}

	runner := NewRunner(runnerCatalog(t), fetch.NewMockRenderer(pages), &fakeVerifier{}, &fakeAnalytics{}, 1, 1)
	results := runner.RunAll(ctx, tasks)

	require.Len(t, results, 2, "a run always terminates with a result per task")
	for _, r := range results {
		assert.Equal(t, types.StatusSkipped, r.Status)
		assert.Contains(t, r.Reason, "cancelled")
	}
}

func TestSummarize(t *testing.T) {
	results := []types.PageResult{
		{PageID: "p1", Status: types.StatusOK, Accuracy: 1.0, Comparison: compare.Result{Correct: []string{"a", "b"}}},
		{PageID: "p2", Status: types.StatusOK, Accuracy: 0.5, Comparison: compare.Result{Correct: []string{"a"}, Wrong: []string{"b"}, Missed: []string{"c"}}},
		{PageID: "p3", Status: types.StatusSkipped, Reason: "render timeout"},
		{PageID: "p4", Status: types.StatusNoComparison, Reason: "analytics query failed"},
	}

	summary := Summarize("run-1", results, time.Now().Add(-time.Minute), time.Now())

	assert.Equal(t, 4, summary.NrPages)
	assert.Equal(t, 2, summary.NrOK)
	assert.Equal(t, 1, summary.NrSkipped)
	assert.Equal(t, 1, summary.NrNoComparison)
	assert.InDelta(t, 0.75, summary.OverallAccuracy, 1e-9)
	assert.InDelta(t, 0.75, summary.MeanAccuracy, 1e-9)
	assert.InDelta(t, 0.5, summary.MinAccuracy, 1e-9)
	assert.Equal(t, map[string]int{"c": 1}, summary.MissCounts)
}
