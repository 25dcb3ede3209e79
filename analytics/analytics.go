// Package analytics queries the analytics backend for the observed
// event distribution of a page. The backend's noise classification is
// consumed as-is via the isNoise flag.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/log"
)

// EventVolume is one observed event of a page.
type EventVolume struct {
	EventName  string  `json:"eventName"`
	Count      int64   `json:"count"`
	Proportion float64 `json:"proportion"`
	IsNoise    bool    `json:"isNoise"`
}

// ActualEventSet is the observed event distribution of one page,
// fetched once per page and immutable afterwards.
type ActualEventSet struct {
	PageID string        `json:"pageId"`
	Events []EventVolume `json:"events"`
}

// QueryError indicates that the analytics backend could not be
// queried. The page's prediction is still persisted, only its
// comparison is marked unavailable.
type QueryError struct {
	PagePath string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("analytics query for %s failed: %v", e.PagePath, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Client queries the analytics backend over http.
type Client struct {
	cfg        config.AnalyticsConfig
	httpClient *http.Client
}

func NewClient(cfg config.AnalyticsConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// QueryEventsForPage fetches the observed event volumes for the given
// page path within the configured date range.
func (c *Client) QueryEventsForPage(ctx context.Context, pageID, pagePath string) (*ActualEventSet, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("page", pagePath))
	queryURL := fmt.Sprintf("%s?path=%s&from=%s&to=%s",
		c.cfg.Uri,
		url.QueryEscape(pagePath),
		url.QueryEscape(c.cfg.DateFrom),
		url.QueryEscape(c.cfg.DateTo))
	logger.Debug(fmt.Sprintf("querying analytics backend %s", queryURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &QueryError{PagePath: pagePath, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &QueryError{PagePath: pagePath, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, &QueryError{PagePath: pagePath, Err: fmt.Errorf("status code error: %d %s", res.StatusCode, res.Status)}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &QueryError{PagePath: pagePath, Err: err}
	}

	var events []EventVolume
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &QueryError{PagePath: pagePath, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	logger.Debug(fmt.Sprintf("fetched %d observed events", len(events)))
	return &ActualEventSet{PageID: pageID, Events: events}, nil
}
