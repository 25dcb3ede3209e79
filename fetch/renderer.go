// Package fetch renders web pages and produces the artifacts the
// prediction pipeline works on: the rendered html, a screenshot and the
// resolved page context.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrRenderTimeout indicates that a page did not reach a stable state
// within the configured render timeout.
var ErrRenderTimeout = errors.New("render timeout")

// NavigationError indicates that the browser could not navigate to the
// requested url. It is distinct from a timeout so that callers can tell
// a dead link from a slow page.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Artifact is the result of rendering one page.
type Artifact struct {
	URL        string
	FinalURL   string
	HTML       string
	Screenshot []byte
	// Variables holds the page marker variables resolved from the
	// page's runtime state, eg login state or locale.
	Variables map[string]string
	// PageType is the resolved coarse page classification.
	PageType string
}

// A Renderer opens a url, waits for a stable state and returns the
// render artifact.
type Renderer interface {
	Render(ctx context.Context, url string, hint string) (*Artifact, error)
	Cancel()
}
