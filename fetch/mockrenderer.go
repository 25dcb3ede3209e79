package fetch

import (
	"context"
	"errors"
)

// MockPage configures the artifact the MockRenderer returns for a url.
type MockPage struct {
	URL        string
	PageType   string
	Variables  map[string]string
	HTML       string
	Screenshot []byte
	Err        error
	// Delay lets tests simulate slow renders.
	Delay func()
	// OnRender is called while the render slot is held, eg to count
	// concurrent renders in tests.
	OnRender func()
}

// MockRenderer serves canned artifacts, mainly for tests.
type MockRenderer struct {
	pagesMap map[string]MockPage
}

func NewMockRenderer(pages []MockPage) *MockRenderer {
	m := &MockRenderer{pagesMap: map[string]MockPage{}}
	for _, p := range pages {
		m.pagesMap[p.URL] = p
	}
	return m
}

func (m *MockRenderer) Render(ctx context.Context, urlStr string, hint string) (*Artifact, error) {
	p, ok := m.pagesMap[urlStr]
	if !ok {
		return nil, &NavigationError{URL: urlStr, Err: errors.New("page not found")}
	}
	if p.OnRender != nil {
		p.OnRender()
	}
	if p.Delay != nil {
		p.Delay()
	}
	if p.Err != nil {
		return nil, p.Err
	}
	pageType := p.PageType
	if hint != "" {
		pageType = hint
	}
	variables := p.Variables
	if variables == nil {
		variables = map[string]string{}
	}
	return &Artifact{
		URL:        urlStr,
		FinalURL:   urlStr,
		HTML:       p.HTML,
		Screenshot: p.Screenshot,
		Variables:  variables,
		PageType:   pageType,
	}, nil
}

func (m *MockRenderer) Cancel() {}
