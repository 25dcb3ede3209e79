package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jakopako/tagcheck/catalog"
)

// PageTypeUnknown is assigned when no resolution source yields a type.
// Events with an explicit allowed page type list are structurally
// blocked on unknown pages.
const PageTypeUnknown = "UNKNOWN"

// PageTypeResolver resolves the coarse page type of a rendered page.
// Resolution order: explicit task hint, marker variable evaluated in
// the page, then the catalog's lookup rules (url pattern or meta tag)
// against the render artifact.
type PageTypeResolver struct {
	rules []*catalog.PageTypeRule
}

func NewPageTypeResolver(c *catalog.Catalog) *PageTypeResolver {
	var rules []*catalog.PageTypeRule
	if c != nil {
		rules = c.PageTypeRules
	}
	return &PageTypeResolver{rules: rules}
}

func (r *PageTypeResolver) Resolve(hint, marker string, artifact *Artifact) string {
	if hint != "" {
		return hint
	}
	if marker != "" {
		return marker
	}
	finalURL := artifact.FinalURL
	if finalURL == "" {
		finalURL = artifact.URL
	}
	var doc *goquery.Document
	for _, rule := range r.rules {
		if rule.URLRegex() != nil && rule.URLRegex().MatchString(finalURL) {
			return rule.Type
		}
		if rule.MetaSelector == "" || artifact.HTML == "" {
			continue
		}
		if doc == nil {
			var err error
			doc, err = goquery.NewDocumentFromReader(strings.NewReader(artifact.HTML))
			if err != nil {
				continue
			}
		}
		if matchesMetaRule(doc, rule) {
			return rule.Type
		}
	}
	return PageTypeUnknown
}

func matchesMetaRule(doc *goquery.Document, rule *catalog.PageTypeRule) bool {
	matched := false
	doc.Find(rule.MetaSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		content := s.AttrOr("content", "")
		if content == "" {
			content = strings.TrimSpace(s.Text())
		}
		if rule.MetaContent == "" || content == rule.MetaContent {
			matched = true
			return false
		}
		return true
	})
	return matched
}
