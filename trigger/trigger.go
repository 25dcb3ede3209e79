// Package trigger evaluates the static trigger conditions of event
// definitions against a resolved page context. The evaluation is
// deterministic and side-effect free which makes it testable without
// rendering a page.
package trigger

import (
	"fmt"
	"strings"

	"github.com/jakopako/tagcheck/catalog"
)

// PageContext holds everything the rule engine knows about a rendered
// page: its resolved type and the resolved page variables, eg login
// state or locale.
type PageContext struct {
	PageType  string
	Variables map[string]string
}

// Verdict is the structural verdict for one (page, event) pair.
type Verdict struct {
	EventName           string `json:"eventName"`
	StructurallyAllowed bool   `json:"structurallyAllowed"`
	Reason              string `json:"reason,omitempty"`
}

// Engine evaluates event definitions against page contexts.
type Engine struct {
	catalog *catalog.Catalog
}

func NewEngine(c *catalog.Catalog) *Engine {
	return &Engine{catalog: c}
}

// Evaluate produces the structural verdict for a single event
// definition. The page type restriction is checked first, then the
// filters in declared order; the first failing filter determines the
// blocking reason.
func (e *Engine) Evaluate(def *catalog.EventDefinition, pc PageContext) Verdict {
	if !def.AllowsPageType(pc.PageType) {
		return Verdict{
			EventName:           def.EventName,
			StructurallyAllowed: false,
			Reason:              fmt.Sprintf("page-type mismatch: '%s' not in %v", pc.PageType, def.AllowedPageTypes),
		}
	}
	for _, f := range def.Filters {
		if ok := evaluateFilter(f, pc.Variables); !ok {
			return Verdict{
				EventName:           def.EventName,
				StructurallyAllowed: false,
				Reason:              fmt.Sprintf("filter failed: %s %s '%s'", f.Variable, f.Kind, f.Value),
			}
		}
	}
	return Verdict{
		EventName:           def.EventName,
		StructurallyAllowed: true,
	}
}

// EvaluateAll evaluates the whole catalog for one page, in catalog
// order.
func (e *Engine) EvaluateAll(pc PageContext) []Verdict {
	verdicts := make([]Verdict, 0, len(e.catalog.Events))
	for _, def := range e.catalog.Events {
		verdicts = append(verdicts, e.Evaluate(def, pc))
	}
	return verdicts
}

// evaluateFilter dispatches on the closed set of filter kinds. Unknown
// kinds cannot reach this point, the catalog rejects them at load time.
func evaluateFilter(f *catalog.Filter, variables map[string]string) bool {
	value := variables[f.Variable]
	switch f.Kind {
	case catalog.FilterEquals:
		return value == f.Value
	case catalog.FilterNotEquals:
		return value != f.Value
	case catalog.FilterContains:
		return strings.Contains(value, f.Value)
	case catalog.FilterRegex:
		return f.Regex().MatchString(value)
	default:
		return false
	}
}
