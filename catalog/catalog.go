// Package catalog loads the tag configuration, ie the catalog of event
// definitions and the page type resolution rules. The catalog is loaded
// once at startup and is read-only for the duration of a run.
package catalog

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Filter kinds. The set is closed; an unknown kind makes the catalog
// load fail so that misconfigured tags surface before any page is
// scheduled.
const (
	FilterEquals    = "equals"
	FilterNotEquals = "not_equals"
	FilterContains  = "contains"
	FilterRegex     = "regex"
)

// Filter is a predicate against a resolved page variable, eg login
// state or locale. All filters of an event definition must pass for the
// event to be structurally allowed.
type Filter struct {
	Kind     string `yaml:"kind"`
	Variable string `yaml:"variable"`
	Value    string `yaml:"value"`

	regex *regexp.Regexp
}

// Regex returns the compiled expression of a regex filter.
func (f *Filter) Regex() *regexp.Regexp {
	return f.regex
}

func (f *Filter) initialize() error {
	switch f.Kind {
	case FilterEquals, FilterNotEquals, FilterContains:
		return nil
	case FilterRegex:
		regex, err := regexp.Compile(f.Value)
		if err != nil {
			return fmt.Errorf("cannot compile regex filter on %s: %w", f.Variable, err)
		}
		f.regex = regex
		return nil
	default:
		return fmt.Errorf("filter kind '%s' does not exist", f.Kind)
	}
}

// EventDefinition describes under what structural conditions an
// analytics event fires and which ui elements its trigger needs.
// An empty AllowedPageTypes list means the event is valid on all page
// types.
type EventDefinition struct {
	EventName          string    `yaml:"name"`
	Category           string    `yaml:"category"`
	RequiresUIElements []string  `yaml:"requires_ui_elements,omitempty"`
	RequiresUserAction bool      `yaml:"requires_user_action,omitempty"`
	SessionOnce        bool      `yaml:"session_once,omitempty"`
	AllowedPageTypes   []string  `yaml:"allowed_page_types,omitempty"`
	Filters            []*Filter `yaml:"filters,omitempty"`
}

// AllowsAllPageTypes reports whether the definition has no page type
// restriction.
func (d *EventDefinition) AllowsAllPageTypes() bool {
	return len(d.AllowedPageTypes) == 0
}

// AllowsPageType reports whether the definition is valid for the given
// resolved page type.
func (d *EventDefinition) AllowsPageType(pageType string) bool {
	if d.AllowsAllPageTypes() {
		return true
	}
	for _, t := range d.AllowedPageTypes {
		if t == pageType {
			return true
		}
	}
	return false
}

// PageTypeRule maps pages to a coarse page type. URL patterns are
// checked against the final page url, the meta selector against the
// rendered html. Rules are evaluated in declared order, first match
// wins.
type PageTypeRule struct {
	Type         string `yaml:"type"`
	URLPattern   string `yaml:"url_pattern,omitempty"`
	MetaSelector string `yaml:"meta_selector,omitempty"`
	MetaContent  string `yaml:"meta_content,omitempty"`

	urlRegex *regexp.Regexp
}

// URLRegex returns the compiled url pattern, nil if none is configured.
func (r *PageTypeRule) URLRegex() *regexp.Regexp {
	return r.urlRegex
}

// Catalog is the run-scoped tag configuration snapshot shared by all
// concurrent page tasks.
type Catalog struct {
	Events        []*EventDefinition `yaml:"events"`
	PageTypeRules []*PageTypeRule    `yaml:"page_types"`

	byName map[string]*EventDefinition
}

// Load reads the tag configuration from the given yaml file. An
// unreadable file, an empty event catalog and invalid filters are all
// fatal, the run cannot proceed without rules to evaluate.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag configuration %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw yaml bytes.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse tag configuration: %w", err)
	}
	if err := c.initialize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) initialize() error {
	if len(c.Events) == 0 {
		return fmt.Errorf("tag configuration contains no event definitions")
	}
	c.byName = make(map[string]*EventDefinition, len(c.Events))
	for _, def := range c.Events {
		if def.EventName == "" {
			return fmt.Errorf("event definition without a name")
		}
		if _, ok := c.byName[def.EventName]; ok {
			return fmt.Errorf("duplicate event definition '%s'", def.EventName)
		}
		for _, f := range def.Filters {
			if err := f.initialize(); err != nil {
				return fmt.Errorf("event '%s': %w", def.EventName, err)
			}
		}
		c.byName[def.EventName] = def
	}
	for _, rule := range c.PageTypeRules {
		if rule.Type == "" {
			return fmt.Errorf("page type rule without a type")
		}
		if rule.URLPattern != "" {
			regex, err := regexp.Compile(rule.URLPattern)
			if err != nil {
				return fmt.Errorf("page type rule '%s': %w", rule.Type, err)
			}
			rule.urlRegex = regex
		}
	}
	return nil
}

// Event looks up a definition by name.
func (c *Catalog) Event(name string) (*EventDefinition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// SessionOnceEvents returns the names of all events that fire at most
// once per session.
func (c *Catalog) SessionOnceEvents() map[string]bool {
	result := map[string]bool{}
	for _, def := range c.Events {
		if def.SessionOnce {
			result[def.EventName] = true
		}
	}
	return result
}
