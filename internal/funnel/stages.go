package funnel

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"intelreport/internal/events"
)

// Match lists the predicates that place an event in a stage. Any single
// predicate firing is enough.
type Match struct {
	EventTypes   []string `yaml:"event_types" json:"eventTypes,omitempty"`
	EventNames   []string `yaml:"event_names" json:"eventNames,omitempty"`
	PathPrefixes []string `yaml:"path_prefixes" json:"pathPrefixes,omitempty"`
}

func (m Match) empty() bool {
	return len(m.EventTypes) == 0 && len(m.EventNames) == 0 && len(m.PathPrefixes) == 0
}

// Stage is one step of the conversion funnel.
type Stage struct {
	Name  string `yaml:"name" json:"name"`
	Label string `yaml:"label" json:"label"`
	Order int    `yaml:"order" json:"order"`
	Match Match  `yaml:"match" json:"match"`
}

// Matches reports whether e satisfies any predicate of the stage.
func (s Stage) Matches(e events.RawEvent) bool {
	for _, t := range s.Match.EventTypes {
		if e.EventType == t {
			return true
		}
	}
	if e.EventName != "" {
		for _, n := range s.Match.EventNames {
			if e.EventName == n {
				return true
			}
		}
	}
	if e.IsPageView() && e.Path != "" {
		for _, p := range s.Match.PathPrefixes {
			if strings.HasPrefix(e.Path, p) {
				return true
			}
		}
	}
	return false
}

// ConfigurationError reports an unusable stage definition.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "funnel configuration: " + e.Reason
}

// DefaultStages is the storefront purchase funnel.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "landing", Order: 1, Match: Match{EventTypes: []string{events.TypePageView}}},
		{Name: "product_view", Order: 2, Match: Match{
			EventNames:   []string{"product_view", "view_item"},
			PathPrefixes: []string{"/products/", "/product/", "/shop/"},
		}},
		{Name: "add_to_cart", Order: 3, Match: Match{
			EventNames:   []string{"add_to_cart"},
			PathPrefixes: []string{"/cart"},
		}},
		{Name: "begin_checkout", Order: 4, Match: Match{
			EventNames:   []string{"begin_checkout"},
			PathPrefixes: []string{"/checkout"},
		}},
		{Name: "purchase", Order: 5, Match: Match{
			EventNames:   []string{"purchase"},
			PathPrefixes: []string{"/order-confirmation", "/thank-you"},
		}},
	}
}

type stageFile struct {
	Stages []Stage `yaml:"stages"`
}

// LoadStages reads stage definitions from a YAML file. An empty path yields
// the default funnel.
func LoadStages(path string) ([]Stage, error) {
	if path == "" {
		return Normalize(DefaultStages())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("stage file %s not found", path)}
		}
		return nil, fmt.Errorf("funnel: read stage file: %w", err)
	}
	return ParseStages(data)
}

// ParseStages decodes and validates YAML stage definitions.
func ParseStages(data []byte) ([]Stage, error) {
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}
	return Normalize(f.Stages)
}

// Normalize validates stages, fills missing labels and returns them sorted by
// Order.
func Normalize(stages []Stage) ([]Stage, error) {
	if len(stages) < 2 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("need at least 2 stages, got %d", len(stages))}
	}

	out := make([]Stage, len(stages))
	copy(out, stages)

	caser := cases.Title(language.English)
	names := make(map[string]bool, len(out))
	orders := make(map[int]bool, len(out))
	for i := range out {
		s := &out[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("stage %d has no name", i)}
		}
		if names[s.Name] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate stage name %q", s.Name)}
		}
		if orders[s.Order] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate stage order %d", s.Order)}
		}
		if s.Match.empty() {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("stage %q has no match predicate", s.Name)}
		}
		names[s.Name] = true
		orders[s.Order] = true
		if s.Label == "" {
			s.Label = caser.String(strings.ReplaceAll(s.Name, "_", " "))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
