// Package paths ranks the navigation sequences that lead to conversion.
package paths

import (
	"sort"
	"strings"

	"intelreport/internal/funnel"
	"intelreport/internal/sessions"
)

// Granularity selects what a path step identifies.
type Granularity string

const (
	ByStage Granularity = "stage"
	ByPage  Granularity = "page"
)

// DefaultMaxLength caps the number of steps kept per path.
const DefaultMaxLength = 10

const separator = " → "

// Options configures path extraction.
type Options struct {
	Granularity Granularity
	Stages      []funnel.Stage
	MaxLength   int
}

// ConversionPath is a recurring step sequence with its conversion record.
type ConversionPath struct {
	Steps            []string `json:"steps"`
	Frequency        int      `json:"frequency"`
	Sessions         int      `json:"sessions"`
	ConversionRate   float64  `json:"conversionRate"`
	AvgTimeToConvert float64  `json:"avgTimeToConvertSeconds"`
}

// Key joins the steps into the display form.
func (p ConversionPath) Key() string {
	return strings.Join(p.Steps, separator)
}

// Steps extracts the collapsed step sequence of a session.
func Steps(s sessions.Session, opts Options) []string {
	limit := opts.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}

	var out []string
	for _, e := range s.Events {
		var id string
		if opts.Granularity == ByPage {
			if !e.IsPageView() || e.Path == "" {
				continue
			}
			id = e.Path
		} else {
			r := funnel.EventRank(opts.Stages, e)
			if r == funnel.NotReached {
				continue
			}
			id = opts.Stages[r].Name
		}
		if n := len(out); n > 0 && out[n-1] == id {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}

type tally struct {
	steps     []string
	total     int
	converted int
	convTime  float64
}

// TopPaths returns up to n paths ordered by converted frequency, then by the
// number of sessions sharing the path, then by path text. converted is
// aligned with list. Only paths with at least one conversion are returned.
func TopPaths(list []sessions.Session, converted []bool, n int, opts Options) []ConversionPath {
	byKey := make(map[string]*tally)
	for i, s := range list {
		steps := Steps(s, opts)
		if len(steps) == 0 {
			continue
		}
		key := strings.Join(steps, separator)
		t, ok := byKey[key]
		if !ok {
			t = &tally{steps: steps}
			byKey[key] = t
		}
		t.total++
		if i < len(converted) && converted[i] {
			t.converted++
			t.convTime += s.Duration().Seconds()
		}
	}

	out := make([]ConversionPath, 0, len(byKey))
	for _, t := range byKey {
		if t.converted == 0 {
			continue
		}
		out = append(out, ConversionPath{
			Steps:            t.steps,
			Frequency:        t.converted,
			Sessions:         t.total,
			ConversionRate:   float64(t.converted) / float64(t.total),
			AvgTimeToConvert: t.convTime / float64(t.converted),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		return out[i].Key() < out[j].Key()
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
