// Package metrics computes daily measurements and rolling baselines.
package metrics

import (
	"math"
	"sort"
	"time"

	"intelreport/internal/sessions"
)

// Metric names.
const (
	Sessions           = "sessions"
	ConvertedSessions  = "converted_sessions"
	Pageviews          = "pageviews"
	BounceSessions     = "bounce_sessions"
	UniqueVisitors     = "unique_visitors"
	AvgSessionDuration = "avg_session_duration_seconds"
)

// Names lists every metric in report order.
var Names = []string{
	Sessions,
	ConvertedSessions,
	Pageviews,
	BounceSessions,
	UniqueVisitors,
	AvgSessionDuration,
}

const dayLayout = "2006-01-02"

// Metric is one named daily measurement.
type Metric struct {
	Name  string    `json:"name"`
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Baseline is the reference distribution for a metric on a date.
type Baseline struct {
	Metric       string    `json:"metric"`
	Date         time.Time `json:"date"`
	WindowDays   int       `json:"windowDays"`
	ObservedDays int       `json:"observedDays"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"stdDev"`
}

// Day returns local midnight of t in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return Day(t, loc).Format(dayLayout)
}

// Daily computes the metrics for date from sessions starting on that day.
// converted is aligned with list.
func Daily(list []sessions.Session, converted []bool, date time.Time, loc *time.Location) []Metric {
	day := Day(date, loc)
	key := day.Format(dayLayout)

	var (
		total, conv, pages, bounces int
		duration                    time.Duration
	)
	devices := make(map[string]struct{})
	for i, s := range list {
		if DayKey(s.Start, loc) != key {
			continue
		}
		total++
		if i < len(converted) && converted[i] {
			conv++
		}
		pages += s.PageCount
		if s.Bounced() {
			bounces++
		}
		duration += s.Duration()
		devices[s.DeviceID] = struct{}{}
	}

	avg := 0.0
	if total > 0 {
		avg = duration.Seconds() / float64(total)
	}

	return []Metric{
		{Name: Sessions, Date: day, Value: float64(total)},
		{Name: ConvertedSessions, Date: day, Value: float64(conv)},
		{Name: Pageviews, Date: day, Value: float64(pages)},
		{Name: BounceSessions, Date: day, Value: float64(bounces)},
		{Name: UniqueVisitors, Date: day, Value: float64(len(devices))},
		{Name: AvgSessionDuration, Date: day, Value: avg},
	}
}

// History is a per-day table of metric values.
type History struct {
	loc    *time.Location
	values map[string]map[string]float64
}

// NewHistory creates an empty history keyed by days in loc.
func NewHistory(loc *time.Location) *History {
	if loc == nil {
		loc = time.UTC
	}
	return &History{loc: loc, values: make(map[string]map[string]float64)}
}

// HistoryFromSessions computes daily metrics for every day in [from, to).
func HistoryFromSessions(list []sessions.Session, converted []bool, from, to time.Time, loc *time.Location) *History {
	h := NewHistory(loc)
	for day := Day(from, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		h.Add(Daily(list, converted, day, loc)...)
	}
	return h
}

// Add records metrics, overwriting existing values for the same day.
func (h *History) Add(ms ...Metric) {
	for _, m := range ms {
		key := DayKey(m.Date, h.loc)
		row, ok := h.values[key]
		if !ok {
			row = make(map[string]float64)
			h.values[key] = row
		}
		row[m.Name] = m.Value
	}
}

// Value returns the recorded value of name on date.
func (h *History) Value(name string, date time.Time) (float64, bool) {
	row, ok := h.values[DayKey(date, h.loc)]
	if !ok {
		return 0, false
	}
	v, ok := row[name]
	return v, ok
}

// Metrics returns every stored metric ordered by date then name.
func (h *History) Metrics() []Metric {
	var out []Metric
	for key, row := range h.values {
		day, err := time.ParseInLocation(dayLayout, key, h.loc)
		if err != nil {
			continue
		}
		for name, v := range row {
			out = append(out, Metric{Name: name, Date: day, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Baseline computes the population mean and standard deviation of name over
// the windowDays days strictly preceding date. Missing days count as zero so
// the sample size always equals the window.
func (h *History) Baseline(name string, date time.Time, windowDays int) Baseline {
	b := Baseline{Metric: name, Date: Day(date, h.loc), WindowDays: windowDays}
	if windowDays <= 0 {
		return b
	}

	samples := make([]float64, 0, windowDays)
	day := Day(date, h.loc)
	for i := 1; i <= windowDays; i++ {
		v, ok := h.Value(name, day.AddDate(0, 0, -i))
		if ok {
			b.ObservedDays++
		}
		samples = append(samples, v)
	}

	b.Mean, b.StdDev = meanStdDev(samples)
	return b
}

func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
