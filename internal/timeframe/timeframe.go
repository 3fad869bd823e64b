// Package timeframe resolves report periods into concrete time windows.
package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// Period is a named reporting cadence.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists every supported period.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// ParsePeriod accepts a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Periods {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period %q (want daily, weekly or monthly)", s)
}

// Days is the number of calendar days a period covers.
func (p Period) Days() int {
	switch p {
	case PeriodWeekly:
		return 7
	case PeriodMonthly:
		return 30
	default:
		return 1
	}
}

// Window is a half-open span [From, To) of whole days in Loc.
type Window struct {
	Period Period         `json:"period"`
	From   time.Time      `json:"from"`
	To     time.Time      `json:"to"`
	Loc    *time.Location `json:"-"`
}

// Resolve returns the window for p ending at the start of the day containing
// now. The current, incomplete day is never included.
func Resolve(p Period, now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	to := StartOfDay(now, loc)
	return Window{
		Period: p,
		From:   to.AddDate(0, 0, -p.Days()),
		To:     to,
		Loc:    loc,
	}
}

// StartOfDay truncates t to local midnight. Uses time.Date so DST days keep
// their real length.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Days returns the start of every day in the window.
func (w Window) Days() []time.Time {
	var out []time.Time
	for d := w.From; d.Before(w.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Extend moves From back by days, keeping To.
func (w Window) Extend(days int) Window {
	w.From = w.From.AddDate(0, 0, -days)
	return w
}

// Label is the human readable span, e.g. "2024-07-01" or "2024-06-25 to 2024-07-01".
func (w Window) Label() string {
	first := w.From.Format("2006-01-02")
	last := w.To.AddDate(0, 0, -1).Format("2006-01-02")
	if first == last {
		return first
	}
	return first + " to " + last
}
