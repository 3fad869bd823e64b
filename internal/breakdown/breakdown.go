// Package breakdown slices sessions by page, traffic source, country and device.
package breakdown

import (
	"math"
	"sort"
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"intelreport/internal/pkg/referrers"
	"intelreport/internal/sessions"
)

// UnknownCountry labels sessions without a country code.
const UnknownCountry = "Unknown"

// PageStat describes one page across the period.
type PageStat struct {
	Path           string  `json:"path"`
	Views          int     `json:"views"`
	UniqueVisitors int     `json:"uniqueVisitors"`
	AvgTimeOnPage  float64 `json:"avgTimeOnPageSeconds"`
	EntrySessions  int     `json:"entrySessions"`
	BounceRate     float64 `json:"bounceRate"`
}

// SourceStat describes one traffic source/medium pair.
type SourceStat struct {
	Source         string  `json:"source"`
	Medium         string  `json:"medium"`
	Sessions       int     `json:"sessions"`
	Visitors       int     `json:"visitors"`
	BounceRate     float64 `json:"bounceRate"`
	ConversionRate float64 `json:"conversionRate"`
}

// SegmentStat is a session count for a named segment.
type SegmentStat struct {
	Code        string  `json:"code,omitempty"`
	Name        string  `json:"name"`
	Sessions    int     `json:"sessions"`
	Conversions int     `json:"conversions"`
	Share       float64 `json:"share"`
}

// EventStat counts one named custom event.
type EventStat struct {
	Name           string `json:"name"`
	Count          int    `json:"count"`
	UniqueVisitors int    `json:"uniqueVisitors"`
}

// Breakdowns groups every slice of the period.
type Breakdowns struct {
	TopPages  []PageStat    `json:"topPages"`
	Sources   []SourceStat  `json:"trafficSources"`
	Countries []SegmentStat `json:"countries"`
	Devices   []SegmentStat `json:"devices"`
	Events    []EventStat   `json:"events"`
}

// Compute builds every breakdown. converted is aligned with list; limit caps
// pages and countries.
func Compute(list []sessions.Session, converted []bool, limit int) Breakdowns {
	return Breakdowns{
		TopPages:  TopPages(list, limit),
		Sources:   TrafficSources(list, converted),
		Countries: Countries(list, converted, limit),
		Devices:   Devices(list, converted),
		Events:    CustomEvents(list, limit),
	}
}

// CustomEvents counts named non-pageview events, most frequent first.
func CustomEvents(list []sessions.Session, limit int) []EventStat {
	counts := make(map[string]int)
	visitors := make(map[string]map[string]struct{})
	for _, s := range list {
		for _, e := range s.Events {
			if e.IsPageView() || e.EventName == "" {
				continue
			}
			counts[e.EventName]++
			if visitors[e.EventName] == nil {
				visitors[e.EventName] = make(map[string]struct{})
			}
			visitors[e.EventName][s.DeviceID] = struct{}{}
		}
	}

	out := make([]EventStat, 0, len(counts))
	for name, n := range counts {
		out = append(out, EventStat{Name: name, Count: n, UniqueVisitors: len(visitors[name])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return capped(out, limit)
}

type pageAcc struct {
	views    int
	visitors map[string]struct{}
	dwell    float64
	timed    int
	entries  int
	bounces  int
}

// TopPages ranks page views by count, ties broken by path. Time on page is
// the gap to the next page view in the same session.
func TopPages(list []sessions.Session, limit int) []PageStat {
	acc := make(map[string]*pageAcc)
	get := func(path string) *pageAcc {
		a, ok := acc[path]
		if !ok {
			a = &pageAcc{visitors: make(map[string]struct{})}
			acc[path] = a
		}
		return a
	}

	for _, s := range list {
		if s.EntryPage != "" {
			a := get(s.EntryPage)
			a.entries++
			if s.Bounced() {
				a.bounces++
			}
		}

		prev := -1
		for i, e := range s.Events {
			if !e.IsPageView() || e.Path == "" {
				continue
			}
			a := get(e.Path)
			a.views++
			a.visitors[s.DeviceID] = struct{}{}
			if prev >= 0 {
				p := get(s.Events[prev].Path)
				p.dwell += float64(e.TimestampMs-s.Events[prev].TimestampMs) / 1000
				p.timed++
			}
			prev = i
		}
	}

	out := make([]PageStat, 0, len(acc))
	for path, a := range acc {
		if a.views == 0 {
			continue
		}
		st := PageStat{
			Path:           path,
			Views:          a.views,
			UniqueVisitors: len(a.visitors),
			EntrySessions:  a.entries,
			BounceRate:     rate(a.bounces, a.entries),
		}
		if a.timed > 0 {
			st.AvgTimeOnPage = math.Round(a.dwell / float64(a.timed))
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].Path < out[j].Path
	})
	return capped(out, limit)
}

// SourceOf attributes a session to a source and medium: UTM tags win, then
// the classified referrer, else direct.
func SourceOf(s sessions.Session) (source, medium string) {
	if s.UTMSource != "" {
		medium = s.UTMMedium
		if medium == "" {
			medium = string(referrers.MediumNone)
		}
		return strings.ToLower(s.UTMSource), strings.ToLower(medium)
	}
	src := referrers.Classify(s.Referrer)
	return src.Name, string(src.Medium)
}

type sourceAcc struct {
	source, medium string
	sessions       int
	visitors       map[string]struct{}
	bounces        int
	conversions    int
}

// TrafficSources aggregates sessions by source and medium, most sessions
// first.
func TrafficSources(list []sessions.Session, converted []bool) []SourceStat {
	acc := make(map[string]*sourceAcc)
	for i, s := range list {
		source, medium := SourceOf(s)
		key := source + "|" + medium
		a, ok := acc[key]
		if !ok {
			a = &sourceAcc{source: source, medium: medium, visitors: make(map[string]struct{})}
			acc[key] = a
		}
		a.sessions++
		a.visitors[s.DeviceID] = struct{}{}
		if s.Bounced() {
			a.bounces++
		}
		if i < len(converted) && converted[i] {
			a.conversions++
		}
	}

	out := make([]SourceStat, 0, len(acc))
	for _, a := range acc {
		out = append(out, SourceStat{
			Source:         a.source,
			Medium:         a.medium,
			Sessions:       a.sessions,
			Visitors:       len(a.visitors),
			BounceRate:     rate(a.bounces, a.sessions),
			ConversionRate: rate(a.conversions, a.sessions),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Medium < out[j].Medium
	})
	return out
}

// Countries counts sessions per country with the common country name.
func Countries(list []sessions.Session, converted []bool, limit int) []SegmentStat {
	query := gountries.New()
	caser := cases.Upper(language.AmericanEnglish)

	stats := segment(list, converted, func(s sessions.Session) (string, string) {
		code := strings.TrimSpace(s.Country)
		if code == "" {
			return "", UnknownCountry
		}
		country, err := query.FindCountryByAlpha(code)
		if err != nil {
			return caser.String(code), caser.String(code)
		}
		return caser.String(code), country.Name.Common
	})
	return capped(stats, limit)
}

// Devices counts sessions per device type.
func Devices(list []sessions.Session, converted []bool) []SegmentStat {
	caser := cases.Title(language.AmericanEnglish)
	return segment(list, converted, func(s sessions.Session) (string, string) {
		device := strings.TrimSpace(s.DeviceType)
		if device == "" {
			return "", "Unknown"
		}
		return strings.ToLower(device), caser.String(device)
	})
}

func segment(list []sessions.Session, converted []bool, key func(sessions.Session) (code, name string)) []SegmentStat {
	byName := make(map[string]*SegmentStat)
	for i, s := range list {
		code, name := key(s)
		st, ok := byName[name]
		if !ok {
			st = &SegmentStat{Code: code, Name: name}
			byName[name] = st
		}
		st.Sessions++
		if i < len(converted) && converted[i] {
			st.Conversions++
		}
	}

	out := make([]SegmentStat, 0, len(byName))
	for _, st := range byName {
		st.Share = rate(st.Sessions, len(list))
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func capped[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		return xs[:limit]
	}
	return xs
}
