// Package sessions rebuilds visitor sessions from raw events.
package sessions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"intelreport/internal/events"
)

// DefaultInactivityGap splits sessions after 30 minutes of silence.
const DefaultInactivityGap = 30 * time.Minute

// Session is one reconstructed visit of a device.
type Session struct {
	Key      string            `json:"key"`
	DeviceID string            `json:"deviceId"`
	Ordinal  int               `json:"ordinal"`
	Events   []events.RawEvent `json:"-"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`

	PageCount   int    `json:"pageCount"`
	EntryPage   string `json:"entryPage,omitempty"`
	ExitPage    string `json:"exitPage,omitempty"`
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Country     string `json:"country,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
}

// Duration is the span between the first and last event.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Bounced reports a single-event session.
func (s Session) Bounced() bool {
	return len(s.Events) == 1
}

// Result carries the reconstructed sessions and run metadata.
type Result struct {
	Sessions   []Session
	Skipped    int
	Duplicates int
}

// Reconstruct groups events per device and splits each device's timeline
// whenever consecutive events are more than gap apart. Only DeviceID and the
// client timestamp are used for grouping. The output is ordered by Start,
// ties broken by Key, and depends on nothing but the input.
func Reconstruct(evs []events.RawEvent, gap time.Duration) Result {
	if gap <= 0 {
		gap = DefaultInactivityGap
	}

	var res Result
	evs = normalized(evs, &res)
	idx := make([]int, len(evs))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := &evs[idx[a]], &evs[idx[b]]
		if ea.DeviceID != eb.DeviceID {
			return ea.DeviceID < eb.DeviceID
		}
		if ea.TimestampMs != eb.TimestampMs {
			return ea.TimestampMs < eb.TimestampMs
		}
		return ea.ID < eb.ID
	})

	// Drop identical (id, timestamp) pairs; after sorting they are adjacent
	// within a device. Events without an id are never duplicates.
	kept := idx[:0]
	for _, i := range idx {
		if n := len(kept); n > 0 && evs[i].ID != "" {
			prev := &evs[kept[n-1]]
			if prev.DeviceID == evs[i].DeviceID && prev.ID == evs[i].ID && prev.TimestampMs == evs[i].TimestampMs {
				res.Duplicates++
				continue
			}
		}
		kept = append(kept, i)
	}

	gapMs := gap.Milliseconds()
	ordinal := 0
	start := 0
	for pos := 0; pos < len(kept); pos++ {
		cur := &evs[kept[pos]]
		last := pos == len(kept)-1
		boundary := last
		if !last {
			next := &evs[kept[pos+1]]
			if next.DeviceID != cur.DeviceID || next.TimestampMs-cur.TimestampMs > gapMs {
				boundary = true
			}
		}
		if !boundary {
			continue
		}

		res.Sessions = append(res.Sessions, build(evs, kept[start:pos+1], ordinal))
		ordinal++
		start = pos + 1
		if !last && evs[kept[pos+1]].DeviceID != cur.DeviceID {
			ordinal = 0
		}
	}

	sort.SliceStable(res.Sessions, func(a, b int) bool {
		sa, sb := res.Sessions[a], res.Sessions[b]
		if !sa.Start.Equal(sb.Start) {
			return sa.Start.Before(sb.Start)
		}
		return sa.Key < sb.Key
	})

	return res
}

// normalized copies the valid events with their device id trimmed, so
// "d1" and "d1 " group together. The input is left untouched.
func normalized(evs []events.RawEvent, res *Result) []events.RawEvent {
	out := make([]events.RawEvent, 0, len(evs))
	for _, e := range evs {
		if !e.Valid() {
			res.Skipped++
			continue
		}
		e.DeviceID = strings.TrimSpace(e.DeviceID)
		out = append(out, e)
	}
	return out
}

func build(evs []events.RawEvent, span []int, ordinal int) Session {
	own := make([]events.RawEvent, len(span))
	for i, j := range span {
		own[i] = evs[j]
	}
	first, last := own[0], own[len(own)-1]

	s := Session{
		Key:         Key(first.DeviceID, ordinal),
		DeviceID:    first.DeviceID,
		Ordinal:     ordinal,
		Events:      own,
		Start:       first.Time(),
		End:         last.Time(),
		UTMSource:   first.QueryValue("utm_source"),
		UTMMedium:   first.QueryValue("utm_medium"),
		UTMCampaign: first.QueryValue("utm_campaign"),
		Referrer:    first.ReferrerHost(),
		Country:     first.Country,
		DeviceType:  first.DeviceType,
	}

	for _, e := range own {
		if !e.IsPageView() {
			continue
		}
		s.PageCount++
		if s.EntryPage == "" {
			s.EntryPage = e.Path
		}
		s.ExitPage = e.Path
	}
	return s
}

// Key formats the stable session key for a device's n-th session.
func Key(deviceID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", deviceID, ordinal)
}
