// Package funnel maps sessions onto an ordered conversion funnel.
package funnel

import (
	"intelreport/internal/events"
	"intelreport/internal/sessions"
)

// NotReached is the rank of a session that matched no stage.
const NotReached = -1

// StageResult is the cumulative outcome of one stage.
type StageResult struct {
	Name                   string  `json:"name"`
	Label                  string  `json:"label"`
	Count                  int     `json:"count"`
	ConversionFromPrevious float64 `json:"conversionFromPrevious"`
	ConversionFromTop      float64 `json:"conversionFromTop"`
	DropOff                float64 `json:"dropOff"`
}

// DropOff is the stage transition losing the largest share of sessions.
type DropOff struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Rate float64 `json:"rate"`
	Lost int     `json:"lost"`
}

// Result is the funnel for one run.
type Result struct {
	Stages            []StageResult `json:"stages"`
	Total             int           `json:"totalSessions"`
	OverallConversion float64       `json:"overallConversion"`
	BiggestDropOff    *DropOff      `json:"biggestDropOff,omitempty"`
	OrderViolations   int           `json:"orderViolations"`

	// Ranks holds the reached stage index per input session, aligned with
	// the sessions slice passed to Analyze.
	Ranks []int `json:"-"`
	// Violations lists the keys of sessions whose events reached stages out
	// of chronological order.
	Violations []string `json:"-"`
}

// Converted reports whether the session at position i reached the final stage.
func (r Result) Converted(i int) bool {
	return len(r.Stages) > 0 && r.Ranks[i] == len(r.Stages)-1
}

// EventRank returns the index of the highest stage the event matches, or
// NotReached.
func EventRank(stages []Stage, e events.RawEvent) int {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Matches(e) {
			return i
		}
	}
	return NotReached
}

// Rank computes the reached stage for one session: the highest stage any of
// its events matches. outOfOrder is set when some stage was first touched
// after a later stage had already been touched, e.g. a purchase tracked
// before the cart.
func Rank(s sessions.Session, stages []Stage) (rank int, outOfOrder bool) {
	rank = NotReached
	firstSeen := make([]int, len(stages))
	for i := range firstSeen {
		firstSeen[i] = -1
	}
	for pos, e := range s.Events {
		for i := range stages {
			if firstSeen[i] < 0 && stages[i].Matches(e) {
				firstSeen[i] = pos
				if i > rank {
					rank = i
				}
			}
		}
	}

	latest := -1
	for i := range stages {
		if firstSeen[i] < 0 {
			continue
		}
		if firstSeen[i] < latest {
			outOfOrder = true
			break
		}
		latest = firstSeen[i]
	}
	return rank, outOfOrder
}

// Analyze computes cumulative stage counts. A session reaching stage k is
// counted for every stage up to k, so counts never increase with order.
// Stages must be normalized.
func Analyze(list []sessions.Session, stages []Stage) Result {
	res := Result{
		Stages: make([]StageResult, len(stages)),
		Total:  len(list),
		Ranks:  make([]int, len(list)),
	}

	reached := make([]int, len(stages)+1)
	for i, s := range list {
		rank, outOfOrder := Rank(s, stages)
		res.Ranks[i] = rank
		if outOfOrder {
			res.OrderViolations++
			res.Violations = append(res.Violations, s.Key)
		}
		if rank >= 0 {
			reached[rank]++
		}
	}

	// count[i] = sessions with rank >= i
	running := 0
	for i := len(stages) - 1; i >= 0; i-- {
		running += reached[i]
		res.Stages[i] = StageResult{
			Name:  stages[i].Name,
			Label: stages[i].Label,
			Count: running,
		}
	}

	if len(stages) == 0 {
		return res
	}

	top := res.Stages[0].Count
	for i := range res.Stages {
		st := &res.Stages[i]
		st.ConversionFromTop = ratio(st.Count, top)
		if i == 0 {
			st.ConversionFromPrevious = ratio(st.Count, res.Total)
			continue
		}
		prev := res.Stages[i-1].Count
		st.ConversionFromPrevious = ratio(st.Count, prev)
		if prev > 0 {
			st.DropOff = 1 - st.ConversionFromPrevious
		}

		if prev > 0 && (res.BiggestDropOff == nil || st.DropOff > res.BiggestDropOff.Rate) {
			res.BiggestDropOff = &DropOff{
				From: res.Stages[i-1].Name,
				To:   st.Name,
				Rate: st.DropOff,
				Lost: prev - st.Count,
			}
		}
	}
	res.OverallConversion = ratio(res.Stages[len(res.Stages)-1].Count, res.Total)

	return res
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
