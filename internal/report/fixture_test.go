package report_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"intelreport/internal/events"
	"intelreport/internal/metrics"
	"intelreport/internal/report"
	"intelreport/internal/testsupport"
	"intelreport/internal/timeframe"
)

// now is the wall clock used by every test; the daily window is 2024-07-07.
var now = time.Date(2024, 7, 8, 10, 0, 0, 0, time.UTC)

var reportDay = time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC)

func dailyWindow() timeframe.Window {
	return timeframe.Resolve(timeframe.PeriodDaily, now, time.UTC)
}

// storefront returns a week of quiet history followed by a busy report day:
// one buyer, one visitor who stopped at checkout, 28 bounces, plus one
// malformed and one duplicated event.
func storefront() []events.RawEvent {
	var evs []events.RawEvent

	historyCounts := []int{8, 9, 10, 8, 9, 10, 8}
	for d, n := range historyCounts {
		day := reportDay.AddDate(0, 0, -len(historyCounts)+d)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("h%d-%d", d, i)
			evs = append(evs, testsupport.Event(id, id, day.Add(time.Duration(9+i)*time.Hour)))
		}
	}

	buyer := reportDay.Add(10 * time.Hour)
	evs = append(evs,
		testsupport.Event("b0", "buyer", buyer),
		testsupport.Event("b1", "buyer", buyer.Add(time.Minute), testsupport.WithPath("/products/tea")),
		testsupport.Event("b2", "buyer", buyer.Add(2*time.Minute), testsupport.WithName("add_to_cart")),
		testsupport.Event("b3", "buyer", buyer.Add(3*time.Minute), testsupport.WithName("begin_checkout")),
		testsupport.Event("b4", "buyer", buyer.Add(4*time.Minute), testsupport.WithName("purchase")),
	)

	eager := reportDay.Add(11 * time.Hour)
	evs = append(evs, testsupport.Event("e0", "eager", eager))
	for i := 1; i <= 9; i++ {
		evs = append(evs, testsupport.Event(fmt.Sprintf("e%d", i), "eager", eager.Add(time.Duration(i)*time.Minute),
			testsupport.WithPath(fmt.Sprintf("/products/p%d", i))))
	}
	evs = append(evs,
		testsupport.Event("e10", "eager", eager.Add(10*time.Minute), testsupport.WithName("add_to_cart")),
		testsupport.Event("e11", "eager", eager.Add(11*time.Minute), testsupport.WithName("begin_checkout")),
	)

	bounce := reportDay.Add(12 * time.Hour)
	for i := 0; i < 28; i++ {
		id := fmt.Sprintf("v%02d", i)
		evs = append(evs, testsupport.Event(id, id, bounce.Add(time.Duration(i)*2*time.Minute)))
	}

	evs = append(evs, testsupport.Event("v00", "v00", bounce))
	evs = append(evs, testsupport.Event("bad", "", bounce))
	return evs
}

type fakeSource struct {
	evs        []events.RawEvent
	err        error
	block      bool
	start, end time.Time
}

func (s *fakeSource) Query(ctx context.Context, start, end time.Time) ([]events.RawEvent, error) {
	s.start, s.end = start, end
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	var out []events.RawEvent
	for _, e := range s.evs {
		if !e.ReceivedAt.Before(start) && e.ReceivedAt.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeSender struct {
	err        error
	sent       []report.Rendered
	recipients []string
}

func (s *fakeSender) Send(_ context.Context, r report.Rendered, recipients []string) error {
	s.sent = append(s.sent, r)
	s.recipients = recipients
	return s.err
}

type fakeNarrator struct {
	err error
}

func (n fakeNarrator) Narrate(_ context.Context, r *report.Report) (report.Narrative, error) {
	if n.err != nil {
		return report.Narrative{}, n.err
	}
	return report.Narrative{Summary: fmt.Sprintf("%d sessions", r.Totals.Sessions)}, nil
}

type fakeAds struct {
	err error
}

func (a fakeAds) Fetch(context.Context, timeframe.Window) (*report.AdsMetrics, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &report.AdsMetrics{Spend: 120, Clicks: 300, Impressions: 9000, ROAS: 2.5}, nil
}

type fakeArchiver struct {
	calls int
}

func (a *fakeArchiver) Archive(_ context.Context, r *report.Report, _ report.Narrative) (string, error) {
	a.calls++
	return "s3://reports/" + r.Meta.Label + ".json", nil
}

type memoryStore struct {
	mu    sync.Mutex
	saved []metrics.Metric
	rows  []metrics.Metric
}

func (s *memoryStore) Save(_ context.Context, ms []metrics.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, ms...)
	return nil
}

func (s *memoryStore) Load(_ context.Context, from, to time.Time) ([]metrics.Metric, error) {
	var out []metrics.Metric
	for _, m := range s.rows {
		if !m.Date.Before(from) && m.Date.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

func itoa(n int) string {
	return fmt.Sprint(n)
}
