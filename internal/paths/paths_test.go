package paths_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelreport/internal/events"
	"intelreport/internal/funnel"
	"intelreport/internal/paths"
	"intelreport/internal/sessions"
	"intelreport/internal/testsupport"
)

var start = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

var shopStages = []funnel.Stage{
	{Name: "landing", Label: "Landing", Order: 1, Match: funnel.Match{PathPrefixes: []string{"/"}}},
	{Name: "product", Label: "Product", Order: 2, Match: funnel.Match{PathPrefixes: []string{"/products/"}}},
	{Name: "cart", Label: "Cart", Order: 3, Match: funnel.Match{EventNames: []string{"add_to_cart"}}},
	{Name: "purchase", Label: "Purchase", Order: 4, Match: funnel.Match{EventNames: []string{"purchase"}}},
}

// build returns one session per entry; steps starting with "/" are page views.
func build(t *testing.T, flows [][]string) []sessions.Session {
	t.Helper()
	var evs []events.RawEvent
	for i, flow := range flows {
		device := fmt.Sprintf("d%03d", i)
		for j, step := range flow {
			ts := start.Add(time.Duration(j) * time.Minute)
			id := fmt.Sprintf("%s-%d", device, j)
			if step[0] == '/' {
				evs = append(evs, testsupport.Event(id, device, ts, testsupport.WithPath(step)))
			} else {
				evs = append(evs, testsupport.Event(id, device, ts, testsupport.WithName(step)))
			}
		}
	}
	res := sessions.Reconstruct(evs, 30*time.Minute)
	require.Len(t, res.Sessions, len(flows))
	return res.Sessions
}

func convertedFlags(list []sessions.Session) []bool {
	f := funnel.Analyze(list, shopStages)
	out := make([]bool, len(list))
	for i := range list {
		out[i] = f.Converted(i)
	}
	return out
}

func repeat(n int, flow ...string) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = flow
	}
	return out
}

func concat(groups ...[][]string) [][]string {
	var out [][]string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func TestTopPathsRanksByConvertedFrequency(t *testing.T) {
	list := build(t, concat(
		repeat(4, "/", "add_to_cart", "purchase"),
		repeat(6, "/", "/products/tea", "add_to_cart", "purchase"),
		repeat(5, "/", "/products/tea"),
	))
	converted := convertedFlags(list)

	top := paths.TopPaths(list, converted, 5, paths.Options{Granularity: paths.ByStage, Stages: shopStages})
	require.Len(t, top, 2)

	assert.Equal(t, []string{"landing", "product", "cart", "purchase"}, top[0].Steps)
	assert.Equal(t, "landing → product → cart → purchase", top[0].Key())
	assert.Equal(t, 6, top[0].Frequency)
	assert.Equal(t, 6, top[0].Sessions)
	assert.InDelta(t, 1.0, top[0].ConversionRate, 1e-9)
	assert.InDelta(t, 180.0, top[0].AvgTimeToConvert, 1e-9)

	assert.Equal(t, []string{"landing", "cart", "purchase"}, top[1].Steps)
	assert.Equal(t, 4, top[1].Frequency)
	assert.InDelta(t, 120.0, top[1].AvgTimeToConvert, 1e-9)
}

func TestTopPathsConversionRateAmongAllSessions(t *testing.T) {
	list := build(t, concat(
		repeat(6, "/", "/products/tea", "/cart", "purchase"),
		repeat(4, "/", "/products/tea", "/cart"),
		repeat(4, "/", "/cart", "purchase"),
		repeat(12, "/", "/cart"),
	))
	converted := convertedFlags(list)

	top := paths.TopPaths(list, converted, 0, paths.Options{Granularity: paths.ByPage})
	require.Len(t, top, 2)

	assert.Equal(t, []string{"/", "/products/tea", "/cart"}, top[0].Steps)
	assert.Equal(t, 6, top[0].Frequency)
	assert.Equal(t, 10, top[0].Sessions)
	assert.InDelta(t, 0.6, top[0].ConversionRate, 1e-9)

	assert.Equal(t, []string{"/", "/cart"}, top[1].Steps)
	assert.Equal(t, 4, top[1].Frequency)
	assert.Equal(t, 16, top[1].Sessions)
	assert.InDelta(t, 0.25, top[1].ConversionRate, 1e-9)
}

func TestTopPathsTieBreaks(t *testing.T) {
	list := build(t, concat(
		repeat(2, "/b", "purchase"),
		repeat(2, "/a", "purchase"),
		repeat(2, "/c", "purchase"),
		repeat(3, "/c"),
	))
	converted := convertedFlags(list)

	top := paths.TopPaths(list, converted, 2, paths.Options{Granularity: paths.ByPage})
	require.Len(t, top, 2)
	assert.Equal(t, []string{"/c"}, top[0].Steps, "more sessions wins a frequency tie")
	assert.Equal(t, []string{"/a"}, top[1].Steps, "then path text")
}

func TestStepsCollapsesAndCaps(t *testing.T) {
	list := build(t, [][]string{
		{"/", "/", "/products/a", "/products/b", "add_to_cart", "add_to_cart", "/", "purchase"},
	})
	s := list[0]

	assert.Equal(t,
		[]string{"landing", "product", "cart", "landing", "purchase"},
		paths.Steps(s, paths.Options{Stages: shopStages}))
	assert.Equal(t,
		[]string{"/", "/products/a", "/products/b", "/"},
		paths.Steps(s, paths.Options{Granularity: paths.ByPage}))
	assert.Equal(t,
		[]string{"landing", "product"},
		paths.Steps(s, paths.Options{Stages: shopStages, MaxLength: 2}))
}

func TestTopPathsWithoutConversions(t *testing.T) {
	list := build(t, repeat(3, "/", "/products/tea"))
	assert.Empty(t, paths.TopPaths(list, convertedFlags(list), 5, paths.Options{Stages: shopStages}))
}
