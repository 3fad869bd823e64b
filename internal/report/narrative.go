package report

import (
	"fmt"
	"math"
	"strings"

	"intelreport/internal/anomaly"
	"intelreport/internal/metrics"
)

var metricLabels = map[string]string{
	metrics.Sessions:           "sessions",
	metrics.ConvertedSessions:  "converted sessions",
	metrics.Pageviews:          "pageviews",
	metrics.BounceSessions:     "bounced sessions",
	metrics.UniqueVisitors:     "unique visitors",
	metrics.AvgSessionDuration: "average session duration",
}

// MetricLabel is the display name of a metric.
func MetricLabel(name string) string {
	if l, ok := metricLabels[name]; ok {
		return l
	}
	return strings.ReplaceAll(name, "_", " ")
}

// Describe renders an anomaly as one sentence.
func Describe(a anomaly.Anomaly) string {
	day := a.Date.Format("2006-01-02")
	label := MetricLabel(a.Metric)
	if a.ZeroVariance {
		return fmt.Sprintf("%s on %s was %s against a flat baseline of %s",
			label, day, number(a.Observed), number(a.Expected))
	}
	verb := "up"
	if a.Direction == anomaly.DirectionDecrease {
		verb = "down"
	}
	if a.PercentChange != nil {
		return fmt.Sprintf("%s on %s %s %.0f%% vs baseline (%s vs %s, z=%.1f)",
			label, day, verb, math.Abs(*a.PercentChange), number(a.Observed), number(a.Expected), a.ZScore)
	}
	return fmt.Sprintf("%s on %s %s to %s from a zero baseline (z=%.1f)", label, day, verb, number(a.Observed), a.ZScore)
}

func number(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// FallbackNarrative builds commentary from the numbers alone. It is used
// when no narrator is configured or the narrator fails.
func FallbackNarrative(r *Report) Narrative {
	n := Narrative{}
	t := r.Totals

	days := max(len(r.Daily)/len(metrics.Names), 1)
	if b, ok := baseline(r, metrics.Pageviews); ok && b.Mean > 0 {
		perDay := float64(t.Pageviews) / float64(days)
		change := (perDay - b.Mean) / b.Mean * 100
		switch {
		case change > 20:
			n.Insights = append(n.Insights, fmt.Sprintf("Traffic increased %.0f%% compared to the %d-day average", change, b.WindowDays))
			n.Opportunities = append(n.Opportunities, "Capitalize on increased traffic with targeted promotions")
		case change < -20:
			n.Insights = append(n.Insights, fmt.Sprintf("Traffic decreased %.0f%% compared to the %d-day average", -change, b.WindowDays))
			n.Risks = append(n.Risks, "Traffic decline may require attention")
		}
	}

	if d := r.Funnel.BiggestDropOff; d != nil {
		n.Insights = append(n.Insights, fmt.Sprintf("Biggest funnel drop-off at %s → %s (%s lost)", d.From, d.To, percent(d.Rate)))
		n.Recommendations = append(n.Recommendations, fmt.Sprintf("Optimize the %s to %s transition", d.From, d.To))
	}

	if t.Sessions > 0 && t.BounceRate > 0.7 {
		n.Insights = append(n.Insights, fmt.Sprintf("High bounce rate of %s needs attention", percent(t.BounceRate)))
		n.Recommendations = append(n.Recommendations, "Review landing pages for relevance and load speed")
	}

	if len(r.HighIntent) > 0 {
		n.Opportunities = append(n.Opportunities,
			fmt.Sprintf("%d high-intent sessions left before converting; consider retargeting them", len(r.HighIntent)))
	}

	for i, a := range r.Anomalies.Anomalies {
		if i == 2 {
			break
		}
		if a.Severity == anomaly.SeverityCritical {
			n.Risks = append(n.Risks, Describe(a))
		}
	}

	if len(n.Insights) == 0 {
		n.Insights = append(n.Insights, "Site metrics are within normal ranges")
	}
	if len(n.Recommendations) == 0 {
		n.Recommendations = append(n.Recommendations, "Continue monitoring key metrics")
	}

	conversion := "Focus on improving the conversion funnel."
	if r.Funnel.OverallConversion > 0 {
		conversion = fmt.Sprintf("Funnel conversion was %s.", percent(r.Funnel.OverallConversion))
	}
	n.Summary = fmt.Sprintf("%s saw %d pageviews and %d unique visitors across %d sessions with a %s bounce rate. %s",
		r.Meta.Label, t.Pageviews, t.UniqueVisitors, t.Sessions, percent(t.BounceRate), conversion)
	return n
}

func baseline(r *Report, name string) (metrics.Baseline, bool) {
	for _, b := range r.Baselines {
		if b.Metric == name {
			return b, true
		}
	}
	return metrics.Baseline{}, false
}
