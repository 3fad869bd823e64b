// Package anomaly flags daily metrics that deviate from their baseline.
package anomaly

import (
	"math"
	"sort"
	"time"

	"intelreport/internal/metrics"
)

// Severity of a flagged deviation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	if s == SeverityCritical {
		return 0
	}
	return 1
}

// Direction of a deviation relative to the baseline mean.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Anomaly is a flagged metric.
type Anomaly struct {
	Metric   string    `json:"metric"`
	Date     time.Time `json:"date"`
	Observed float64   `json:"observed"`
	Expected float64   `json:"expected"`
	StdDev   float64   `json:"stdDev"`
	// ZScore is 0 when ZeroVariance is set; the deviation is infinite in
	// standard-deviation units and is reported through the flag instead.
	ZScore        float64   `json:"zScore"`
	ZeroVariance  bool      `json:"zeroVariance,omitempty"`
	PercentChange *float64  `json:"percentChange,omitempty"`
	Direction     Direction `json:"direction"`
	Severity      Severity  `json:"severity"`
}

// Skip records a metric that could not be evaluated.
type Skip struct {
	Metric       string    `json:"metric"`
	Date         time.Time `json:"date"`
	WindowDays   int       `json:"windowDays"`
	ObservedDays int       `json:"observedDays"`
}

// Detector holds the thresholds. Deviations strictly above WarningZ are
// warnings and strictly above CriticalZ are critical.
type Detector struct {
	WarningZ   float64
	CriticalZ  float64
	MinSamples int
}

// NewDetector returns a detector with the 2/3 sigma thresholds.
func NewDetector(minSamples int) Detector {
	return Detector{WarningZ: 2, CriticalZ: 3, MinSamples: minSamples}
}

// Usable reports whether the baseline has enough samples to be trusted.
func (d Detector) Usable(b metrics.Baseline) bool {
	return b.WindowDays > 0 && b.WindowDays >= d.MinSamples
}

// ZScore standardises observed against the baseline. ok is false when the
// baseline has no variance.
func ZScore(observed float64, b metrics.Baseline) (z float64, ok bool) {
	if b.StdDev == 0 {
		return 0, false
	}
	return (observed - b.Mean) / b.StdDev, true
}

// Detect returns the anomaly for m or nil when the value is within bounds or
// the baseline is not usable.
func (d Detector) Detect(m metrics.Metric, b metrics.Baseline) *Anomaly {
	if !d.Usable(b) {
		return nil
	}

	a := &Anomaly{
		Metric:   m.Name,
		Date:     m.Date,
		Observed: m.Value,
		Expected: b.Mean,
		StdDev:   b.StdDev,
	}

	z, ok := ZScore(m.Value, b)
	switch {
	case !ok && m.Value == b.Mean:
		return nil
	case !ok:
		a.ZeroVariance = true
		a.Severity = SeverityCritical
	default:
		abs := math.Abs(z)
		if abs <= d.WarningZ {
			return nil
		}
		a.ZScore = z
		a.Severity = SeverityWarning
		if abs > d.CriticalZ {
			a.Severity = SeverityCritical
		}
	}

	a.Direction = DirectionIncrease
	if m.Value < b.Mean {
		a.Direction = DirectionDecrease
	}
	if b.Mean != 0 {
		pc := (m.Value - b.Mean) / math.Abs(b.Mean) * 100
		a.PercentChange = &pc
	}
	return a
}

// Result is the outcome of evaluating a set of metrics.
type Result struct {
	Anomalies []Anomaly `json:"anomalies"`
	Skipped   []Skip    `json:"skipped,omitempty"`
	Evaluated int       `json:"evaluated"`
}

// Evaluate runs Detect for every metric against the history baseline for its
// date. Anomalies come back critical first, then by date and metric name.
func (d Detector) Evaluate(ms []metrics.Metric, history *metrics.History, windowDays int) Result {
	var res Result
	for _, m := range ms {
		b := history.Baseline(m.Name, m.Date, windowDays)
		if !d.Usable(b) {
			res.Skipped = append(res.Skipped, Skip{
				Metric:       m.Name,
				Date:         m.Date,
				WindowDays:   b.WindowDays,
				ObservedDays: b.ObservedDays,
			})
			continue
		}
		res.Evaluated++
		if a := d.Detect(m, b); a != nil {
			res.Anomalies = append(res.Anomalies, *a)
		}
	}

	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		ai, aj := res.Anomalies[i], res.Anomalies[j]
		if ai.Severity != aj.Severity {
			return ai.Severity.rank() < aj.Severity.rank()
		}
		if !ai.Date.Equal(aj.Date) {
			return ai.Date.Before(aj.Date)
		}
		return ai.Metric < aj.Metric
	})
	return res
}
