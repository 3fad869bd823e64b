// Package intent scores how likely a session was to convert.
package intent

import (
	"math"
	"sort"
	"time"

	"intelreport/internal/sessions"
)

// Tier buckets a score.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// NoStage is the rank of a session that reached no funnel stage.
const NoStage = -1

// Weights of the individual signals. They need not sum to one; the score is
// normalised by their total.
type Weights struct {
	Depth     float64
	Duration  float64
	Stage     float64
	Returning float64
}

// Config controls the scorer.
type Config struct {
	Weights     Weights
	DepthCap    int
	DurationCap time.Duration
	MediumMin   float64
	HighMin     float64
}

// DefaultConfig is the storefront calibration.
func DefaultConfig() Config {
	return Config{
		Weights:     Weights{Depth: 0.25, Duration: 0.25, Stage: 0.35, Returning: 0.15},
		DepthCap:    10,
		DurationCap: 10 * time.Minute,
		MediumMin:   34,
		HighMin:     67,
	}
}

// Factors are the normalised signals in [0, 1].
type Factors struct {
	Depth     float64 `json:"depth"`
	Duration  float64 `json:"duration"`
	Stage     float64 `json:"stage"`
	Returning float64 `json:"returning"`
}

// Score is the outcome for one session.
type Score struct {
	Value   int     `json:"value"`
	Tier    Tier    `json:"tier"`
	Factors Factors `json:"factors"`
}

// Input describes one session to score. Rank is the reached funnel stage
// index (-1 when none) out of StageCount stages.
type Input struct {
	Session    sessions.Session
	Rank       int
	StageCount int
	Returning  bool
}

// Scorer computes intent scores.
type Scorer struct {
	cfg Config
}

// NewScorer fills zero-valued config fields with defaults. The tier
// thresholds are defaulted together.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.DepthCap <= 0 {
		cfg.DepthCap = def.DepthCap
	}
	if cfg.DurationCap <= 0 {
		cfg.DurationCap = def.DurationCap
	}
	// A zero medium threshold is a valid calibration; only an unset pair
	// falls back.
	if cfg.MediumMin == 0 && cfg.HighMin == 0 {
		cfg.MediumMin, cfg.HighMin = def.MediumMin, def.HighMin
	}
	return &Scorer{cfg: cfg}
}

// Score rates one session on a 0..100 scale.
func (s *Scorer) Score(in Input) Score {
	w := s.cfg.Weights
	f := Factors{
		Depth:    math.Min(float64(len(in.Session.Events)), float64(s.cfg.DepthCap)) / float64(s.cfg.DepthCap),
		Duration: math.Min(in.Session.Duration().Seconds(), s.cfg.DurationCap.Seconds()) / s.cfg.DurationCap.Seconds(),
	}
	if in.StageCount > 0 && in.Rank >= 0 {
		f.Stage = float64(in.Rank+1) / float64(in.StageCount)
	}
	if in.Returning {
		f.Returning = 1
	}

	total := w.Depth + w.Duration + w.Stage + w.Returning
	raw := 0.0
	if total > 0 {
		raw = (w.Depth*f.Depth + w.Duration*f.Duration + w.Stage*f.Stage + w.Returning*f.Returning) / total
	}
	value := int(math.Round(raw * 100))

	return Score{Value: value, Tier: s.Tier(value), Factors: f}
}

// Tier maps a score onto its bucket.
func (s *Scorer) Tier(value int) Tier {
	switch v := float64(value); {
	case v >= s.cfg.HighMin:
		return TierHigh
	case v >= s.cfg.MediumMin:
		return TierMedium
	default:
		return TierLow
	}
}

// Returning flags each session whose device had an earlier session ending
// within lookback before it started. list may span more than the report
// period so earlier visits are visible.
func Returning(list []sessions.Session, lookback time.Duration) []bool {
	out := make([]bool, len(list))

	byDevice := make(map[string][]int)
	for i, s := range list {
		byDevice[s.DeviceID] = append(byDevice[s.DeviceID], i)
	}
	for _, idx := range byDevice {
		sort.Slice(idx, func(a, b int) bool { return list[idx[a]].Start.Before(list[idx[b]].Start) })
		for k := 1; k < len(idx); k++ {
			prev, cur := list[idx[k-1]], list[idx[k]]
			out[idx[k]] = cur.Start.Sub(prev.End) <= lookback
		}
	}
	return out
}

// Distribution summarises scores by tier.
type Distribution struct {
	Low     int     `json:"low"`
	Medium  int     `json:"medium"`
	High    int     `json:"high"`
	Average float64 `json:"averageScore"`
}

// Distribute counts scores per tier and averages them.
func Distribute(scores []Score) Distribution {
	var d Distribution
	if len(scores) == 0 {
		return d
	}
	sum := 0
	for _, sc := range scores {
		sum += sc.Value
		switch sc.Tier {
		case TierHigh:
			d.High++
		case TierMedium:
			d.Medium++
		default:
			d.Low++
		}
	}
	d.Average = math.Round(float64(sum)/float64(len(scores))*10) / 10
	return d
}
