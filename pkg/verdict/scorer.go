package verdict

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/threatvet/threatvet/pkg/datamodel"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))

// TierScores carries the per-tier scores fed into the final verdict. Each
// tier is optional: the Has* flag marks whether that tier actually ran.
// All scores are expected in [0,1]; Calculate clamps out-of-range values.
type TierScores struct {
	Static        float64
	HasStatic     bool
	ML            float64
	HasML         bool
	Behavioral    float64
	HasBehavioral bool
	Reputation    float64
	HasReputation bool
}

// Weights holds the relative weight of each detection tier. They do not
// need to sum to one: Calculate renormalizes over the tiers present in
// the input, so a missing tier redistributes its weight to the others.
type Weights struct {
	Static     float64 `json:"static" yaml:"static"`
	ML         float64 `json:"ml" yaml:"ml"`
	Behavioral float64 `json:"behavioral" yaml:"behavioral"`
	Reputation float64 `json:"reputation" yaml:"reputation"`
}

// Thresholds are the three ascending cut points of the threat level step
// function: composite < Suspicious is clean, < Malicious is suspicious,
// < Critical is malicious, anything above is critical.
type Thresholds struct {
	Suspicious float64 `json:"suspicious" yaml:"suspicious"`
	Malicious  float64 `json:"malicious" yaml:"malicious"`
	Critical   float64 `json:"critical" yaml:"critical"`
}

func DefaultWeights() Weights {
	return Weights{Static: 0.30, ML: 0.25, Behavioral: 0.20, Reputation: 0.25}
}

func DefaultThresholds() Thresholds {
	return Thresholds{Suspicious: 0.3, Malicious: 0.6, Critical: 0.8}
}

// Verdict is the final outcome for one sample.
type Verdict struct {
	Level       datamodel.ThreatLevel `json:"level"`
	Composite   float64               `json:"composite"`
	Confidence  float64               `json:"confidence"`
	Explanation string                `json:"explanation"`
}

// Stats accumulates scorer activity for the stats command.
type Stats struct {
	Calculated     uint64  `json:"calculated"`
	Clean          uint64  `json:"clean"`
	Suspicious     uint64  `json:"suspicious"`
	Malicious      uint64  `json:"malicious"`
	Critical       uint64  `json:"critical"`
	MeanComposite  float64 `json:"mean_composite"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Scorer folds per-tier scores into a verdict. Weights and thresholds are
// mutable at runtime through SetWeights and SetThresholds. Scorer is not
// safe for concurrent use.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
	stats      Stats
}

func NewScorer() *Scorer {
	return &Scorer{
		weights:    DefaultWeights(),
		thresholds: DefaultThresholds(),
	}
}

// SetWeights replaces the tier weights. Non-positive total keeps the
// previous weights.
func (s *Scorer) SetWeights(w Weights) {
	if w.Static+w.ML+w.Behavioral+w.Reputation <= 0 {
		logger.Warn("ignoring non-positive weights", "weights", w)
		return
	}
	s.weights = w
}

// SetThresholds replaces the level cut points. Thresholds must be
// ascending and inside (0,1]; anything else keeps the previous values.
func (s *Scorer) SetThresholds(t Thresholds) {
	if t.Suspicious <= 0 || t.Suspicious >= t.Malicious || t.Malicious >= t.Critical || t.Critical > 1 {
		logger.Warn("ignoring non-ascending thresholds", "thresholds", t)
		return
	}
	s.thresholds = t
}

func (s *Scorer) Weights() Weights       { return s.weights }
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }
func (s *Scorer) Stats() Stats           { return s.stats }

type tier struct {
	name   string
	score  float64
	weight float64
}

// Calculate folds the present tier scores into a composite, derives the
// confidence from how much the tiers agree, and maps the composite onto a
// threat level.
func (s *Scorer) Calculate(scores TierScores) (v Verdict) {
	tiers := presentTiers(scores, s.weights)
	if len(tiers) == 0 {
		v = Verdict{
			Level:       datamodel.LevelClean,
			Explanation: "no detection tier produced a score",
		}
		s.record(v)
		return
	}

	totalWeight := 0.0
	for _, t := range tiers {
		totalWeight += t.weight
	}
	composite := 0.0
	for _, t := range tiers {
		composite += t.score * t.weight / totalWeight
	}
	composite = clamp01(composite)

	v = Verdict{
		Level:      s.level(composite),
		Composite:  composite,
		Confidence: confidence(tiers),
	}
	v.Explanation = explain(v, tiers)
	s.record(v)
	return
}

func presentTiers(scores TierScores, w Weights) (tiers []tier) {
	if scores.HasStatic {
		tiers = append(tiers, tier{"static analysis", clamp01(scores.Static), w.Static})
	}
	if scores.HasML {
		tiers = append(tiers, tier{"ml classification", clamp01(scores.ML), w.ML})
	}
	if scores.HasBehavioral {
		tiers = append(tiers, tier{"behavioral analysis", clamp01(scores.Behavioral), w.Behavioral})
	}
	if scores.HasReputation {
		tiers = append(tiers, tier{"reputation", clamp01(scores.Reputation), w.Reputation})
	}
	return tiers
}

func (s *Scorer) level(composite float64) datamodel.ThreatLevel {
	switch {
	case composite >= s.thresholds.Critical:
		return datamodel.LevelCritical
	case composite >= s.thresholds.Malicious:
		return datamodel.LevelMalicious
	case composite >= s.thresholds.Suspicious:
		return datamodel.LevelSuspicious
	default:
		return datamodel.LevelClean
	}
}

// confidence is high when the tiers agree. It starts from the spread of
// the present scores (1 - 2*stddev) and gets boosted to at least 0.9 when
// every tier is firmly on the same side.
func confidence(tiers []tier) float64 {
	mean := 0.0
	for _, t := range tiers {
		mean += t.score
	}
	mean /= float64(len(tiers))

	variance := 0.0
	for _, t := range tiers {
		d := t.score - mean
		variance += d * d
	}
	variance /= float64(len(tiers))

	c := clamp01(1 - 2*math.Sqrt(variance))

	allHigh, allLow := true, true
	for _, t := range tiers {
		if t.score <= 0.8 {
			allHigh = false
		}
		if t.score >= 0.2 {
			allLow = false
		}
	}
	if (allHigh || allLow) && c < 0.9 {
		c = 0.9
	}
	return c
}

func explain(v Verdict, tiers []tier) string {
	phrase := map[datamodel.ThreatLevel]string{
		datamodel.LevelClean:      "no significant threat indicators",
		datamodel.LevelSuspicious: "some suspicious indicators, manual review advised",
		datamodel.LevelMalicious:  "malicious behavior detected",
		datamodel.LevelCritical:   "critical threat, immediate action required",
	}[v.Level]

	out := fmt.Sprintf("%s (score %.0f%%, confidence %.0f%%)", phrase, v.Composite*100, v.Confidence*100)

	top := tier{}
	agreeing := 0
	for _, t := range tiers {
		if t.score > 0.5 {
			agreeing++
			if t.score > top.score {
				top = t
			}
		}
	}
	if top.name != "" {
		out += fmt.Sprintf("; strongest signal from %s (%.0f%%)", top.name, top.score*100)
	}
	if agreeing >= 2 {
		out += "; multiple detection methods agree"
	}
	return out
}

func (s *Scorer) record(v Verdict) {
	s.stats.Calculated++
	switch v.Level {
	case datamodel.LevelCritical:
		s.stats.Critical++
	case datamodel.LevelMalicious:
		s.stats.Malicious++
	case datamodel.LevelSuspicious:
		s.stats.Suspicious++
	default:
		s.stats.Clean++
	}
	n := float64(s.stats.Calculated)
	s.stats.MeanComposite += (v.Composite - s.stats.MeanComposite) / n
	s.stats.MeanConfidence += (v.Confidence - s.stats.MeanConfidence) / n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
