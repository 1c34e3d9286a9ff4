package datamodel

import (
	"fmt"
	"time"

	"github.com/threatvet/threatvet/pkg/telemetry"
)

// ThreatLevel is the final classification of an analyzed file.
type ThreatLevel int

const (
	LevelClean ThreatLevel = iota
	LevelSuspicious
	LevelMalicious
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelClean:
		return "clean"
	case LevelSuspicious:
		return "suspicious"
	case LevelMalicious:
		return "malicious"
	case LevelCritical:
		return "critical"
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

func (l ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *ThreatLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "clean":
		*l = LevelClean
	case "suspicious":
		*l = LevelSuspicious
	case "malicious":
		*l = LevelMalicious
	case "critical":
		*l = LevelCritical
	default:
		return fmt.Errorf("unknown threat level %q", text)
	}
	return nil
}

// TierScores records which detection tiers ran and what they reported.
// A nil pointer means the tier did not run.
type TierScores struct {
	Static     *float64 `json:"static,omitempty"`
	ML         *float64 `json:"ml,omitempty"`
	Behavioral *float64 `json:"behavioral,omitempty"`
	Reputation *float64 `json:"reputation,omitempty"`
}

// SandboxResult is the complete outcome of analyzing one file.
type SandboxResult struct {
	Filename    string                       `json:"filename"`
	SHA256      string                       `json:"sha256"`
	Level       ThreatLevel                  `json:"level"`
	Composite   float64                      `json:"composite"`
	Confidence  float64                      `json:"confidence"`
	Explanation string                       `json:"explanation,omitempty"`
	Tiers       TierScores                   `json:"tiers"`
	Metrics     *telemetry.BehavioralMetrics `json:"metrics,omitempty"`
	Findings    []telemetry.Finding          `json:"findings,omitempty"`
	FileSize    int64                        `json:"size,omitempty"`
	Duration    time.Duration                `json:"duration,omitempty"`
	TimedOut    bool                         `json:"timed-out,omitempty"`
	Cached      bool                         `json:"cached,omitempty"`
	AnalyzedAt  time.Time                    `json:"analyzed-at,omitzero"`
	Quarantined bool                         `json:"quarantined,omitempty"`
	Error       error                        `json:"-"`
}

// Malicious reports whether the result warrants mitigation.
func (r *SandboxResult) Malicious() bool {
	return r.Level >= LevelMalicious
}
