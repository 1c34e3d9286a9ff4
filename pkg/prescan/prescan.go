// Package prescan is the fast static tier of the analysis pipeline. It
// never executes the payload: it scores suspicious strings and the byte
// entropy of the content, cheap enough to run on every file before the
// sandbox is considered.
package prescan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// suspiciousPatterns are matched against a lowercase letters-only fold
// of the payload. Each distinct pattern found counts once.
var suspiciousPatterns = []string{
	"eval", "exec", "shell", "cmd",
	"createprocess", "virtualalloc", "writeprocessmemory",
	"createremotethread", "loadlibrary", "getprocaddress",
	"http", "https", "ftp",
	"powershell", "cmdexe", "bash",
	"ransomware", "cryptolocker", "wannacry",
}

// patternSaturation is the distinct-pattern count at which the pattern
// score reaches 1.0.
const patternSaturation = 10

// Report is the full static inspection outcome. Execute condenses it to
// a single score and confidence for the orchestrator.
type Report struct {
	PatternScore float64
	EntropyScore float64
	Entropy      float64
	Behaviors    []string
}

type Stats struct {
	Executions  uint64        `json:"executions"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Analyzer is a stateless static scanner; the zero value is ready to
// use. Statistics make it unsafe for concurrent Execute calls.
type Analyzer struct {
	stats Stats
}

func New() *Analyzer {
	return &Analyzer{}
}

func (a *Analyzer) Stats() Stats { return a.stats }

var now = time.Now

// Execute scores the payload without running it. The score weighs
// string evidence heavier than entropy shape; confidence drops with the
// disagreement between the two signals. The timeout is nominal, a
// static pass over in-memory data does not block.
func (a *Analyzer) Execute(ctx context.Context, data []byte, filename string, timeout time.Duration) (score float64, confidence float64, err error) {
	if err = ctx.Err(); err != nil {
		return 0, 0, err
	}
	start := now()
	a.stats.Executions++

	report := Inspect(data)
	score = 0.6*report.PatternScore + 0.4*report.EntropyScore
	confidence = 1 - math.Abs(report.PatternScore-report.EntropyScore)

	a.stats.AvgDuration += (now().Sub(start) - a.stats.AvgDuration) / time.Duration(a.stats.Executions)
	logger.Debug("static pass complete",
		slog.String("filename", filename),
		slog.Float64("pattern_score", report.PatternScore),
		slog.Float64("entropy", report.Entropy),
		slog.Float64("score", score),
		slog.Float64("confidence", confidence))
	return score, confidence, nil
}

// Inspect runs every static check and returns the raw signals.
func Inspect(data []byte) (r Report) {
	r.PatternScore = patternScore(data)
	r.Entropy = shannonEntropy(data)
	r.EntropyScore = entropyScore(data, r.Entropy)
	r.Behaviors = detectBehaviors(data, r.Entropy)
	return r
}

// patternScore counts distinct suspicious strings in a lowercase
// letters-only fold of the payload, saturating at patternSaturation.
func patternScore(data []byte) float64 {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		c := b
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c >= 'a' && c <= 'z' {
			sb.WriteByte(c)
		}
	}
	folded := sb.String()

	found := 0
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(folded, pattern) {
			found++
		}
	}
	return math.Min(1, float64(found)/patternSaturation)
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(len(data))
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// entropyScore grades the payload shape. Entropy above 7 bits per byte
// suggests packing or encryption; small high-entropy files are graded
// harder because droppers tend to be compact.
func entropyScore(data []byte, entropy float64) float64 {
	shape := 0.2
	switch {
	case entropy > 7:
		shape = 0.8
	case entropy > 6:
		shape = 0.5
	}
	size := 0.3
	if len(data) < 10000 && entropy > 6.5 {
		size = 0.7
	}
	return (shape + size) / 2
}

func detectBehaviors(data []byte, entropy float64) (behaviors []string) {
	if len(data) > 2 && data[0] == 'M' && data[1] == 'Z' {
		behaviors = append(behaviors, "Windows PE executable")
	}
	if len(data) > 4 && data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		behaviors = append(behaviors, "Linux ELF executable")
	}
	if len(data) > 2 && data[0] == '#' && data[1] == '!' {
		behaviors = append(behaviors, "script with shebang")
	}
	if entropy > 7 {
		behaviors = append(behaviors, fmt.Sprintf("high entropy (%.2f) suggests packing or encryption", entropy))
	}
	content := string(data)
	if strings.Contains(content, "http://") || strings.Contains(content, "https://") {
		behaviors = append(behaviors, "embedded URLs")
	}
	return behaviors
}
