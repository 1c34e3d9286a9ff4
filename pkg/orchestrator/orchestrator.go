package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/threatvet/threatvet/pkg/cache"
	"github.com/threatvet/threatvet/pkg/datamodel"
	"github.com/threatvet/threatvet/pkg/telemetry"
	"github.com/threatvet/threatvet/pkg/verdict"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))

// ErrAllTiersFailed is returned when no detection tier produced a score.
// Single-tier failures are tolerated as long as another tier delivered.
var ErrAllTiersFailed = errors.New("all analysis tiers failed")

// FastTier is the quick static pass run before any sandbox execution.
type FastTier interface {
	Execute(ctx context.Context, data []byte, filename string, timeout time.Duration) (score float64, confidence float64, err error)
}

// DeepTier runs the payload and reports observed behavior. Satisfied by
// sandbox.Sandbox.
type DeepTier interface {
	Analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) (*telemetry.BehavioralMetrics, error)
}

// Config tunes the pipeline. Zero values get defaults from New.
type Config struct {
	// FastTimeout bounds the static pass.
	FastTimeout time.Duration
	// DeepTimeout bounds sandbox execution.
	DeepTimeout time.Duration
	// SkipDeepConfidence short-circuits the pipeline when the fast tier
	// is at least this sure of its score.
	SkipDeepConfidence float64
	// DeepTriggerScore is the fast-tier score above which the sandbox
	// runs even though the fast tier succeeded.
	DeepTriggerScore float64
	// CacheTTL overrides the default verdict lifetime.
	CacheTTL time.Duration
}

// Stats accumulates pipeline activity. Read them from the goroutine that
// runs AnalyzeFile; the orchestrator is not safe for concurrent use.
type Stats struct {
	Analyses         uint64        `json:"analyses"`
	CacheHits        uint64        `json:"cache_hits"`
	FastExecutions   uint64        `json:"fast_executions"`
	DeepExecutions   uint64        `json:"deep_executions"`
	Malicious        uint64        `json:"malicious"`
	Timeouts         uint64        `json:"timeouts"`
	AvgFastDuration  time.Duration `json:"avg_fast_duration"`
	AvgDeepDuration  time.Duration `json:"avg_deep_duration"`
	AllTiersFailures uint64        `json:"all_tiers_failures"`
}

// Orchestrator drives a file through cache lookup, the fast static tier,
// the deep behavioral tier and the final verdict.
type Orchestrator struct {
	cfg    Config
	cache  cache.Cacher
	fast   FastTier
	deep   DeepTier
	scorer *verdict.Scorer
	stats  Stats
}

// New assembles a pipeline. A nil fast or deep tier disables that tier;
// at least one must be present.
func New(cfg Config, cacher cache.Cacher, fast FastTier, deep DeepTier, scorer *verdict.Scorer) (*Orchestrator, error) {
	if fast == nil && deep == nil {
		return nil, errors.New("no analysis tier configured")
	}
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = 5 * time.Second
	}
	if cfg.DeepTimeout <= 0 {
		cfg.DeepTimeout = 30 * time.Second
	}
	if cfg.SkipDeepConfidence <= 0 {
		cfg.SkipDeepConfidence = 0.9
	}
	if cfg.DeepTriggerScore <= 0 {
		cfg.DeepTriggerScore = 0.3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &Orchestrator{
		cfg:    cfg,
		cache:  cacher,
		fast:   fast,
		deep:   deep,
		scorer: scorer,
	}, nil
}

func (o *Orchestrator) Stats() Stats { return o.stats }

func (o *Orchestrator) Scorer() *verdict.Scorer { return o.scorer }

var now = time.Now

// AnalyzeFile runs the tiered pipeline over an in-memory payload.
func (o *Orchestrator) AnalyzeFile(ctx context.Context, data []byte, filename string) (result *datamodel.SandboxResult, err error) {
	o.stats.Analyses++
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	fileLogger := logger.With(slog.String("filename", filename), slog.String("sha256", hash))

	if cached := o.lookup(hash, filename); cached != nil {
		o.stats.CacheHits++
		fileLogger.Debug("verdict served from cache", slog.String("level", cached.Level.String()))
		return cached, nil
	}

	start := now()
	scores := verdict.TierScores{}
	var metrics *telemetry.BehavioralMetrics

	fastFailed := false
	if o.fast != nil {
		o.stats.FastExecutions++
		fastStart := now()
		score, confidence, fastErr := o.fast.Execute(ctx, data, filename, o.cfg.FastTimeout)
		o.stats.AvgFastDuration += (now().Sub(fastStart) - o.stats.AvgFastDuration) / time.Duration(o.stats.FastExecutions)
		if fastErr != nil {
			fastFailed = true
			fileLogger.Warn("fast tier failed", slog.String("error", fastErr.Error()))
		} else {
			scores.Static = score
			scores.HasStatic = true
			if confidence > o.cfg.SkipDeepConfidence {
				fileLogger.Debug("fast tier confident, skipping sandbox",
					slog.Float64("score", score), slog.Float64("confidence", confidence))
				return o.finalize(hash, filename, int64(len(data)), scores, nil, now().Sub(start)), nil
			}
		}
	}

	// the sandbox runs when there is no usable fast score or the fast
	// score is high enough to warrant a behavioral confirmation
	runDeep := o.deep != nil && (o.fast == nil || fastFailed || scores.Static > o.cfg.DeepTriggerScore)
	if runDeep {
		o.stats.DeepExecutions++
		deepStart := now()
		m, deepErr := o.deep.Analyze(ctx, data, filename, o.cfg.DeepTimeout)
		o.stats.AvgDeepDuration += (now().Sub(deepStart) - o.stats.AvgDeepDuration) / time.Duration(o.stats.DeepExecutions)
		if deepErr != nil {
			fileLogger.Warn("deep tier failed", slog.String("error", deepErr.Error()))
			if !scores.HasStatic {
				o.stats.AllTiersFailures++
				return nil, fmt.Errorf("%w: %s", ErrAllTiersFailed, deepErr)
			}
		} else {
			metrics = m
			scores.Behavioral = m.ThreatScore
			scores.HasBehavioral = true
			if m.TimedOut {
				o.stats.Timeouts++
			}
		}
	}

	if !scores.HasStatic && !scores.HasBehavioral {
		o.stats.AllTiersFailures++
		return nil, ErrAllTiersFailed
	}
	return o.finalize(hash, filename, int64(len(data)), scores, metrics, now().Sub(start)), nil
}

// AnalyzePath hashes the file first so a cached verdict avoids loading
// the payload into memory at all.
func (o *Orchestrator) AnalyzePath(ctx context.Context, location string) (*datamodel.SandboxResult, error) {
	hash, err := HashFile(location)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", location, err)
	}
	if cached := o.lookup(hash, filepath.Base(location)); cached != nil {
		o.stats.Analyses++
		o.stats.CacheHits++
		return cached, nil
	}
	data, err := os.ReadFile(filepath.Clean(location))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return o.AnalyzeFile(ctx, data, filepath.Base(location))
}

func (o *Orchestrator) lookup(hash, filename string) *datamodel.SandboxResult {
	if o.cache == nil {
		return nil
	}
	entry, err := o.cache.Get(hash)
	if err != nil {
		if !errors.Is(err, cache.ErrEntryNotFound) {
			logger.Warn("cache lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}
	return &datamodel.SandboxResult{
		Filename:    filename,
		SHA256:      entry.Sha256,
		Level:       entry.Level,
		Composite:   entry.Composite,
		Confidence:  entry.Confidence,
		Explanation: entry.Explanation,
		Tiers:       entry.Tiers,
		AnalyzedAt:  entry.AnalyzedAt,
		Cached:      true,
	}
}

func (o *Orchestrator) finalize(hash, filename string, size int64, scores verdict.TierScores, metrics *telemetry.BehavioralMetrics, elapsed time.Duration) *datamodel.SandboxResult {
	v := o.scorer.Calculate(scores)

	result := &datamodel.SandboxResult{
		Filename:    filename,
		SHA256:      hash,
		Level:       v.Level,
		Composite:   v.Composite,
		Confidence:  v.Confidence,
		Explanation: v.Explanation,
		Tiers:       tierPointers(scores),
		FileSize:    size,
		Duration:    elapsed,
		AnalyzedAt:  now(),
	}
	if metrics != nil {
		result.Metrics = metrics
		result.Findings = metrics.Findings
		result.TimedOut = metrics.TimedOut
	}
	if result.Malicious() {
		o.stats.Malicious++
	}

	if o.cache != nil {
		entry := &cache.Entry{
			Sha256:      hash,
			Level:       result.Level,
			Composite:   result.Composite,
			Confidence:  result.Confidence,
			Tiers:       result.Tiers,
			Explanation: result.Explanation,
			AnalyzedAt:  result.AnalyzedAt,
			ExpiresAt:   result.AnalyzedAt.Add(o.cfg.CacheTTL),
		}
		if err := o.cache.Set(entry); err != nil {
			logger.Warn("failed to cache verdict", slog.String("sha256", hash), slog.String("error", err.Error()))
		}
	}
	return result
}

func tierPointers(scores verdict.TierScores) (t datamodel.TierScores) {
	if scores.HasStatic {
		v := scores.Static
		t.Static = &v
	}
	if scores.HasML {
		v := scores.ML
		t.ML = &v
	}
	if scores.HasBehavioral {
		v := scores.Behavioral
		t.Behavioral = &v
	}
	if scores.HasReputation {
		v := scores.Reputation
		t.Reputation = &v
	}
	return t
}

var sha256BufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 128*1024)
		return &buf
	},
}

// HashFile computes the sha256 of a file on disk with a pooled copy
// buffer, so watch mode can dedupe large files cheaply.
func HashFile(location string) (fileSHA256 string, err error) {
	hash := sha256.New()
	f, err := os.Open(filepath.Clean(location))
	if err != nil {
		return
	}
	defer func() {
		if e := f.Close(); e != nil {
			logger.Warn("could not close file correctly", slog.String("file", location), slog.String("error", e.Error()))
		}
	}()

	sha256Buf, ok := sha256BufferPool.Get().(*[]byte)
	if !ok {
		err = errors.New("error with sha256 computing, could not get correct buffer type from pool")
		return
	}
	defer sha256BufferPool.Put(sha256Buf)

	if _, err = io.CopyBuffer(hash, f, *sha256Buf); err != nil {
		return
	}
	fileSHA256 = hex.EncodeToString(hash.Sum(nil))
	return
}
