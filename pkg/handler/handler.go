// Package handler assembles the analysis pipeline, the watcher, the
// quarantine store and the worker pool into one runnable unit.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golift.io/xtractr"

	"github.com/threatvet/threatvet/pkg/cache"
	"github.com/threatvet/threatvet/pkg/config"
	"github.com/threatvet/threatvet/pkg/datamodel"
	"github.com/threatvet/threatvet/pkg/monitor"
	"github.com/threatvet/threatvet/pkg/orchestrator"
	"github.com/threatvet/threatvet/pkg/prescan"
	"github.com/threatvet/threatvet/pkg/quarantine"
	"github.com/threatvet/threatvet/pkg/sandbox"
	"github.com/threatvet/threatvet/pkg/source"
	"github.com/threatvet/threatvet/pkg/verdict"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// Analyzer is the pipeline surface the handler drives. Satisfied by
// orchestrator.Orchestrator.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, data []byte, filename string) (*datamodel.SandboxResult, error)
	AnalyzePath(ctx context.Context, location string) (*datamodel.SandboxResult, error)
}

var _ Analyzer = &orchestrator.Orchestrator{}

// ExtractFile unpacks an archive into outputDir, overridable in tests.
var ExtractFile = func(archiveLocation string, outputDir string) (size int64, files []string, volumes []string, err error) {
	xFile := &xtractr.XFile{
		FilePath:  archiveLocation,
		OutputDir: outputDir,
		FileMode:  0o755,
		DirMode:   0o755,
	}
	return xtractr.ExtractFile(xFile)
}

type job struct {
	location string
	// display is the name reported for the file. For extracted entries
	// it is the path inside the archive.
	display   string
	archiveID string
}

type archiveState struct {
	location  string
	tmpDir    string
	remaining int
	malicious int
}

// archiveTracker refcounts extracted entries so the scratch directory
// is removed once the last one has been analyzed.
type archiveTracker struct {
	mu   sync.Mutex
	byID map[string]*archiveState
}

func newArchiveTracker() *archiveTracker {
	return &archiveTracker{byID: map[string]*archiveState{}}
}

var newArchiveID = uuid.NewString

func (t *archiveTracker) add(location string, tmpDir string, entries int) (id string) {
	id = newArchiveID()
	t.mu.Lock()
	t.byID[id] = &archiveState{location: location, tmpDir: tmpDir, remaining: entries}
	t.mu.Unlock()
	return
}

func (t *archiveTracker) done(id string, malicious bool) (st *archiveState, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	if malicious {
		st.malicious++
	}
	st.remaining--
	if st.remaining > 0 {
		return st, false
	}
	delete(t.byID, id)
	return st, true
}

type Handler struct {
	Analyzer     Analyzer
	Orchestrator *orchestrator.Orchestrator
	Sandbox      *sandbox.Sandbox
	Prescan      *prescan.Analyzer
	Quarantiner  quarantine.Quarantiner

	watcher *monitor.Watcher
	fetcher *source.S3Fetcher
	cache   *cache.Cache

	conf     *config.Config
	out      io.Writer
	outMu    sync.Mutex
	reports  *datamodel.ReportsWriter
	reportsF *os.File

	jobs        chan job
	archiveJobs chan string
	stopWorkers chan struct{}
	workerWg    sync.WaitGroup
	pending     sync.WaitGroup

	// analyzeMu serializes pipeline runs. The orchestrator and its
	// tiers keep unsynchronized stats, and concurrent payloads under
	// the isolation backend contend for the memory cap.
	analyzeMu sync.Mutex

	ongoing  sync.Map
	archives *archiveTracker

	started bool
	stopped bool
}

func NewHandler(ctx context.Context, conf *config.Config) (h *Handler, err error) {
	if conf.Workers == 0 {
		conf.Workers = config.DefaultWorkers
	}
	if conf.ExtractWorkers == 0 {
		conf.ExtractWorkers = config.DefaultExtractWorkers
	}
	setLogLevels(conf.Debug)

	h = &Handler{
		conf:        conf,
		out:         os.Stdout,
		jobs:        make(chan job),
		archiveJobs: make(chan string),
		stopWorkers: make(chan struct{}),
		archives:    newArchiveTracker(),
	}

	h.cache, err = cache.NewCache(conf.Cache.Location)
	if err != nil {
		return nil, fmt.Errorf("could not open verdict cache: %w", err)
	}

	scorer := verdict.NewScorer()
	if conf.Verdict.Weights != (verdict.Weights{}) {
		scorer.SetWeights(conf.Verdict.Weights)
	}
	if conf.Verdict.Thresholds != (verdict.Thresholds{}) {
		scorer.SetThresholds(conf.Verdict.Thresholds)
	}

	var fast orchestrator.FastTier
	if conf.Pipeline.EnableFast {
		h.Prescan = prescan.New()
		fast = h.Prescan
	}
	var deep orchestrator.DeepTier
	if conf.Pipeline.EnableDeep {
		h.Sandbox = sandbox.New(sandbox.Config{
			BackendPath:            conf.Sandbox.Backend,
			ConfigPath:             conf.Sandbox.ConfigPath,
			MaxMemoryBytes:         int64(conf.Sandbox.MaxMemory),
			AllowNetwork:           conf.Sandbox.AllowNetwork,
			Debug:                  conf.Debug,
			InjectionKillThreshold: uint32(conf.Sandbox.InjectionKillThreshold),
		})
		deep = h.Sandbox
	}

	h.Orchestrator, err = orchestrator.New(orchestrator.Config{
		FastTimeout:        time.Duration(conf.Pipeline.FastTimeout),
		DeepTimeout:        time.Duration(conf.Pipeline.DeepTimeout),
		SkipDeepConfidence: conf.Pipeline.SkipDeepConfidence,
		DeepTriggerScore:   conf.Pipeline.DeepTriggerScore,
		CacheTTL:           time.Duration(conf.Cache.Validity),
	}, h.cache, fast, deep, scorer)
	if err != nil {
		return nil, errors.Join(err, h.cache.Close())
	}
	h.Analyzer = h.Orchestrator

	if conf.Quarantine.Enabled {
		h.Quarantiner, err = quarantine.NewQuarantineHandler(ctx, quarantine.Config{
			Location:         conf.Quarantine.Location,
			RegistryLocation: conf.Quarantine.Registry,
			LockPassword:     conf.Quarantine.Password,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error init quarantine: %w", err), h.cache.Close())
		}
	}

	if conf.S3.Endpoint != "" || conf.S3.AccessKeyID != "" {
		h.fetcher, err = source.NewS3Fetcher(ctx, source.S3Config{
			Endpoint:        conf.S3.Endpoint,
			Region:          conf.S3.Region,
			AccessKeyID:     conf.S3.AccessKeyID,
			SecretAccessKey: conf.S3.SecretAccessKey,
			Insecure:        conf.S3.Insecure,
			UsePathStyle:    conf.S3.UsePathStyle,
			MaxSize:         int64(conf.MaxFileSize),
		})
		if err != nil {
			return nil, fmt.Errorf("error init S3 client: %w", err)
		}
	}

	if conf.Report != "" {
		h.reportsF, err = os.Create(conf.Report)
		if err != nil {
			return nil, fmt.Errorf("could not open report location, error: %w", err)
		}
		h.reports = datamodel.NewReportsWriter(h.reportsF)
	}

	rescanPeriod := time.Duration(0)
	if conf.Monitoring.ReScan {
		rescanPeriod = time.Duration(conf.Monitoring.Period)
	}
	h.watcher, err = monitor.NewWatcher(
		h.onNewFile(ctx),
		conf.Monitoring.PreScan,
		rescanPeriod,
		time.Duration(conf.Monitoring.ModificationDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("could not init watcher: %w", err)
	}
	return h, nil
}

func setLogLevels(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	for _, l := range []*slog.LevelVar{
		LogLevel,
		datamodel.LogLevel,
		monitor.LogLevel,
		orchestrator.LogLevel,
		prescan.LogLevel,
		quarantine.LogLevel,
		sandbox.LogLevel,
		source.LogLevel,
		verdict.LogLevel,
	} {
		l.Set(level)
	}
}

func (h *Handler) onNewFile(ctx context.Context) monitor.ScanFunc {
	return func(path string) error {
		return h.ScanPath(ctx, path)
	}
}

// Start launches the worker pool.
func (h *Handler) Start(ctx context.Context) (err error) {
	if h.started {
		return errors.New("handler already started")
	}
	h.started = true
	for i := uint(0); i < h.conf.Workers; i++ {
		h.workerWg.Add(1)
		go h.worker(ctx)
	}
	if h.conf.Extract {
		for i := uint(0); i < h.conf.ExtractWorkers; i++ {
			h.workerWg.Add(1)
			go h.extractWorker()
		}
	}
	logger.Info("handler started", slog.Uint64("workers", uint64(h.conf.Workers)))
	return
}

// Watch starts the directory watcher over the configured paths.
func (h *Handler) Watch() (err error) {
	h.watcher.Start()
	for _, path := range h.conf.Paths {
		if err = h.watcher.Add(path); err != nil {
			return fmt.Errorf("could not watch path %s: %w", path, err)
		}
	}
	logger.Info("watching", slog.Any("paths", h.conf.Paths))
	return
}

// Wait blocks until every queued analysis has finished.
func (h *Handler) Wait() { h.pending.Wait() }

// Stop shuts down the watcher and the workers, then releases the
// quarantine registry, the cache and the report file. It waits for
// in-flight analyses until ctx expires.
func (h *Handler) Stop(ctx context.Context) (err error) {
	if h.stopped {
		return
	}
	h.stopped = true
	if h.watcher != nil {
		h.watcher.Close()
	}
	close(h.stopWorkers)
	finished := make(chan struct{})
	go func() {
		h.workerWg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		logger.Warn("timeout waiting for workers to finish")
	}
	if h.Quarantiner != nil {
		err = errors.Join(err, h.Quarantiner.Close())
	}
	if h.cache != nil {
		err = errors.Join(err, h.cache.Close())
	}
	if h.reportsF != nil {
		err = errors.Join(err, h.reportsF.Close())
	}
	logger.Info("handler stopped")
	return
}

// ScanPath queues a file, a directory tree or an s3:// location for
// analysis. It returns once everything is queued; results are
// delivered through the configured outputs.
func (h *Handler) ScanPath(ctx context.Context, location string) (err error) {
	if source.IsS3(location) {
		return h.scanS3(ctx, location)
	}
	info, err := os.Lstat(location)
	if err != nil {
		return fmt.Errorf("could not stat %s: %w", location, err)
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		logger.Debug("skip symlink", slog.String("file", location))
		return nil
	case info.IsDir():
		return filepath.WalkDir(location, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				logger.Warn("walk error", slog.String("path", path), slog.String("error", walkErr.Error()))
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			h.enqueue(path, path)
			return nil
		})
	default:
		h.enqueue(location, location)
		return nil
	}
}

func (h *Handler) scanS3(ctx context.Context, location string) (err error) {
	if h.fetcher == nil {
		return errors.New("no S3 input configured")
	}
	locations, err := h.fetcher.List(ctx, location)
	if err != nil {
		return fmt.Errorf("could not list %s: %w", location, err)
	}
	if len(locations) == 0 {
		return fmt.Errorf("no object found at %s", location)
	}
	for _, loc := range locations {
		if _, ongoing := h.ongoing.LoadOrStore(loc, struct{}{}); ongoing {
			continue
		}
		h.pending.Add(1)
		h.send(job{location: loc, display: loc})
	}
	return nil
}

func (h *Handler) enqueue(location string, display string) {
	info, err := os.Stat(location)
	if err != nil {
		logger.Warn("could not stat file", slog.String("file", location), slog.String("error", err.Error()))
		return
	}
	if info.Size() == 0 {
		logger.Debug("skip empty file", slog.String("file", location))
		return
	}
	if info.Size() > int64(h.conf.MaxFileSize) && !h.conf.Extract {
		logger.Warn("file exceeds the size limit, skipping",
			slog.String("file", location), slog.Int64("size", info.Size()))
		return
	}
	if _, ongoing := h.ongoing.LoadOrStore(location, struct{}{}); ongoing {
		logger.Debug("analysis already ongoing", slog.String("file", location))
		return
	}
	h.pending.Add(1)
	if info.Size() > int64(h.conf.MaxFileSize) {
		select {
		case h.archiveJobs <- location:
		case <-h.stopWorkers:
			h.ongoing.Delete(location)
			h.pending.Done()
		}
		return
	}
	h.send(job{location: location, display: display})
}

func (h *Handler) send(j job) {
	select {
	case h.jobs <- j:
	case <-h.stopWorkers:
		h.ongoing.Delete(j.location)
		h.pending.Done()
	}
}

func (h *Handler) worker(ctx context.Context) {
	defer h.workerWg.Done()
	for {
		select {
		case <-h.stopWorkers:
			return
		case j := <-h.jobs:
			h.process(ctx, j)
		}
	}
}

func (h *Handler) process(ctx context.Context, j job) {
	defer h.pending.Done()
	defer h.ongoing.Delete(j.location)

	var result *datamodel.SandboxResult
	var err error
	h.analyzeMu.Lock()
	if source.IsS3(j.location) {
		var data []byte
		var name string
		data, name, err = h.fetcher.Fetch(ctx, j.location)
		if err == nil {
			result, err = h.Analyzer.AnalyzeFile(ctx, data, name)
		}
	} else {
		result, err = h.Analyzer.AnalyzePath(ctx, j.location)
	}
	h.analyzeMu.Unlock()

	if err != nil {
		logger.Error("analysis failed", slog.String("file", j.display), slog.String("error", err.Error()))
		h.finishArchiveEntry(ctx, j.archiveID, false)
		return
	}
	result.Filename = j.display
	h.handleResult(ctx, j, result)
	h.finishArchiveEntry(ctx, j.archiveID, result.Malicious())
}

func (h *Handler) handleResult(ctx context.Context, j job, result *datamodel.SandboxResult) {
	// extracted entries live in scratch space, mitigation targets the
	// archive itself once all entries are in
	if result.Malicious() && j.archiveID == "" && !source.IsS3(j.location) {
		result.Quarantined = h.quarantineFile(ctx, j.location, result.SHA256, result.Level, result.Explanation)
	}

	if !h.conf.Quiet && (result.Malicious() || h.conf.Verbose) {
		h.outMu.Lock()
		fmt.Fprint(h.out, datamodel.RenderText(result))
		h.outMu.Unlock()
	}
	if h.reports != nil {
		h.outMu.Lock()
		err := h.reports.Write(*result)
		h.outMu.Unlock()
		if err != nil {
			logger.Error("could not write report", slog.String("file", j.display), slog.String("error", err.Error()))
		}
	}
	logger.Info("file analyzed",
		slog.String("file", j.display),
		slog.String("sha256", result.SHA256),
		slog.String("level", result.Level.String()),
		slog.Bool("cached", result.Cached),
	)
}

// quarantineFile locks the file away and removes the original. Files an
// operator restored before are left alone.
func (h *Handler) quarantineFile(ctx context.Context, location string, fileSHA256 string, level datamodel.ThreatLevel, explanation string) (quarantined bool) {
	if h.Quarantiner == nil {
		return false
	}
	restored, err := h.Quarantiner.IsRestored(ctx, fileSHA256)
	if err != nil {
		logger.Error("could not check restore registry", slog.String("file", location), slog.String("error", err.Error()))
	}
	if restored {
		logger.Info("file was restored by an operator, leaving it in place",
			slog.String("file", location), slog.String("sha256", fileSHA256))
		return false
	}
	lockLocation, id, err := h.Quarantiner.Quarantine(ctx, location, fileSHA256, level, explanation)
	if err != nil {
		logger.Error("could not quarantine file", slog.String("file", location), slog.String("error", err.Error()))
		return false
	}
	if err := os.Remove(location); err != nil {
		logger.Error("could not remove original after quarantine", slog.String("file", location), slog.String("error", err.Error()))
	}
	logger.Info("file quarantined",
		slog.String("file", location),
		slog.String("id", id),
		slog.String("location", lockLocation),
	)
	return true
}

func (h *Handler) extractWorker() {
	defer h.workerWg.Done()
	for {
		select {
		case <-h.stopWorkers:
			return
		case location := <-h.archiveJobs:
			h.extract(location)
		}
	}
}

func (h *Handler) extract(location string) {
	defer h.pending.Done()
	defer h.ongoing.Delete(location)
	tmpDir, err := os.MkdirTemp("", "threatvet_extract_*")
	if err != nil {
		logger.Error("could not create extraction directory", slog.String("error", err.Error()))
		return
	}
	_, files, _, err := ExtractFile(location, tmpDir)
	if err != nil {
		logger.Warn("file exceeds the size limit and is not a supported archive, skipping",
			slog.String("file", location), slog.String("error", err.Error()))
		removeTmpDir(tmpDir)
		return
	}

	var scannable []string
	for _, f := range files {
		info, statErr := os.Stat(f)
		if statErr != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		if info.Size() > int64(h.conf.MaxFileSize) {
			logger.Warn("extracted entry exceeds the size limit, skipping",
				slog.String("archive", location), slog.String("entry", f), slog.Int64("size", info.Size()))
			continue
		}
		scannable = append(scannable, f)
	}
	if len(scannable) == 0 {
		logger.Warn("archive produced no scannable entries", slog.String("file", location))
		removeTmpDir(tmpDir)
		return
	}

	id := h.archives.add(location, tmpDir, len(scannable))
	base := filepath.Base(location)
	for _, f := range scannable {
		rel, relErr := filepath.Rel(tmpDir, f)
		if relErr != nil {
			rel = filepath.Base(f)
		}
		h.pending.Add(1)
		h.send(job{location: f, display: filepath.Join(base, rel), archiveID: id})
	}
}

// finishArchiveEntry accounts one analyzed entry. When the archive is
// complete the scratch directory goes away, and the archive itself is
// quarantined if any entry came back malicious.
func (h *Handler) finishArchiveEntry(ctx context.Context, archiveID string, malicious bool) {
	if archiveID == "" {
		return
	}
	st, finished := h.archives.done(archiveID, malicious)
	if !finished {
		return
	}
	removeTmpDir(st.tmpDir)
	logger.Info("archive analyzed",
		slog.String("file", st.location),
		slog.Int("malicious_entries", st.malicious),
	)
	if st.malicious == 0 {
		return
	}
	hash, err := orchestrator.HashFile(st.location)
	if err != nil {
		logger.Error("could not hash archive for quarantine", slog.String("file", st.location), slog.String("error", err.Error()))
		return
	}
	explanation := fmt.Sprintf("%d malicious entries in archive", st.malicious)
	h.quarantineFile(ctx, st.location, hash, datamodel.LevelMalicious, explanation)
}

func removeTmpDir(tmpDir string) {
	if err := os.RemoveAll(tmpDir); err != nil {
		logger.Error("could not remove extraction directory", slog.String("dir", tmpDir), slog.String("error", err.Error()))
	}
}
