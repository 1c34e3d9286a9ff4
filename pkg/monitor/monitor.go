// Package monitor watches download directories and feeds files to the
// analysis pipeline once they stop changing.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// ScanFunc receives file paths for settled files, and the watched
// directory itself on scheduled rescans and on Add when scanOnAdd is
// set.
type ScanFunc func(path string) error

// Watcher tracks download directories through fsnotify. New or
// modified files are held back until they have not been written for
// settleDelay, so half-downloaded payloads are not analyzed.
type Watcher struct {
	watcher      *fsnotify.Watcher
	wg           sync.WaitGroup
	scan         ScanFunc
	scanOnAdd    bool
	rescanPeriod time.Duration
	settleDelay  time.Duration
	dirs         map[string]struct{}
	dirsLock     sync.Mutex
	stop         context.Context
	cancel       context.CancelFunc
	pending      map[string]struct{}
	pendingLock  sync.Mutex
}

func NewWatcher(scan ScanFunc, scanOnAdd bool, rescanPeriod time.Duration, settleDelay time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Watcher{
		watcher:      watcher,
		scan:         scan,
		scanOnAdd:    scanOnAdd,
		rescanPeriod: rescanPeriod,
		settleDelay:  settleDelay,
		dirs:         map[string]struct{}{},
		pending:      map[string]struct{}{},
		stop:         stop,
		cancel:       cancel,
	}, nil
}

func (w *Watcher) Close() {
	w.watcher.Close()
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.events()
	if w.rescanPeriod != 0 {
		w.wg.Add(1)
		go w.rescan()
	}
	w.wg.Add(1)
	go w.drainPending()
}

func (w *Watcher) events() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			logger.Debug("new event", slog.Any("event", event))
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			w.pendingLock.Lock()
			w.pending[event.Name] = struct{}{}
			w.pendingLock.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) rescan() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.rescanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop.Done():
			return
		case <-ticker.C:
			for _, dir := range w.watched() {
				if err := w.scan(dir); err != nil {
					logger.Error("rescan failed", slog.String("path", dir), slog.String("error", err.Error()))
				}
			}
		}
	}
}

var (
	SettlePollInterval = time.Millisecond * 100
	Since              = time.Since
)

func (w *Watcher) drainPending() {
	defer w.wg.Done()
	ticker := time.NewTicker(SettlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop.Done():
			return
		case <-ticker.C:
			for _, path := range w.settled() {
				if err := w.scan(path); err != nil {
					logger.Error("scan failed", slog.String("path", path), slog.String("error", err.Error()))
				}
			}
		}
	}
}

// settled removes and returns every pending file whose last write is
// older than the settle delay. Files that vanished before settling are
// dropped.
func (w *Watcher) settled() (paths []string) {
	w.pendingLock.Lock()
	defer w.pendingLock.Unlock()
	for path := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if Since(info.ModTime()) > w.settleDelay {
			paths = append(paths, path)
			delete(w.pending, path)
		}
	}
	return
}

// watched snapshots the directory set so rescans never iterate the map
// while Add or Remove mutates it.
func (w *Watcher) watched() (dirs []string) {
	w.dirsLock.Lock()
	defer w.dirsLock.Unlock()
	for dir := range w.dirs {
		dirs = append(dirs, dir)
	}
	return
}

func (w *Watcher) Add(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirsLock.Lock()
	w.dirs[dir] = struct{}{}
	w.dirsLock.Unlock()
	if w.scanOnAdd {
		go func() {
			if err := w.scan(dir); err != nil {
				logger.Error("initial scan failed", slog.String("path", dir), slog.String("error", err.Error()))
			}
		}()
	}
	return nil
}

func (w *Watcher) Remove(dir string) error {
	w.dirsLock.Lock()
	delete(w.dirs, dir)
	w.dirsLock.Unlock()
	return w.watcher.Remove(dir)
}
