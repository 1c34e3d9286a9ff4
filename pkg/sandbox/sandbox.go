package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/threatvet/threatvet/pkg/telemetry"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))

// Config controls one sandbox instance. Zero values get defaults from New.
type Config struct {
	// BackendPath is the isolation backend binary, resolved via PATH.
	BackendPath string
	// ConfigPath overrides the profile search paths when set.
	ConfigPath string
	// MaxMemoryBytes caps the payload's address space.
	MaxMemoryBytes int64
	// AllowNetwork keeps the network namespace shared with the host.
	AllowNetwork bool
	// Debug raises the backend's own log level.
	Debug bool
	// InjectionKillThreshold is the code injection count that aborts the
	// run immediately. Zero means the default.
	InjectionKillThreshold uint32
}

const (
	defaultBackend            = "nsjail"
	defaultMaxMemory          = 512 << 20
	defaultInjectionThreshold = 10
	pollInterval              = 100 * time.Millisecond
)

// Stats accumulates sandbox activity for the stats command.
type Stats struct {
	TotalAnalyses        uint64        `json:"total_analyses"`
	Timeouts             uint64        `json:"timeouts"`
	Crashes              uint64        `json:"crashes"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	MaxExecutionTime     time.Duration `json:"max_execution_time"`
}

// Sandbox executes untrusted payloads under an isolation backend and
// derives behavioral metrics from the syscall telemetry the backend
// writes to stderr. When no backend is installed it degrades to a
// heuristic inspection of the payload bytes. A single instance supports
// at most one Analyze at a time.
type Sandbox struct {
	cfg         Config
	backendPath string
	configPath  string
	heuristic   bool
	stats       Stats
}

var now = time.Now

func New(cfg Config) *Sandbox {
	if cfg.BackendPath == "" {
		cfg.BackendPath = defaultBackend
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = defaultMaxMemory
	}
	if cfg.InjectionKillThreshold == 0 {
		cfg.InjectionKillThreshold = defaultInjectionThreshold
	}

	s := &Sandbox{cfg: cfg}
	path, err := exec.LookPath(cfg.BackendPath)
	if err != nil {
		logger.Warn("isolation backend not found, falling back to heuristic analysis",
			slog.String("backend", cfg.BackendPath))
		s.heuristic = true
		return s
	}
	s.backendPath = path
	s.configPath, err = locateConfigFile(cfg.ConfigPath)
	if err != nil {
		logger.Warn("backend profile not found, falling back to heuristic analysis",
			slog.String("error", err.Error()))
		s.heuristic = true
	}
	return s
}

// Heuristic reports whether the instance runs without a real backend.
func (s *Sandbox) Heuristic() bool { return s.heuristic }

func (s *Sandbox) Stats() Stats { return s.stats }

// Analyze executes the payload under the backend for at most timeout and
// returns the behavioral metrics observed. A timed out or crashed payload
// is a result, not an error; only failures to run the analysis at all are
// errors.
func (s *Sandbox) Analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) (m *telemetry.BehavioralMetrics, err error) {
	start := now()
	s.stats.TotalAnalyses++

	if s.heuristic {
		m = heuristicMetrics(data)
	} else {
		m, err = s.execute(ctx, data, filename, timeout)
		if err != nil {
			return nil, err
		}
	}

	m.ExecutionTime = now().Sub(start)
	if m.TimedOut {
		s.stats.Timeouts++
	} else if m.ExitCode >= 128 {
		s.stats.Crashes++
	}

	m.ThreatScore = telemetry.ComputeThreatScore(m)
	m.Findings = telemetry.Summarize(m)

	n := s.stats.TotalAnalyses
	s.stats.AverageExecutionTime += (m.ExecutionTime - s.stats.AverageExecutionTime) / time.Duration(n)
	if m.ExecutionTime > s.stats.MaxExecutionTime {
		s.stats.MaxExecutionTime = m.ExecutionTime
	}

	logger.Debug("analysis complete",
		slog.String("filename", filename),
		slog.Float64("threat_score", m.ThreatScore),
		slog.Bool("timed_out", m.TimedOut),
		slog.Int("exit_code", m.ExitCode))
	return m, nil
}

func (s *Sandbox) execute(ctx context.Context, data []byte, filename string, timeout time.Duration) (m *telemetry.BehavioralMetrics, err error) {
	scratch, err := os.MkdirTemp("", "threatvet_sandbox_*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			logger.Error("failed to remove scratch dir", slog.String("error", rmErr.Error()))
		}
	}()
	if err = os.Chmod(scratch, 0o700); err != nil {
		return nil, fmt.Errorf("chmod scratch dir: %w", err)
	}

	exePath := filepath.Join(scratch, filepath.Base(filename))
	if err = os.WriteFile(exePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}
	if err = os.Chmod(exePath, 0o700); err != nil {
		return nil, fmt.Errorf("chmod payload: %w", err)
	}

	argv := buildCommand(s.backendPath, s.configPath, scratch, exePath, timeout, s.cfg)
	logger.Debug("spawning backend", slog.Any("command", argv))

	p, err := spawn(argv, scratch)
	if err != nil {
		return nil, fmt.Errorf("spawn backend: %w", err)
	}
	defer p.close()

	// independent watchdog, fires even if the monitor loop stalls
	killer := time.AfterFunc(timeout, p.kill)
	defer killer.Stop()

	m = &telemetry.BehavioralMetrics{}
	deadline := now().Add(timeout)
	exitCode, deadlineHit, err := s.monitor(ctx, p, deadline, m)
	if err != nil {
		p.kill()
		if _, waitErr := p.wait(); waitErr != nil {
			logger.Error("failed to reap backend", slog.String("error", waitErr.Error()))
		}
		return nil, err
	}

	m.ExitCode = exitCode
	// the watchdog may fire between two deadline checks, so consult the
	// clock as well as the loop's own flag
	if exitCode == 128+int(unix.SIGKILL) && (deadlineHit || now().After(deadline)) {
		m.TimedOut = true
	}
	return m, nil
}

// monitor drains syscall telemetry from the backend's stderr until the
// child exits, the deadline passes or injection activity crosses the kill
// threshold. Runs in the calling goroutine; readiness is awaited with
// short poll timeouts so exit and deadline checks stay responsive.
func (s *Sandbox) monitor(ctx context.Context, p *process, deadline time.Time, m *telemetry.BehavioralMetrics) (exitCode int, deadlineHit bool, err error) {
	fd := int(p.stderr.Fd())
	if err = unix.SetNonblock(fd, true); err != nil {
		return 0, false, fmt.Errorf("set stderr non-blocking: %w", err)
	}

	var acc lineAccumulator
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			p.kill()
			exitCode, err = p.wait()
			if err != nil {
				return 0, false, err
			}
			return exitCode, false, ctx.Err()
		}
		if now().After(deadline) {
			deadlineHit = true
			p.kill()
			break
		}

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, pollErr := unix.Poll(pfd, int(pollInterval/time.Millisecond))
		if pollErr != nil && pollErr != unix.EINTR {
			return 0, false, fmt.Errorf("poll stderr: %w", pollErr)
		}

		eof := false
		if n > 0 {
			eof, err = drain(fd, buf, &acc, m)
			if err != nil {
				return 0, false, err
			}
			if m.CodeInjectionAttempts >= s.cfg.InjectionKillThreshold {
				logger.Warn("injection threshold crossed, killing payload",
					slog.Int("attempts", int(m.CodeInjectionAttempts)))
				p.kill()
				break
			}
		}
		if eof {
			break
		}

		done, _, exitErr := p.exited()
		if exitErr != nil {
			return 0, false, exitErr
		}
		if done {
			// child gone, pick up whatever telemetry is still buffered
			if _, err = drain(fd, buf, &acc, m); err != nil {
				return 0, false, err
			}
			break
		}
	}

	applyLine(acc.rest(), m)
	exitCode, err = p.wait()
	if err != nil {
		return 0, false, err
	}
	return exitCode, deadlineHit, nil
}

// drain reads everything currently buffered on the non-blocking fd and
// feeds complete lines through the telemetry parser. Returns eof when the
// write side is closed.
func drain(fd int, buf []byte, acc *lineAccumulator, m *telemetry.BehavioralMetrics) (eof bool, err error) {
	for {
		n, readErr := unix.Read(fd, buf)
		if readErr == unix.EAGAIN {
			return false, nil
		}
		if readErr == unix.EINTR {
			continue
		}
		if readErr != nil {
			return false, fmt.Errorf("read stderr: %w", readErr)
		}
		if n == 0 {
			return true, nil
		}
		for _, line := range acc.feed(buf[:n]) {
			applyLine(line, m)
		}
	}
}

func applyLine(line string, m *telemetry.BehavioralMetrics) {
	event, ok := telemetry.ParseSyscallEvent(line)
	if !ok {
		return
	}
	telemetry.ApplySyscall(event.Name, m)
}

// lineAccumulator buffers partial reads and hands out complete lines.
type lineAccumulator struct {
	pending bytes.Buffer
}

func (a *lineAccumulator) feed(chunk []byte) (lines []string) {
	a.pending.Write(chunk)
	for {
		b := a.pending.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			return lines
		}
		lines = append(lines, string(b[:i]))
		a.pending.Next(i + 1)
	}
}

// rest returns the trailing unterminated line, if any.
func (a *lineAccumulator) rest() string {
	defer a.pending.Reset()
	return a.pending.String()
}
