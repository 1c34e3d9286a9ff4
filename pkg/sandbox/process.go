package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// process wraps a spawned backend with its three pipes. The parent holds
// the write end of stdin and the read ends of stdout and stderr. Close
// and reap are idempotent so cleanup can run on every path.
type process struct {
	pid    int
	handle *os.Process
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	reaped   bool
	exitCode int
	closed   bool
}

// spawn starts argv[0] with the remaining arguments, wiring three fresh
// pipes. The child gets its own process group so a kill reaches any
// grandchildren the backend forks.
func spawn(argv []string, dir string) (p *process, err error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	proc, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Dir:   dir,
		Files: []*os.File{stdinR, stdoutW, stderrW},
		Sys:   &unix.SysProcAttr{Setpgid: true},
	})
	// child ends are the child's now, close our copies either way
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	return &process{
		pid:    proc.Pid,
		handle: proc,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
	}, nil
}

// markReaped records the decoded exit code and releases the process
// handle, which may hold a pidfd open for the child.
func (p *process) markReaped(ws unix.WaitStatus) {
	p.reaped = true
	p.exitCode = decodeStatus(ws)
	_ = p.handle.Release()
}

// exited checks for child termination without blocking. When the child
// has been reaped the decoded exit code is remembered, so later calls
// and wait() keep returning it.
func (p *process) exited() (done bool, code int, err error) {
	if p.reaped {
		return true, p.exitCode, nil
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return false, 0, fmt.Errorf("wait4: %w", err)
	}
	if pid != p.pid {
		return false, 0, nil
	}
	p.markReaped(ws)
	return true, p.exitCode, nil
}

// wait blocks until the child terminates and returns the decoded exit
// code. Safe to call after exited() already reaped.
func (p *process) wait() (code int, err error) {
	if p.reaped {
		return p.exitCode, nil
	}
	var ws unix.WaitStatus
	for {
		_, err = unix.Wait4(p.pid, &ws, 0, nil)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("wait4: %w", err)
	}
	p.markReaped(ws)
	return p.exitCode, nil
}

// kill sends SIGKILL to the child's process group, falling back to the
// child alone if the group is already gone.
func (p *process) kill() {
	if p.reaped {
		return
	}
	if err := unix.Kill(-p.pid, unix.SIGKILL); err != nil {
		_ = unix.Kill(p.pid, unix.SIGKILL)
	}
}

// close releases the three pipe ends exactly once.
func (p *process) close() {
	if p.closed {
		return
	}
	p.closed = true
	p.stdin.Close()
	p.stdout.Close()
	p.stderr.Close()
}

// decodeStatus follows the shell convention: signals map to 128+signo,
// so a SIGKILL shows up as 137.
func decodeStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
