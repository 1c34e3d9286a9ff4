package sandbox

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name string
		ws   unix.WaitStatus
		want int
	}{
		{name: "clean exit", ws: unix.WaitStatus(0), want: 0},
		{name: "exit code three", ws: unix.WaitStatus(3 << 8), want: 3},
		{name: "killed", ws: unix.WaitStatus(int(unix.SIGKILL)), want: 137},
		{name: "segfault", ws: unix.WaitStatus(int(unix.SIGSEGV)), want: 139},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeStatus(tt.ws); got != tt.want {
				t.Errorf("decodeStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	if _, err := spawn([]string{"/nonexistent/backend"}, t.TempDir()); err == nil {
		t.Error("spawn() of missing binary expected error")
	}
	if _, err := spawn(nil, t.TempDir()); err == nil {
		t.Error("spawn() of empty command expected error")
	}
}

func TestProcessLifecycle(t *testing.T) {
	p, err := spawn([]string{"/bin/sh", "-c", "exit 7"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn() error = %v", err)
	}
	defer p.close()

	code, err := p.wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if code != 7 {
		t.Errorf("wait() = %d, want 7", code)
	}

	// reap is remembered, repeated calls stay cheap and correct
	done, code, err := p.exited()
	if err != nil || !done || code != 7 {
		t.Errorf("exited() after wait = %v/%d/%v, want true/7/nil", done, code, err)
	}

	// close is idempotent
	p.close()
	p.close()
}
