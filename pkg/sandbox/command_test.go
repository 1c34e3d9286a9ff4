package sandbox

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBuildCommand(t *testing.T) {
	type args struct {
		timeout time.Duration
		cfg     Config
	}
	tests := []struct {
		name string
		args args
		want []string
	}{
		{
			name: "network isolated by default",
			args: args{
				timeout: 10 * time.Second,
				cfg:     Config{MaxMemoryBytes: 512 << 20},
			},
			want: []string{
				"/usr/bin/nsjail",
				"-C", "/etc/profile.cfg",
				"--bindmount", "/tmp/scratch",
				"--time_limit", "10",
				"--rlimit_as", "536870912",
				"--disable_clone_newnet", "false",
				"--", "/tmp/scratch/sample",
			},
		},
		{
			name: "network allowed drops the namespace flag",
			args: args{
				timeout: 10 * time.Second,
				cfg:     Config{MaxMemoryBytes: 1024, AllowNetwork: true},
			},
			want: []string{
				"/usr/bin/nsjail",
				"-C", "/etc/profile.cfg",
				"--bindmount", "/tmp/scratch",
				"--time_limit", "10",
				"--rlimit_as", "1024",
				"--", "/tmp/scratch/sample",
			},
		},
		{
			name: "debug raises backend log level",
			args: args{
				timeout: 10 * time.Second,
				cfg:     Config{MaxMemoryBytes: 1024, AllowNetwork: true, Debug: true},
			},
			want: []string{
				"/usr/bin/nsjail",
				"-C", "/etc/profile.cfg",
				"--bindmount", "/tmp/scratch",
				"--time_limit", "10",
				"--rlimit_as", "1024",
				"--log_level", "DEBUG",
				"--", "/tmp/scratch/sample",
			},
		},
		{
			name: "sub-second timeout rounds up",
			args: args{
				timeout: 500 * time.Millisecond,
				cfg:     Config{MaxMemoryBytes: 1024, AllowNetwork: true},
			},
			want: []string{
				"/usr/bin/nsjail",
				"-C", "/etc/profile.cfg",
				"--bindmount", "/tmp/scratch",
				"--time_limit", "1",
				"--rlimit_as", "1024",
				"--", "/tmp/scratch/sample",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildCommand("/usr/bin/nsjail", "/etc/profile.cfg", "/tmp/scratch", "/tmp/scratch/sample", tt.args.timeout, tt.args.cfg)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("buildCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocateConfigFileExplicit(t *testing.T) {
	if _, err := locateConfigFile("/nonexistent/profile.cfg"); err == nil {
		t.Error("locateConfigFile() with missing explicit path expected error")
	}
}
