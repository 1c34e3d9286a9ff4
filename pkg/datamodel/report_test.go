package datamodel

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReportsWriter_Write(t *testing.T) {
	type args struct {
		rs []SandboxResult
	}
	tests := []struct {
		name        string
		initContent string
		args        args
		wantErr     bool
		want        string
	}{
		{
			name:        "append to existing array",
			initContent: "[\n{}\n]",
			args: args{
				rs: []SandboxResult{{Filename: "test", SHA256: "123456"}},
			},
			want: `[
{},
{"filename":"test","sha256":"123456","level":"clean","composite":0,"confidence":0,"tiers":{}}
]`,
		},
		{
			name:        "start empty file",
			initContent: "",
			args: args{
				rs: []SandboxResult{{Filename: "test", SHA256: "123456"}},
			},
			want: `[
{"filename":"test","sha256":"123456","level":"clean","composite":0,"confidence":0,"tiers":{}}
]`,
		},
		{
			name: "multiple writes stay valid",
			initContent: `[
{"filename":"test","sha256":"123456","level":"clean","composite":0,"confidence":0,"tiers":{}}
]`,
			args: args{
				rs: []SandboxResult{
					{Filename: "test2", SHA256: "1234567", Level: LevelMalicious},
					{Filename: "test3", SHA256: "1234568"},
				},
			},
			want: `[
{"filename":"test","sha256":"123456","level":"clean","composite":0,"confidence":0,"tiers":{}},
{"filename":"test2","sha256":"1234567","level":"malicious","composite":0,"confidence":0,"tiers":{}},
{"filename":"test3","sha256":"1234568","level":"clean","composite":0,"confidence":0,"tiers":{}}
]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := os.CreateTemp(os.TempDir(), "test_report_writer_*")
			if err != nil {
				t.Errorf("ReportsWriter.Write() error, could not create test tmp file, error: %s", err)
				return
			}
			if _, err := f.WriteString(tt.initContent); err != nil {
				t.Logf("Warning: failed to write test content: %v", err)
			}
			defer func() {
				if closeErr := f.Close(); closeErr != nil {
					t.Logf("Warning: failed to close temp file: %v", closeErr)
				}
			}()
			defer func() {
				if removeErr := os.Remove(f.Name()); removeErr != nil {
					t.Logf("Warning: failed to remove temp file: %v", removeErr)
				}
			}()
			rw := NewReportsWriter(f)
			for _, r := range tt.args.rs {
				if err := rw.Write(r); (err != nil) != tt.wantErr {
					t.Errorf("ReportsWriter.Write() error = %v, wantErr %v", err, tt.wantErr)
				}
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				t.Logf("Warning: failed to seek to start: %v", err)
			}
			buffer := &bytes.Buffer{}
			if _, err := io.Copy(buffer, f); err != nil {
				t.Logf("Warning: failed to copy file content: %v", err)
			}
			got := buffer.String()
			if got != tt.want {
				t.Errorf("ReportsWriter.Write() %s", cmp.Diff(got, tt.want))
			}
		})
	}
}

func TestThreatLevelRoundTrip(t *testing.T) {
	for _, level := range []ThreatLevel{LevelClean, LevelSuspicious, LevelMalicious, LevelCritical} {
		text, err := level.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s) error = %v", level, err)
		}
		var back ThreatLevel
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if back != level {
			t.Errorf("round trip %s -> %q -> %s", level, text, back)
		}
	}
	var l ThreatLevel
	if err := l.UnmarshalText([]byte("nonsense")); err == nil {
		t.Error("UnmarshalText(nonsense) expected error")
	}
}

func TestRenderText(t *testing.T) {
	r := &SandboxResult{
		Filename:    "sample.bin",
		SHA256:      "abc",
		Level:       LevelMalicious,
		Composite:   0.72,
		Confidence:  0.91,
		Explanation: "malicious behavior detected",
		Cached:      true,
	}
	out := RenderText(r)
	for _, want := range []string{"sample.bin", "malicious", "72%", "91%", "served from cache"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderText() missing %q in:\n%s", want, out)
		}
	}
}
