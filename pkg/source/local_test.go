package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocal_Fetch(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "fetch a file",
			test: func(t *testing.T) {
				tmpDir := t.TempDir()
				location := filepath.Join(tmpDir, "sample.bin")
				if err := os.WriteFile(location, []byte("payload bytes"), 0o640); err != nil {
					t.Fatalf("could not write test file: %s", err)
				}
				data, name, err := (&Local{}).Fetch(t.Context(), location)
				if err != nil {
					t.Fatalf("Fetch() error = %v", err)
				}
				if string(data) != "payload bytes" {
					t.Errorf("Fetch() data = %q, want %q", data, "payload bytes")
				}
				if name != "sample.bin" {
					t.Errorf("Fetch() name = %q, want %q", name, "sample.bin")
				}
			},
		},
		{
			name: "missing file",
			test: func(t *testing.T) {
				_, _, err := (&Local{}).Fetch(t.Context(), filepath.Join(t.TempDir(), "missing"))
				if !errors.Is(err, os.ErrNotExist) {
					t.Errorf("Fetch() error = %v, want os.ErrNotExist", err)
				}
			},
		},
		{
			name: "directory rejected",
			test: func(t *testing.T) {
				if _, _, err := (&Local{}).Fetch(t.Context(), t.TempDir()); err == nil {
					t.Error("Fetch() on a directory expected an error")
				}
			},
		},
		{
			name: "size limit",
			test: func(t *testing.T) {
				tmpDir := t.TempDir()
				location := filepath.Join(tmpDir, "big.bin")
				if err := os.WriteFile(location, make([]byte, 64), 0o640); err != nil {
					t.Fatalf("could not write test file: %s", err)
				}
				_, _, err := (&Local{MaxSize: 32}).Fetch(t.Context(), location)
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("Fetch() error = %v, want ErrTooLarge", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestIsS3(t *testing.T) {
	tests := []struct {
		location string
		want     bool
	}{
		{location: "s3://bucket/key", want: true},
		{location: "/var/tmp/file", want: false},
		{location: "s3:/bucket", want: false},
	}
	for _, tt := range tests {
		if got := IsS3(tt.location); got != tt.want {
			t.Errorf("IsS3(%q) = %v, want %v", tt.location, got, tt.want)
		}
	}
}
