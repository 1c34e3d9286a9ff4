package prescan

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// every byte value repeated four times, maximal 8-bit entropy
func allBytes() []byte {
	data := make([]byte, 0, 1024)
	for range 4 {
		for b := range 256 {
			data = append(data, byte(b))
		}
	}
	return data
}

func Test_patternScore(t *testing.T) {
	tests := []struct {
		name string
		data string
		want float64
	}{
		{name: "empty", data: "", want: 0},
		{name: "no patterns", data: "hello world", want: 0},
		{name: "single pattern", data: "eval", want: 0.1},
		{name: "case folded", data: "EVAL", want: 0.1},
		{name: "overlapping patterns", data: "powershell", want: 0.2}, // powershell and shell
		{name: "fold joins across separators", data: "c m d", want: 0.1},
		{
			name: "saturates at ten",
			data: "eval exec cmd.exe http://x ftp bash loadlibrary getprocaddress virtualalloc createprocess createremotethread writeprocessmemory",
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := patternScore([]byte(tt.data)); !almostEqual(got, tt.want) {
				t.Errorf("patternScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_shannonEntropy(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{name: "empty", data: nil, want: 0},
		{name: "single symbol", data: bytes.Repeat([]byte{0xAA}, 100), want: 0},
		{name: "two symbols", data: []byte("aabb"), want: 1},
		{name: "uniform bytes", data: allBytes(), want: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shannonEntropy(tt.data); !almostEqual(got, tt.want) {
				t.Errorf("shannonEntropy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_entropyScore(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		entropy float64
		want    float64
	}{
		{name: "low entropy small file", size: 4, entropy: 2, want: 0.25},
		{name: "packed small file", size: 100, entropy: 7.5, want: 0.75},
		{name: "packed large file", size: 20000, entropy: 7.5, want: 0.55},
		{name: "medium entropy large file", size: 20000, entropy: 6.2, want: 0.4},
		{name: "medium entropy small file", size: 100, entropy: 6.6, want: 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entropyScore(make([]byte, tt.size), tt.entropy); !almostEqual(got, tt.want) {
				t.Errorf("entropyScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_detectBehaviors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		entropy float64
		want    []string
	}{
		{name: "empty", data: nil, want: nil},
		{name: "pe header", data: []byte("MZ\x90\x00"), want: []string{"Windows PE executable"}},
		{name: "elf header", data: []byte{0x7F, 'E', 'L', 'F', 0x02}, want: []string{"Linux ELF executable"}},
		{name: "shebang", data: []byte("#!/bin/sh\n"), want: []string{"script with shebang"}},
		{name: "embedded url", data: []byte("see https://example.com"), want: []string{"embedded URLs"}},
		{
			name:    "high entropy",
			data:    []byte("xyz"),
			entropy: 7.5,
			want:    []string{"high entropy (7.50) suggests packing or encryption"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectBehaviors(tt.data, tt.entropy)
			if len(got) != len(tt.want) {
				t.Fatalf("detectBehaviors() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("detectBehaviors()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAnalyzer_Execute(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "canceled context",
			test: func(t *testing.T) {
				ctx, cancel := context.WithCancel(t.Context())
				cancel()
				if _, _, err := New().Execute(ctx, []byte("data"), "test.bin", 0); err == nil {
					t.Error("Execute() with canceled context expected an error")
				}
			},
		},
		{
			name: "single pattern low entropy",
			test: func(t *testing.T) {
				// pattern 0.1, entropy 2.0 so entropy score 0.25
				score, confidence, err := New().Execute(t.Context(), []byte("eval"), "test.txt", 0)
				if err != nil {
					t.Fatalf("Execute() error = %v", err)
				}
				if !almostEqual(score, 0.16) {
					t.Errorf("Execute() score = %v, want 0.16", score)
				}
				if !almostEqual(confidence, 0.85) {
					t.Errorf("Execute() confidence = %v, want 0.85", confidence)
				}
			},
		},
		{
			name: "packed payload without strings",
			test: func(t *testing.T) {
				// pattern 0, entropy 8.0 so entropy score 0.75
				score, confidence, err := New().Execute(t.Context(), allBytes(), "blob.bin", 0)
				if err != nil {
					t.Fatalf("Execute() error = %v", err)
				}
				if !almostEqual(score, 0.3) {
					t.Errorf("Execute() score = %v, want 0.3", score)
				}
				if !almostEqual(confidence, 0.25) {
					t.Errorf("Execute() confidence = %v, want 0.25", confidence)
				}
			},
		},
		{
			name: "statistics accumulate",
			test: func(t *testing.T) {
				a := New()
				for range 3 {
					if _, _, err := a.Execute(t.Context(), []byte("content"), "f", 0); err != nil {
						t.Fatalf("Execute() error = %v", err)
					}
				}
				if a.Stats().Executions != 3 {
					t.Errorf("Stats().Executions = %d, want 3", a.Stats().Executions)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestInspect(t *testing.T) {
	r := Inspect([]byte("MZ\x90\x00 powershell https://evil.example"))
	if r.PatternScore <= 0 {
		t.Errorf("Inspect().PatternScore = %v, want > 0", r.PatternScore)
	}
	found := map[string]bool{}
	for _, b := range r.Behaviors {
		found[b] = true
	}
	for _, want := range []string{"Windows PE executable", "embedded URLs"} {
		if !found[want] {
			t.Errorf("Inspect().Behaviors missing %q, got %v", want, r.Behaviors)
		}
	}
	if strings.Contains(strings.Join(r.Behaviors, ","), "entropy") {
		t.Errorf("Inspect().Behaviors unexpectedly flagged entropy: %v", r.Behaviors)
	}
}
