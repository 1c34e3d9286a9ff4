package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", value: "30s", want: 30 * time.Second},
		{name: "composite", value: "1h30m", want: 90 * time.Minute},
		{name: "invalid", value: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.Set(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && time.Duration(d) != tt.want {
				t.Errorf("Set() = %v, want %v", time.Duration(d), tt.want)
			}
		})
	}
}

func TestDuration_yaml(t *testing.T) {
	out, err := yaml.Marshal(Duration(45 * time.Second))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != "45s\n" {
		t.Errorf("Marshal() = %q, want %q", out, "45s\n")
	}
	var d Duration
	if err := yaml.Unmarshal([]byte("2m30s"), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if time.Duration(d) != 150*time.Second {
		t.Errorf("Unmarshal() = %v, want 2m30s", time.Duration(d))
	}
}

func TestSize(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int64
		wantErr bool
	}{
		{name: "mebibytes", value: "100MiB", want: 100 << 20},
		{name: "kibibytes", value: "4KiB", want: 4096},
		{name: "invalid", value: "large", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Size
			err := s.Set(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && int64(s) != tt.want {
				t.Errorf("Set() = %d, want %d", int64(s), tt.want)
			}
		})
	}
}

func TestSize_yamlInteger(t *testing.T) {
	var s Size
	if err := yaml.Unmarshal([]byte("4096"), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if int64(s) != 4096 {
		t.Errorf("Unmarshal() = %d, want 4096", int64(s))
	}
}

func TestConfig_yaml(t *testing.T) {
	raw := `
workers: 8
maxFileSize: 10MiB
pipeline:
  enableFast: true
  enableDeep: true
  fastTimeout: 2s
  deepTimeout: 45s
  deepTriggerScore: 0.4
sandbox:
  backend: nsjail
  maxMemory: 256MiB
  allowNetwork: true
verdict:
  thresholds:
    suspicious: 0.25
    malicious: 0.55
    critical: 0.75
cache:
  location: /tmp/verdicts.db
  validity: 168h
quarantine:
  location: /tmp/quarantine
  password: secret
monitoring:
  preScan: true
  modificationDelay: 10s
`
	cfg := New()
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if int64(cfg.MaxFileSize) != 10<<20 {
		t.Errorf("MaxFileSize = %d, want %d", int64(cfg.MaxFileSize), 10<<20)
	}
	if time.Duration(cfg.Pipeline.DeepTimeout) != 45*time.Second {
		t.Errorf("Pipeline.DeepTimeout = %v, want 45s", time.Duration(cfg.Pipeline.DeepTimeout))
	}
	if cfg.Pipeline.DeepTriggerScore != 0.4 {
		t.Errorf("Pipeline.DeepTriggerScore = %v, want 0.4", cfg.Pipeline.DeepTriggerScore)
	}
	if int64(cfg.Sandbox.MaxMemory) != 256<<20 {
		t.Errorf("Sandbox.MaxMemory = %d, want %d", int64(cfg.Sandbox.MaxMemory), 256<<20)
	}
	if !cfg.Sandbox.AllowNetwork {
		t.Error("Sandbox.AllowNetwork = false, want true")
	}
	if cfg.Verdict.Thresholds.Malicious != 0.55 {
		t.Errorf("Verdict.Thresholds.Malicious = %v, want 0.55", cfg.Verdict.Thresholds.Malicious)
	}
	// untouched sections keep their defaults
	if cfg.Verdict.Weights.Static != 0.30 {
		t.Errorf("Verdict.Weights.Static = %v, want default 0.30", cfg.Verdict.Weights.Static)
	}
	if cfg.Quarantine.Password != "secret" {
		t.Errorf("Quarantine.Password = %q, want %q", cfg.Quarantine.Password, "secret")
	}
	if time.Duration(cfg.Monitoring.ModificationDelay) != 10*time.Second {
		t.Errorf("Monitoring.ModificationDelay = %v, want 10s", time.Duration(cfg.Monitoring.ModificationDelay))
	}
}

func TestNew_defaults(t *testing.T) {
	cfg := New()
	if cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers, DefaultWorkers)
	}
	if !cfg.Pipeline.EnableFast || !cfg.Pipeline.EnableDeep {
		t.Error("both tiers should be enabled by default")
	}
	if cfg.Sandbox.Backend != DefaultBackend {
		t.Errorf("Sandbox.Backend = %q, want %q", cfg.Sandbox.Backend, DefaultBackend)
	}
	if int64(cfg.MaxFileSize) != 100<<20 {
		t.Errorf("MaxFileSize = %d, want %d", int64(cfg.MaxFileSize), 100<<20)
	}
	if cfg.Quarantine.Location == "" {
		t.Error("Quarantine.Location should have a default")
	}
}
