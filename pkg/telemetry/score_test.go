package telemetry

import "testing"

func TestComputeThreatScore(t *testing.T) {
	tests := []struct {
		name    string
		metrics BehavioralMetrics
		min     float64
		max     float64
	}{
		{
			name:    "empty metrics score zero",
			metrics: BehavioralMetrics{},
			min:     0.0,
			max:     0.0,
		},
		{
			name: "single escalation attempt dominates system category",
			metrics: BehavioralMetrics{
				PrivilegeEscalationAttempts: 1,
			},
			min: 0.7 * systemWeight,
			max: 0.7*systemWeight + 1e-9,
		},
		{
			name: "everything maxed stays at one",
			metrics: BehavioralMetrics{
				FileOperations:              10000,
				TempFileCreates:             100,
				HiddenFileCreate:            100,
				ExecutableDrops:             100,
				ProcessOperations:           10000,
				SelfModificationAttempts:    100,
				PersistenceMechanisms:       100,
				NetworkOperations:           10000,
				OutboundConnections:         1000,
				DNSQueries:                  1000,
				HTTPRequests:                1000,
				RegistryOperations:          1000,
				ServiceModifications:        100,
				PrivilegeEscalationAttempts: 100,
				MemoryOperations:            10000,
				CodeInjectionAttempts:       100,
			},
			min: 1.0,
			max: 1.0,
		},
		{
			name: "injection alone lands in the memory category",
			metrics: BehavioralMetrics{
				CodeInjectionAttempts: 5,
			},
			min: memoryWeight - 1e-9,
			max: memoryWeight + 1e-9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeThreatScore(&tt.metrics)
			if got < tt.min || got > tt.max {
				t.Errorf("ComputeThreatScore() = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
			if got < 0.0 || got > 1.0 {
				t.Errorf("ComputeThreatScore() = %v, out of [0,1]", got)
			}
		})
	}
}

// Adding activity must never lower the score.
func TestComputeThreatScoreMonotone(t *testing.T) {
	m := BehavioralMetrics{}
	prev := ComputeThreatScore(&m)
	bump := []func(*BehavioralMetrics){
		func(m *BehavioralMetrics) { m.FileOperations += 60 },
		func(m *BehavioralMetrics) { m.OutboundConnections += 3 },
		func(m *BehavioralMetrics) { m.CodeInjectionAttempts++ },
		func(m *BehavioralMetrics) { m.PrivilegeEscalationAttempts++ },
		func(m *BehavioralMetrics) { m.ExecutableDrops++ },
		func(m *BehavioralMetrics) { m.ProcessOperations += 10 },
		func(m *BehavioralMetrics) { m.MemoryOperations += 50 },
		func(m *BehavioralMetrics) { m.DNSQueries += 20 },
	}
	for i, f := range bump {
		f(&m)
		got := ComputeThreatScore(&m)
		if got < prev {
			t.Fatalf("score decreased after bump %d: %v -> %v", i, prev, got)
		}
		prev = got
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name         string
		metrics      BehavioralMetrics
		wantSeverity Severity
		wantContains int
	}{
		{
			name:         "clean metrics yield a single info finding",
			metrics:      BehavioralMetrics{},
			wantSeverity: SeverityInfo,
			wantContains: 1,
		},
		{
			name: "injection leads with critical",
			metrics: BehavioralMetrics{
				CodeInjectionAttempts: 2,
				MemoryOperations:      15,
			},
			wantSeverity: SeverityCritical,
		},
		{
			name: "ransomware archetype fires on churn plus beaconing",
			metrics: BehavioralMetrics{
				FileOperations:      80,
				OutboundConnections: 1,
				NetworkOperations:   2,
			},
			wantSeverity: SeverityHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(&tt.metrics)
			if len(got) == 0 {
				t.Fatal("Summarize() returned no findings")
			}
			if tt.wantContains != 0 && len(got) != tt.wantContains {
				t.Errorf("Summarize() returned %d findings, want %d", len(got), tt.wantContains)
			}
			if got[0].Severity != tt.wantSeverity {
				t.Errorf("Summarize()[0].Severity = %s, want %s", got[0].Severity, tt.wantSeverity)
			}
			// idempotence
			again := Summarize(&tt.metrics)
			if len(again) != len(got) {
				t.Errorf("Summarize() not idempotent: %d then %d findings", len(got), len(again))
			}
		})
	}
}
