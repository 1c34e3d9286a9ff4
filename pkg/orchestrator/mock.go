package orchestrator

import (
	"context"
	"time"

	"github.com/threatvet/threatvet/pkg/telemetry"
)

type MockFastTier struct {
	ExecuteMock func(ctx context.Context, data []byte, filename string, timeout time.Duration) (float64, float64, error)
}

func (m *MockFastTier) Execute(ctx context.Context, data []byte, filename string, timeout time.Duration) (float64, float64, error) {
	if m.ExecuteMock != nil {
		return m.ExecuteMock(ctx, data, filename, timeout)
	}
	panic("ExecuteMock not implemented")
}

type MockDeepTier struct {
	AnalyzeMock func(ctx context.Context, data []byte, filename string, timeout time.Duration) (*telemetry.BehavioralMetrics, error)
}

func (m *MockDeepTier) Analyze(ctx context.Context, data []byte, filename string, timeout time.Duration) (*telemetry.BehavioralMetrics, error) {
	if m.AnalyzeMock != nil {
		return m.AnalyzeMock(ctx, data, filename, timeout)
	}
	panic("AnalyzeMock not implemented")
}
