package telemetry

// Category weights for the composite behavioral score. The five category
// contributions are each capped at 1.0 before weighting, so the weighted sum
// stays in [0,1].
const (
	fileWeight    = 0.25
	processWeight = 0.25
	networkWeight = 0.25
	systemWeight  = 0.15
	memoryWeight  = 0.10
)

// ComputeThreatScore derives the composite behavioral score in [0,1] from the
// raw counters. Each category is a sum of threshold indicators: crossing a
// threshold adds a fixed amount, so the score is monotone in every counter.
func ComputeThreatScore(m *BehavioralMetrics) float64 {
	score := fileScore(m)*fileWeight +
		processScore(m)*processWeight +
		networkScore(m)*networkWeight +
		systemScore(m)*systemWeight +
		memoryScore(m)*memoryWeight
	return clamp01(score)
}

func fileScore(m *BehavioralMetrics) float64 {
	s := 0.0
	if m.FileOperations > 50 {
		s += 0.3
	}
	if m.FileOperations > 200 {
		s += 0.3
	}
	if m.ExecutableDrops > 0 {
		s += 0.3
	}
	if m.ExecutableDrops > 3 {
		s += 0.2
	}
	if m.HiddenFileCreate > 0 {
		s += 0.2
	}
	if m.TempFileCreates > 5 {
		s += 0.2
	}
	return cap1(s)
}

func processScore(m *BehavioralMetrics) float64 {
	s := 0.0
	if m.ProcessOperations > 5 {
		s += 0.3
	}
	if m.ProcessOperations > 20 {
		s += 0.3
	}
	if m.SelfModificationAttempts > 0 {
		s += 0.4
	}
	if m.PersistenceMechanisms > 0 {
		s += 0.4
	}
	return cap1(s)
}

func networkScore(m *BehavioralMetrics) float64 {
	s := 0.0
	if m.OutboundConnections >= 2 {
		s += 0.2
	}
	if m.OutboundConnections >= 5 {
		s += 0.3
	}
	if m.OutboundConnections > 10 {
		s += 0.3
	}
	if m.NetworkOperations > 10 {
		s += 0.2
	}
	if m.DNSQueries > 10 {
		s += 0.3
	}
	if m.HTTPRequests > 3 {
		s += 0.2
	}
	return cap1(s)
}

func systemScore(m *BehavioralMetrics) float64 {
	s := 0.0
	// any escalation attempt is close to conclusive inside the sandbox
	switch {
	case m.PrivilegeEscalationAttempts > 5:
		s += 1.0
	case m.PrivilegeEscalationAttempts > 1:
		s += 0.85
	case m.PrivilegeEscalationAttempts == 1:
		s += 0.7
	}
	if m.ServiceModifications > 0 {
		s += 0.3
	}
	if m.RegistryOperations > 5 {
		s += 0.2
	}
	return cap1(s)
}

func memoryScore(m *BehavioralMetrics) float64 {
	s := 0.0
	switch {
	case m.CodeInjectionAttempts > 3:
		s += 1.0
	case m.CodeInjectionAttempts > 1:
		s += 0.8
	case m.CodeInjectionAttempts == 1:
		s += 0.6
	}
	if m.MemoryOperations > 20 {
		s += 0.3
	}
	if m.MemoryOperations > 100 {
		s += 0.3
	}
	return cap1(s)
}

func cap1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
