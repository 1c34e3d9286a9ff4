package telemetry

import "time"

// BehavioralMetrics aggregates everything observed during one sandbox
// execution: 16 counters across 5 behavior categories, the derived threat
// score, the human-readable findings and the execution outcome.
//
// A metrics value is created empty at the start of an analysis, mutated by
// ApplySyscall and the finalizing scorer, and treated as immutable once the
// analysis returns it.
type BehavioralMetrics struct {
	// File system behavior
	FileOperations   uint32 `json:"file-operations"`
	TempFileCreates  uint32 `json:"temp-file-creates"`
	HiddenFileCreate uint32 `json:"hidden-file-creates"`
	ExecutableDrops  uint32 `json:"executable-drops"`

	// Process and execution behavior
	ProcessOperations        uint32 `json:"process-operations"`
	SelfModificationAttempts uint32 `json:"self-modification-attempts"`
	PersistenceMechanisms    uint32 `json:"persistence-mechanisms"`

	// Network behavior
	NetworkOperations   uint32 `json:"network-operations"`
	OutboundConnections uint32 `json:"outbound-connections"`
	DNSQueries          uint32 `json:"dns-queries"`
	HTTPRequests        uint32 `json:"http-requests"`

	// System and privilege behavior
	RegistryOperations          uint32 `json:"registry-operations"`
	ServiceModifications        uint32 `json:"service-modifications"`
	PrivilegeEscalationAttempts uint32 `json:"privilege-escalation-attempts"`

	// Memory behavior
	MemoryOperations      uint32 `json:"memory-operations"`
	CodeInjectionAttempts uint32 `json:"code-injection-attempts"`

	// Derived values, filled in when the analysis finishes.
	ThreatScore float64   `json:"threat-score"`
	Findings    []Finding `json:"findings,omitempty"`

	// Execution outcome
	ExecutionTime time.Duration `json:"execution-time"`
	TimedOut      bool          `json:"timed-out"`
	ExitCode      int           `json:"exit-code"`
}

// Severity classifies a finding for the report consumer.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
)

// Finding is one human-readable detection with remediation guidance.
type Finding struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation,omitempty"`
}
