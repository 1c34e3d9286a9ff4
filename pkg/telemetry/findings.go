package telemetry

import "fmt"

// Summarize converts a metrics snapshot into an ordered list of findings,
// most severe first. It is pure: the same metrics always produce the same
// findings, and the metrics value is not modified.
func Summarize(m *BehavioralMetrics) (findings []Finding) {
	add := func(sev Severity, desc, remediation string) {
		findings = append(findings, Finding{Severity: sev, Description: desc, Remediation: remediation})
	}

	// direct critical signals
	if m.CodeInjectionAttempts > 0 {
		add(SeverityCritical,
			fmt.Sprintf("code injection detected (%d attempts via ptrace/process_vm_writev/mprotect)", m.CodeInjectionAttempts),
			"kill the process immediately, the payload is attempting process hijacking")
	}
	if m.PrivilegeEscalationAttempts > 0 {
		add(SeverityCritical,
			fmt.Sprintf("privilege escalation attempted (%d attempts)", m.PrivilegeEscalationAttempts),
			"quarantine the file, review setuid/mount/namespace operations")
	}
	if m.SelfModificationAttempts > 0 {
		add(SeverityCritical,
			"self-modification detected (runtime code patching)",
			"strong indicator of packed or obfuscated malware, quarantine the file")
	}

	// archetype detectors, each needs a primary plus corroborating signals
	if detectRansomware(m) {
		add(SeverityHigh,
			fmt.Sprintf("ransomware pattern: %d file operations with rapid modification and deletion, %d temp files, %d outbound connections",
				m.FileOperations, m.TempFileCreates, m.OutboundConnections),
			"immediate quarantine, the file shows encryption behavior")
	}
	if detectCryptominer(m) {
		add(SeverityHigh,
			fmt.Sprintf("cryptominer pattern: %d network operations to %d destinations with %d memory operations and %d process spawns",
				m.NetworkOperations, m.OutboundConnections, m.MemoryOperations, m.ProcessOperations),
			"block network access and terminate the process")
	}
	if detectKeylogger(m) {
		add(SeverityHigh,
			fmt.Sprintf("keylogger pattern: %d file operations, %d hidden files, %d outbound connections",
				m.FileOperations, m.HiddenFileCreate, m.OutboundConnections),
			"inspect file writes to hidden locations for captured input")
	}
	if detectRootkit(m) {
		add(SeverityHigh,
			fmt.Sprintf("rootkit pattern: %d privilege escalation attempts, %d service modifications",
				m.PrivilegeEscalationAttempts, m.ServiceModifications),
			"system compromise likely, run a full scan")
	}
	if detectProcessInjector(m) {
		add(SeverityHigh,
			fmt.Sprintf("process injector pattern: %d injection attempts, %d memory operations",
				m.CodeInjectionAttempts, m.MemoryOperations),
			"quarantine, the payload tries to hide in legitimate processes")
	}

	if m.ExecutableDrops > 0 {
		add(SeverityHigh,
			fmt.Sprintf("executable file dropped to disk (%d files)", m.ExecutableDrops),
			"quarantine dropped executables before they run")
	}
	if m.PersistenceMechanisms > 0 {
		add(SeverityHigh,
			fmt.Sprintf("persistence mechanism installation detected (%d mechanisms)", m.PersistenceMechanisms),
			"check autostart entries, cron jobs and service units")
	}
	if m.OutboundConnections > 3 {
		add(SeverityHigh,
			fmt.Sprintf("multiple outbound connections (%d destinations), likely command-and-control traffic", m.OutboundConnections),
			"block network access and extract destinations for blocklisting")
	}

	// medium signals
	if m.FileOperations > 10 {
		add(SeverityMedium,
			fmt.Sprintf("excessive file operations (%d total)", m.FileOperations),
			"review file access patterns for data theft or encryption")
	}
	if m.TempFileCreates > 3 {
		add(SeverityMedium,
			fmt.Sprintf("multiple temporary file creations (%d files)", m.TempFileCreates),
			"inspect temp directories for dropped payloads")
	}
	if m.HiddenFileCreate > 0 {
		add(SeverityMedium,
			fmt.Sprintf("hidden file creation detected (%d files)", m.HiddenFileCreate),
			"search for dotfiles in user directories")
	}
	if m.ProcessOperations > 5 {
		add(SeverityMedium,
			fmt.Sprintf("multiple process creation operations (%d total)", m.ProcessOperations),
			"review the child process tree")
	}
	if m.NetworkOperations > 5 {
		add(SeverityMedium,
			fmt.Sprintf("network activity: %d operations, %d DNS queries, %d HTTP requests",
				m.NetworkOperations, m.DNSQueries, m.HTTPRequests),
			"inspect traffic for exfiltration")
	}
	if m.DNSQueries > 5 {
		add(SeverityMedium,
			fmt.Sprintf("suspicious DNS query pattern (%d queries), possible domain generation algorithm", m.DNSQueries),
			"review DNS logs for generated domains")
	}
	if m.RegistryOperations > 5 {
		add(SeverityMedium,
			fmt.Sprintf("registry modifications detected (%d operations)", m.RegistryOperations),
			"review autorun registry keys")
	}
	if m.MemoryOperations > 5 {
		add(SeverityMedium,
			fmt.Sprintf("suspicious memory operations (%d mmap/mprotect calls)", m.MemoryOperations),
			"investigate for writable-executable pages")
	}

	if len(findings) == 0 {
		add(SeverityInfo,
			"no significant suspicious behavior detected",
			"")
	}
	return findings
}

// detectRansomware: heavy file churn as primary signal, with at least one
// corroborating signal (dropped payloads, temp staging or network beaconing).
func detectRansomware(m *BehavioralMetrics) bool {
	if m.FileOperations <= 50 {
		return false
	}
	if m.FileOperations > 100 {
		return true
	}
	if m.ExecutableDrops > 0 || m.TempFileCreates > 5 {
		return true
	}
	return m.OutboundConnections > 0
}

// detectCryptominer: pool beaconing plus resource-intensive operation.
func detectCryptominer(m *BehavioralMetrics) bool {
	beaconing := m.NetworkOperations > 10 && m.OutboundConnections > 5
	if !beaconing {
		return false
	}
	return m.MemoryOperations > 20 || m.ProcessOperations > 5 || m.PersistenceMechanisms > 0
}

// detectKeylogger: needs two of file logging, hidden output, exfiltration
// and persistence; a single signal is too common in benign software.
func detectKeylogger(m *BehavioralMetrics) bool {
	indicators := 0
	if m.FileOperations > 10 && m.FileOperations < 100 {
		indicators++
	}
	if m.HiddenFileCreate > 0 {
		indicators++
	}
	if m.OutboundConnections > 0 && m.NetworkOperations > 5 {
		indicators++
	}
	if m.PersistenceMechanisms > 0 {
		indicators++
	}
	return indicators >= 2
}

// detectRootkit: privilege escalation is conclusive on its own; otherwise
// look for combined system manipulation.
func detectRootkit(m *BehavioralMetrics) bool {
	if m.PrivilegeEscalationAttempts > 0 {
		return true
	}
	if m.ServiceModifications > 0 {
		return true
	}
	if m.FileOperations > 20 && m.ProcessOperations > 3 {
		return true
	}
	return m.MemoryOperations > 10 && m.CodeInjectionAttempts > 0
}

// detectProcessInjector: direct injection attempts are conclusive; memory
// manipulation combined with process activity is the indirect variant.
func detectProcessInjector(m *BehavioralMetrics) bool {
	if m.CodeInjectionAttempts > 0 {
		return true
	}
	if m.MemoryOperations > 10 && m.ProcessOperations > 3 {
		return true
	}
	return m.SelfModificationAttempts > 0 && m.ProcessOperations > 0
}
