package sandbox

import (
	"bytes"

	"github.com/threatvet/threatvet/pkg/telemetry"
)

// heuristicMetrics estimates behavioral metrics from the payload bytes
// alone. Used when no isolation backend is installed, so the numbers are
// rough stand-ins for what a real run would count, good enough to rank
// obviously suspicious payloads above inert ones.
func heuristicMetrics(data []byte) *telemetry.BehavioralMetrics {
	m := &telemetry.BehavioralMetrics{}

	switch {
	case len(data) > 2 && data[0] == 'M' && data[1] == 'Z':
		// Windows PE
		m.FileOperations = 10
		m.ExecutableDrops = 1
	case len(data) > 4 && bytes.HasPrefix(data, []byte("\x7fELF")):
		m.FileOperations = 6
	}

	if containsAny(data, "/tmp/", "%TEMP%") {
		m.TempFileCreates = 3
	}
	if containsAny(data, "hidden", "/.") {
		m.HiddenFileCreate = 1
	}
	if containsAny(data, "CreateProcess", "exec", "fork") {
		m.ProcessOperations = 3
	}
	if containsAny(data, "VirtualProtect", "mprotect") {
		m.SelfModificationAttempts = 1
	}
	if containsAny(data, "crontab", "Startup", "RunOnce") {
		m.PersistenceMechanisms = 2
	}
	if containsAny(data, "socket", "connect", "send") {
		m.NetworkOperations = 5
	}
	if bytes.Contains(data, []byte("http://")) {
		m.OutboundConnections += 2
	}
	if bytes.Contains(data, []byte("https://")) {
		m.OutboundConnections++
	}
	if bytes.Contains(data, []byte("192.168.")) {
		m.OutboundConnections++
	}
	if containsAny(data, ".com", ".org", ".net") {
		m.DNSQueries = 3
	}
	if containsAny(data, "GET", "POST", "User-Agent") {
		m.HTTPRequests = 4
	}

	m.ExitCode = 0
	m.TimedOut = false
	return m
}

func containsAny(data []byte, patterns ...string) bool {
	for _, p := range patterns {
		if bytes.Contains(data, []byte(p)) {
			return true
		}
	}
	return false
}
