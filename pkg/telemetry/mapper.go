package telemetry

// ApplySyscall maps a monitored operation name onto the behavioral counters.
// It runs once per telemetry line, so dispatch is a flat switch on the name
// rather than a map lookup; the category set is small and fixed.
//
// Counters only ever increase. Names that are not listed here are benign
// (stat, lseek, futex, clock_gettime, ...) and intentionally unmapped so they
// do not dilute the signal.
func ApplySyscall(name string, m *BehavioralMetrics) {
	switch name {
	// File system: open/create
	case "open", "openat", "openat2", "creat":
		m.FileOperations++

	// File system: data transfer
	case "write", "pwrite64", "writev", "pwritev", "pwritev2",
		"read", "pread64", "readv", "preadv", "preadv2":
		m.FileOperations++

	// File system: deletion, a rapid burst of these is a ransomware signal
	case "unlink", "unlinkat", "rmdir":
		m.FileOperations++

	// File system: rename, same signal as deletion
	case "rename", "renameat", "renameat2":
		m.FileOperations++

	// File system: directory and metadata changes
	case "mkdir", "mkdirat",
		"chmod", "fchmod", "fchmodat",
		"chown", "fchown", "fchownat", "lchown",
		"truncate", "ftruncate":
		m.FileOperations++

	// Process creation and execution
	case "fork", "vfork", "clone", "clone3", "execve", "execveat":
		m.ProcessOperations++

	// Debugging and cross-process memory access: the primary injection
	// vectors on Linux. ptrace in a sandboxed payload is never legitimate.
	case "ptrace", "process_vm_readv", "process_vm_writev":
		m.CodeInjectionAttempts++

	// Network: socket lifecycle
	case "socket":
		m.NetworkOperations++
	case "connect":
		m.NetworkOperations++
		m.OutboundConnections++
	case "bind", "listen", "accept", "accept4":
		m.NetworkOperations++

	// Network: data transfer and options
	case "send", "sendto", "sendmsg", "sendmmsg",
		"recv", "recvfrom", "recvmsg", "recvmmsg",
		"setsockopt", "getsockopt":
		m.NetworkOperations++

	// Memory mapping
	case "mmap", "mmap2", "mremap", "munmap", "brk":
		m.MemoryOperations++

	// mprotect counts double: a protection change on an existing mapping is
	// how shellcode pages are made executable, so it also scores as an
	// injection attempt. This weights it several times above a plain mmap.
	case "mprotect":
		m.MemoryOperations++
		m.CodeInjectionAttempts++

	// Identity changes
	case "setuid", "setuid32", "setgid", "setgid32",
		"setreuid", "setregid", "setresuid", "setresgid",
		"setfsuid", "setfsgid":
		m.PrivilegeEscalationAttempts++

	// Capabilities
	case "capset", "capget":
		m.PrivilegeEscalationAttempts++

	// Filesystem and namespace manipulation, container escape attempts
	case "mount", "umount", "umount2", "pivot_root", "unshare", "setns", "chroot":
		m.PrivilegeEscalationAttempts++

	// Kernel module loading
	case "init_module", "delete_module", "finit_module":
		m.PrivilegeEscalationAttempts++

	// System control, blocked outright by the backend policy but tracked
	case "reboot", "kexec_load", "kexec_file_load",
		"ioperm", "iopl", "syslog", "quotactl":
		m.PrivilegeEscalationAttempts++
	}
}
