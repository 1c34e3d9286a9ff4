package telemetry

import "strings"

const syscallMarker = "[SYSCALL]"

// SyscallEvent is a single monitored operation reported by the isolation
// backend, one per telemetry line. The name is authoritative; args are
// best-effort and advisory only.
type SyscallEvent struct {
	Name string
	Args []string
}

// ParseSyscallEvent parses one line of backend telemetry.
// Expected format: [SYSCALL] name(arg1, arg2, ...)
//
// Lines without the [SYSCALL] marker are backend noise and yield no event.
// The argument list is split on commas without nested-parenthesis or quote
// handling; this is intentional, arguments are advisory only. A line with a
// name but no closing parenthesis yields a name-only event. Parsing never
// fails: a malformed line yields ok=false, never an error.
func ParseSyscallEvent(line string) (event SyscallEvent, ok bool) {
	if !strings.HasPrefix(line, syscallMarker) {
		return
	}
	content := strings.TrimSpace(line[len(syscallMarker):])
	if content == "" {
		return
	}

	open := strings.IndexByte(content, '(')
	if open < 0 {
		// bare name, e.g. "[SYSCALL] getpid"
		event.Name = content
		ok = true
		return
	}

	name := strings.TrimSpace(content[:open])
	if name == "" {
		return
	}
	event.Name = name
	ok = true

	rest := content[open+1:]
	closing := strings.IndexByte(rest, ')')
	if closing < 0 {
		// unmatched paren: keep the name, drop the args
		return
	}

	rawArgs := strings.TrimSpace(rest[:closing])
	if rawArgs == "" {
		return
	}
	for _, part := range strings.Split(rawArgs, ",") {
		if arg := strings.TrimSpace(part); arg != "" {
			event.Args = append(event.Args, arg)
		}
	}
	return
}
