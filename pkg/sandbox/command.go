package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// configSearchPaths is the lookup order for the backend isolation profile,
// from installed locations down to a development checkout.
var configSearchPaths = []string{
	"/etc/threatvet/sandbox.cfg",
	"/usr/local/share/threatvet/sandbox.cfg",
	"configs/sandbox.cfg",
	"sandbox.cfg",
}

func locateConfigFile(explicit string) (path string, err error) {
	if explicit != "" {
		if _, err = os.Stat(explicit); err != nil {
			return "", fmt.Errorf("sandbox profile %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, p := range configSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no sandbox profile found in search paths")
}

// buildCommand assembles the backend invocation. The profile carries the
// static isolation settings; time, memory and network limits are passed
// explicitly so per-call configuration wins over the profile.
func buildCommand(backendPath, configPath, scratchDir, exePath string, timeout time.Duration, cfg Config) (argv []string) {
	// the backend takes whole seconds, round up so short timeouts still apply
	seconds := int((timeout + time.Second - 1) / time.Second)
	argv = []string{
		backendPath,
		"-C", configPath,
		"--bindmount", scratchDir,
		"--time_limit", strconv.Itoa(seconds),
		"--rlimit_as", strconv.FormatInt(cfg.MaxMemoryBytes, 10),
	}
	if !cfg.AllowNetwork {
		argv = append(argv, "--disable_clone_newnet", "false")
	}
	if cfg.Debug {
		argv = append(argv, "--log_level", "DEBUG")
	}
	argv = append(argv, "--", exePath)
	return argv
}
