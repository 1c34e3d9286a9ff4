package datamodel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// ReportsWriter appends results to a JSON array on disk, keeping the file
// a valid document after every write so a crashed run still leaves a
// readable report.
type ReportsWriter struct {
	dst io.WriteSeeker
}

func NewReportsWriter(dst io.WriteSeeker) *ReportsWriter {
	return &ReportsWriter{dst: dst}
}

func (rw *ReportsWriter) Write(r SandboxResult) (err error) {
	// try to seek above last "\n]"
	n, _ := rw.dst.Seek(-2, io.SeekEnd)
	out := bufio.NewWriter(rw.dst)
	if n == 0 {
		// start of file
		if _, err = out.WriteString("[\n"); err != nil {
			return
		}
	} else {
		if _, err = out.WriteString(",\n"); err != nil {
			return
		}
	}

	encoder := json.NewEncoder(out)
	err = encoder.Encode(r)
	if err != nil {
		return
	}
	if _, err = out.WriteString("]"); err != nil {
		return
	}
	if flushErr := out.Flush(); flushErr != nil {
		logger.Error("failed to flush buffer", slog.String("error", flushErr.Error()))
	}
	return
}

// RenderText formats a result for terminal output.
func RenderText(r *SandboxResult) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s: %s (score %.0f%%, confidence %.0f%%)\n",
		r.Filename, r.Level, r.Composite*100, r.Confidence*100)
	if r.Explanation != "" {
		fmt.Fprintf(b, "  %s\n", r.Explanation)
	}
	if r.SHA256 != "" {
		fmt.Fprintf(b, "  sha256: %s\n", r.SHA256)
	}
	if r.Cached {
		fmt.Fprintf(b, "  served from cache\n")
	}
	if r.TimedOut {
		fmt.Fprintf(b, "  execution timed out and was killed\n")
	}
	if r.Duration > 0 {
		fmt.Fprintf(b, "  analysis time: %s\n", r.Duration.Round(time.Millisecond))
	}
	for _, f := range r.Findings {
		fmt.Fprintf(b, "  [%s] %s\n", f.Severity, f.Description)
		if f.Remediation != "" {
			fmt.Fprintf(b, "      remediation: %s\n", f.Remediation)
		}
	}
	return b.String()
}
