//go:build linux

package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// journaldWriter forwards each log line to journald
type journaldWriter struct{}

func (w *journaldWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSuffix(string(p), "\n")

	err = journal.Send(msg, linePriority(msg), map[string]string{
		"SYSLOG_IDENTIFIER": Name,
	})
	if err != nil {
		return fmt.Fprintf(os.Stderr, "%s", p)
	}
	return len(p), nil
}

// linePriority maps the prefixes used across the codebase to journald priorities
func linePriority(msg string) journal.Priority {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "failed") || strings.Contains(lower, "error"):
		return journal.PriErr
	case strings.Contains(lower, "warning"):
		return journal.PriWarning
	default:
		return journal.PriInfo
	}
}

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the current log writer (for use by other packages)
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging routes the standard logger to journald when requested and available
func SetupLogging(withJournald bool) {
	if !withJournald {
		return
	}
	if !journal.Enabled() {
		log.Println("Warning: Journald not available on this system; using standard logging")
		return
	}

	logWriter = &journaldWriter{}
	log.SetOutput(logWriter)
	log.SetFlags(0) // journald adds its own timestamps
	log.Println("Logging initialized with journald support")
}
