//go:build !linux

package util

import (
	"io"
	"log"
	"os"
)

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the current log writer (for use by other packages)
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging tags stderr lines with the service name, journald only exists on linux
func SetupLogging(withJournald bool) {
	log.SetPrefix(Name + " ")
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	if withJournald {
		log.Println("Warning: Journald logging is not supported on this operating system")
	}
}
