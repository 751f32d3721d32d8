// Package applog wires github.com/charmbracelet/log into a single logger
// shared by every command and library package in this module, the way the
// teacher's log.go attaches structured fields to every record before
// formatting it rather than calling fmt.Printf ad hoc.
package applog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New builds a logger for component (e.g. "transceiver", "protocol",
// "gateway") with the given minimum level.
func New(component string, level log.Level) *log.Logger {
	var l = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
		Level:           level,
		Prefix:          component,
	})

	return l
}

// ParseLevel is a thin wrapper over log.ParseLevel so CLI flag parsing
// doesn't need to import charmbracelet/log directly.
func ParseLevel(s string) (log.Level, error) {
	return log.ParseLevel(s)
}
