// Package plog sets up the op/go-logging logger every proximate
// connection uses by default, in the same shape the teacher's own
// (unretrieved) common/log package is called with from krd/main.go:
// SetupLogging(module, level, ...).
package plog

import (
	"os"

	"github.com/op/go-logging"
)

var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{shortfunc} ▶ %{level:.4s}%{color:reset} %{message}`,
)

// SetupLogging returns a *logging.Logger named module, logging to
// stderr at level, with the teacher's colorized formatter.
func SetupLogging(module string, level logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, module)
	logging.SetBackend(leveled)
	return logging.MustGetLogger(module)
}

// Default is the package-level logger used when a Connection is not
// given one explicitly via WithLogger.
var Default = SetupLogging("proximate", logging.INFO)
