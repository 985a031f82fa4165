// Package monitoring holds the process-wide diagnostic logger shared by the
// solvers and the validation harness.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or long simulations can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with the WARNING prefix used across the tools.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}
