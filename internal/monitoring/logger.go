package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the linking packages.
// It defaults to log.Printf; commands route it into their structured logger
// with SetLogger and tests can mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Verbosef logs through Logf only when verbose is set. Stages that expose a
// verbose flag use it so the flag can never influence anything but output.
func Verbosef(verbose bool, format string, v ...interface{}) {
	if !verbose {
		return
	}
	Logf(format, v...)
}
