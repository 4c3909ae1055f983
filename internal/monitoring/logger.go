// Package monitoring provides the process-wide diagnostic logger.
//
// Log lines carry a bracket tag naming the subsystem that emitted them,
// e.g. [WS] for the streaming gateway, [PIPELINE] for the telemetry
// pipeline, [CACHE] for the replay log store.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagf logs with a subsystem tag prefix, e.g. Tagf("WS", "client connected").
func Tagf(tag, format string, v ...interface{}) {
	Logf("["+tag+"] "+format, v...)
}
