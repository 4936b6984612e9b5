package raft

// Logger is the injection point for diagnostic output; Node never talks to
// a global logger so that embedding programs control formatting and
// destination. Debug takes a verbosity level, matching the teacher's
// go-log convention of cheap, leveled debug calls.
type Logger interface {
	Debug(level int, format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// nopLogger discards everything; used when Config.Logger is nil so call
// sites never need a nil check.
type nopLogger struct{}

func (nopLogger) Debug(level int, format string, args ...interface{}) {}
func (nopLogger) Info(format string, args ...interface{})             {}
func (nopLogger) Error(format string, args ...interface{})            {}
