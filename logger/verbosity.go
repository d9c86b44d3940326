package logger

import "go.uber.org/zap/zapcore"

// Verbosity is the -v flag count, also settable as log.verbosity in am.toml.
const (
	VerbosityUser  = 0 // warnings, errors and suite outcomes
	VerbosityInfo  = 1 // -v: suite and job progress, daemon scans
	VerbosityDebug = 2 // -vv: chunks, generated SQL, skipped jobs
	VerbosityTrace = 3 // -vvv: same level as -vv; accepted so scripts passing -vvv keep working
)

// VerbosityToLevel maps a verbosity count to a zap level. Anything at or
// below zero is warnings only.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// LevelName describes a verbosity count for humans.
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityUser:
		return "warn"
	case verbosity == VerbosityInfo:
		return "info (-v)"
	default:
		return "debug (-vv)"
	}
}
