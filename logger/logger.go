package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process logger. It is a no-op until Initialize runs so
	// packages can log from tests and init code.
	Logger = zap.NewNop().Sugar()

	// JSONOutput records whether Initialize chose the JSON encoder.
	JSONOutput bool

	level = zap.NewAtomicLevelAt(zap.WarnLevel)
)

// Initialize sets up the global logger on stderr; stdout is reserved for
// command output such as generated SQL. verbosity is the -v flag count.
func Initialize(jsonOutput bool, verbosity int) error {
	return InitializeTo(os.Stderr, jsonOutput, verbosity)
}

// InitializeTo is Initialize with an explicit destination.
func InitializeTo(w io.Writer, jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput
	level.SetLevel(VerbosityToLevel(verbosity))

	var enc zapcore.Encoder
	if jsonOutput {
		// daemon under a supervisor
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		enc = newMinimalEncoder()
	}
	Logger = zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).Sugar()
	return nil
}

// SetVerbosity changes the level of the global logger in place. Loggers
// derived from it with Named or With follow the change.
func SetVerbosity(verbosity int) {
	level.SetLevel(VerbosityToLevel(verbosity))
}

// Level returns the current global log level.
func Level() zapcore.Level {
	return level.Level()
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		Logger.Sync()
	}
}
