// Package sym defines the glyphs datapump prints in logs and CLI output.
// These symbols are stable across log lines, CLI tables and documentation.
package sym

// Pipeline symbols.
const (
	Pump    = "⇶" // a job moving records from source to target
	Source  = "⇱" // the remote table source
	Target  = "⇲" // the target sink
	Suite   = "≣" // a suite of jobs
	Scanner = "꩜" // the daemon scheduling pass
	Open    = "✿" // startup
	Close   = "❀" // graceful shutdown
	DB      = "⊔" // local status store
	AM      = "≡" // configuration
)

// Status glyphs used by `datapump suite ls`.
const (
	StatusOK      = "✔"
	StatusFailed  = "✘"
	StatusRunning = "▶"
	StatusWaiting = "…"
)

var commands = map[string]string{
	Pump:  "run",
	Suite: "suite",
	DB:    "db",
	AM:    "am",
}

// CommandFor returns the CLI command associated with a symbol, if any.
func CommandFor(symbol string) (string, bool) {
	cmd, ok := commands[symbol]
	return cmd, ok
}
