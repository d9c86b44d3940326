package errors

import (
	"context"
	"fmt"
)

// Kind classifies a failure for the suite controller and the daemon.
type Kind int

const (
	KindUnknown Kind = iota
	KindInit
	KindExec
	KindModel
	KindCancellation
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindExec:
		return "exec"
	case KindModel:
		return "model"
	case KindCancellation:
		return "cancellation"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Marks carried by classified errors. Test with errors.Is.
var (
	ErrInit      = New("initialization failure")
	ErrExec      = New("execution failure")
	ErrModel     = New("job model failure")
	ErrCancelled = New("cancelled")
	ErrInvariant = New("invariant violation")
	ErrProtocol  = New("protocol violation")
	ErrLoadLimit = New("load limit exceeded")
)

// NewInit creates an initialization error.
func NewInit(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInit)
}

// WrapInit marks err as an initialization failure.
func WrapInit(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrInit)
}

// WrapExec marks err as an execution (I/O or SQL) failure. Errors that are
// already cancellations or invariant violations keep their classification.
func WrapExec(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsCancellation(err) || IsInvariant(err) {
		return Wrap(err, msg)
	}
	return Mark(Wrap(err, msg), ErrExec)
}

// WrapModel marks err as a failure updating the suite/job model.
func WrapModel(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrModel)
}

// NewInvariant creates an invariant violation.
func NewInvariant(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvariant)
}

// NewProtocol creates a protocol violation. Protocol violations are
// execution failures.
func NewProtocol(format string, args ...interface{}) error {
	return Mark(Mark(Newf(format, args...), ErrProtocol), ErrExec)
}

// NewLoadLimitExceeded reports a job that published more rows than allowed.
func NewLoadLimitExceeded(table string, limit int) error {
	err := Newf("table %s exceeded load limit %d", table, limit)
	return Mark(Mark(err, ErrLoadLimit), ErrExec)
}

// Cancelled converts a context error into a cancellation. A nil cause
// yields a plain cancellation.
func Cancelled(cause error) error {
	if cause == nil {
		return Mark(New("interrupted"), ErrCancelled)
	}
	return Mark(Wrap(cause, "interrupted"), ErrCancelled)
}

// CheckContext returns a cancellation error if ctx is done.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(err)
	}
	return nil
}

// IsInit reports whether err is an initialization failure.
func IsInit(err error) bool { return err != nil && Is(err, ErrInit) }

// IsExec reports whether err is an execution failure.
func IsExec(err error) bool { return err != nil && Is(err, ErrExec) }

// IsModel reports whether err is a job model failure.
func IsModel(err error) bool { return err != nil && Is(err, ErrModel) }

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool { return err != nil && Is(err, ErrInvariant) }

// IsProtocol reports whether err is a protocol violation.
func IsProtocol(err error) bool { return err != nil && Is(err, ErrProtocol) }

// IsLoadLimitExceeded reports whether err came from the load limit check.
func IsLoadLimitExceeded(err error) bool { return err != nil && Is(err, ErrLoadLimit) }

// IsCancellation reports whether err is a cancellation, including bare
// context errors.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCancelled) || Is(err, context.Canceled) || Is(err, context.DeadlineExceeded)
}

// KindOf classifies err. Cancellation and invariant marks win over the
// broader Exec mark.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsCancellation(err):
		return KindCancellation
	case IsInvariant(err):
		return KindInvariant
	case IsInit(err):
		return KindInit
	case IsModel(err):
		return KindModel
	case IsExec(err):
		return KindExec
	default:
		return KindUnknown
	}
}

// Describe returns a short "kind: message" form used in status messages.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", KindOf(err), err.Error())
}
