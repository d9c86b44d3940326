package pump

import (
	"strings"

	"github.com/teranos/datapump/errors"
)

// Status is the lifecycle state shared by suites and jobs.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusResume    Status = "RESUME"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusPending, StatusReady, StatusQueued, StatusRunning,
	StatusResume, StatusComplete, StatusFailed, StatusCancelled,
}

// ParseStatus accepts a status in any case.
func ParseStatus(s string) (Status, error) {
	upper := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == upper {
			return st, nil
		}
	}
	return "", errors.NewInvalidRequestError("unknown status %q", s)
}

// IsTerminal reports whether a run has ended in this status.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Unfinished reports whether the last run of a job in this status did
// not complete.
func (s Status) Unfinished() bool {
	switch s {
	case StatusResume, StatusFailed, StatusCancelled, StatusRunning:
		return true
	}
	return false
}

// Runnable reports whether a job in this status runs when its suite runs.
// PENDING jobs only run in ephemeral suites.
func (s Status) Runnable(persistent bool) bool {
	switch s {
	case StatusQueued, StatusReady, StatusRunning, StatusResume:
		return true
	case StatusPending:
		return !persistent
	}
	return false
}

// Operation is what a job does.
type Operation string

const (
	OpLoad     Operation = "LOAD"
	OpRefresh  Operation = "REFRESH"
	OpPrune    Operation = "PRUNE"
	OpSQL      Operation = "SQL"
	OpGenerate Operation = "GENERATE"
)

// ParseOperation accepts an operation in any case.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(s))); op {
	case OpLoad, OpRefresh, OpPrune, OpSQL, OpGenerate:
		return op, nil
	}
	return "", errors.NewInvalidRequestError("unknown operation %q", s)
}

// ReadsRecords reports whether the operation moves records through a writer.
func (o Operation) ReadsRecords() bool {
	return o == OpLoad || o == OpRefresh
}

// LoadMethod is how a writer reconciles records with the target.
type LoadMethod string

const (
	InsertOnly        LoadMethod = "INSERT_ONLY"
	UpdateInsert      LoadMethod = "UPDATE_INSERT"
	CompareTimestamps LoadMethod = "COMPARE_TIMESTAMPS"
)

// ParseLoadMethod accepts the method name, its script keyword
// (insert-only, update-insert, compare-timestamps) or the stored codes
// I, UI and T.
func ParseLoadMethod(s string) (LoadMethod, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch norm {
	case "I", string(InsertOnly):
		return InsertOnly, nil
	case "UI", string(UpdateInsert):
		return UpdateInsert, nil
	case "T", string(CompareTimestamps):
		return CompareTimestamps, nil
	}
	return "", errors.NewInvalidRequestError("unknown load method %q", s)
}

// Keyword returns the script spelling of the method.
func (m LoadMethod) Keyword() string {
	return strings.ToLower(strings.ReplaceAll(string(m), "_", "-"))
}
