package pump

import (
	"strings"
	"sync"
	"time"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

// Job is one step of a suite: a load, refresh or prune of one table, a SQL
// statement, or a DDL generation. A job with a Key is persistent; its
// status, interval and metrics are echoed back to a catalog.
type Job struct {
	Name      string
	Key       string
	Order     int
	Operation Operation
	Method    LoadMethod

	Table  string // source table
	Target string // target table, defaults to Table

	SortField      string
	PartitionField string
	PartitionValue string
	PartitionBy    string
	BaseFilter     source.Filter
	Truncate       bool
	UseCreatedDate bool
	DisplayValues  bool

	SQL        string
	OutputFile string

	mu            sync.Mutex
	status        Status
	message       string
	intervalStart *time.Time
	intervalEnd   *time.Time
}

// Persistent reports whether the job is backed by a catalog record.
func (j *Job) Persistent() bool { return j.Key != "" }

// TargetTable returns the target table name.
func (j *Job) TargetTable() string {
	if j.Target != "" {
		return j.Target
	}
	return j.Table
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Message returns the failure message of the last run.
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.message
}

// SetStatus sets the status without any transition check. Catalogs use it
// when loading a job.
func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
}

// Interval returns the half-open [start, end) window.
func (j *Job) Interval() (start, end *time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyTime(j.intervalStart), copyTime(j.intervalEnd)
}

// SetInterval replaces the interval.
func (j *Job) SetInterval(start, end *time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.intervalStart, j.intervalEnd = copyTime(start), copyTime(end)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// StartRunning marks the job RUNNING. REFRESH and PRUNE jobs open the
// next window ending at runStart. After a completed run the window starts
// where the last one ended; when the last run did not finish (the job is
// RESUME, FAILED, CANCELLED or still RUNNING) the start is kept so the
// unfinished window is covered again. LOAD jobs keep their interval; they
// advance by row offset instead.
func (j *Job) StartRunning(runStart time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	retry := j.status.Unfinished()
	j.status = StatusRunning
	j.message = ""
	if j.Operation == OpRefresh || j.Operation == OpPrune {
		if !retry {
			j.intervalStart = j.intervalEnd
		}
		end := runStart.UTC()
		j.intervalEnd = &end
	}
}

// SetFailedStatus records a failed or cancelled run.
func (j *Job) SetFailedStatus(s Status, message string) error {
	if s != StatusFailed && s != StatusCancelled {
		return errors.AssertionFailedf("job %s: %s is not a failure status", j.Name, s)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	j.message = message
	return nil
}

// SetCompletedStatus records a successful run.
func (j *Job) SetCompletedStatus(s Status) error {
	if s != StatusComplete && s != StatusReady {
		return errors.AssertionFailedf("job %s: %s is not a completion status", j.Name, s)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	j.message = ""
	return nil
}

// Validate checks the job's static invariants.
func (j *Job) Validate() error {
	switch j.Operation {
	case OpSQL:
		if strings.TrimSpace(j.SQL) == "" {
			return errors.NewInit("job %s: sql statement is empty", j.Name)
		}
		return nil
	case OpLoad, OpRefresh:
		if j.Method == "" {
			return errors.NewInit("job %s: load method is required", j.Name)
		}
	case OpPrune, OpGenerate:
	default:
		return errors.NewInit("job %s: unknown operation %q", j.Name, j.Operation)
	}
	if j.Table == "" {
		return errors.NewInit("job %s: table is required", j.Name)
	}
	if j.PartitionField != "" && j.PartitionBy != "" {
		return errors.NewInit("job %s: partition and partition-by are exclusive", j.Name)
	}
	start, end := j.Interval()
	if start != nil && end != nil && start.After(*end) {
		return errors.NewInvariant("job %s: interval start %s is after end %s",
			j.Name, source.FormatTime(*start), source.FormatTime(*end))
	}
	return nil
}

// PartitionFilter selects the job's fixed partition, if any.
func (j *Job) PartitionFilter() source.Filter {
	if j.PartitionField == "" {
		return source.Filter{}
	}
	return source.NewFilter(source.Clause{Field: j.PartitionField, Op: source.OpEq, Value: j.PartitionValue})
}

// IntervalFilter restricts records to the job's interval on the created or
// updated timestamp. It is empty when neither bound is set.
func (j *Job) IntervalFilter() source.Filter {
	start, end := j.Interval()
	if j.UseCreatedDate {
		return source.Filter{}.CreatedBetween(start, end)
	}
	return source.Filter{}.UpdatedBetween(start, end)
}

// Description is a one-line, script-like summary of the job.
func (j *Job) Description() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(j.Operation)))
	if j.Operation == OpSQL {
		b.WriteString(" {" + j.SQL + "}")
		return b.String()
	}

	b.WriteString(" " + j.Table)
	b.WriteString(" into " + j.TargetTable())
	if j.Truncate {
		b.WriteString(" truncate")
	}
	start, end := j.Interval()
	switch j.Operation {
	case OpLoad:
		if j.Method != "" {
			b.WriteString(" " + j.Method.Keyword())
		}
		if start != nil {
			b.WriteString(" from " + source.FormatTime(*start))
		}
		if end != nil {
			b.WriteString(" to " + source.FormatTime(*end))
		}
	case OpRefresh, OpPrune:
		if end != nil {
			b.WriteString(" since " + source.FormatTime(*end))
		}
	}
	if j.PartitionField != "" {
		b.WriteString(" partition " + j.PartitionField + " {" + j.PartitionValue + "}")
	}
	if j.PartitionBy != "" {
		b.WriteString(" partition-by " + j.PartitionBy)
	}
	if !j.BaseFilter.IsEmpty() {
		b.WriteString(" where {" + j.BaseFilter.String() + "}")
	}
	return b.String()
}
