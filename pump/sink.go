// Package pump holds the replication model: suites, jobs, their status
// state machine, run metrics, and the sink through which status is
// persisted.
package pump

import (
	"context"
)

// StatusSink receives every status transition of a run. Persistent suites
// write them to their catalog; script suites use NopSink.
type StatusSink interface {
	SuiteStarted(ctx context.Context, s *Suite) error
	SuiteStatus(ctx context.Context, s *Suite, status Status, message string) error
	JobStarted(ctx context.Context, j *Job) error
	JobStatus(ctx context.Context, j *Job, status Status, message string) error
	PostMetrics(ctx context.Context, j *Job, m *Metrics) error
	// LoadMetrics returns the metrics last posted for j, for resuming.
	LoadMetrics(ctx context.Context, j *Job) (*Metrics, error)
}

// Catalog is a StatusSink that also stores suite definitions.
type Catalog interface {
	StatusSink
	// Schedulable returns the suites in READY or RESUME tagged with target.
	// An empty target matches every suite.
	Schedulable(ctx context.Context, target string) ([]*Suite, error)
	// Suite loads one suite with its jobs.
	Suite(ctx context.Context, key string) (*Suite, error)
}

// NopSink discards status updates.
type NopSink struct{}

func (NopSink) SuiteStarted(context.Context, *Suite) error { return nil }
func (NopSink) SuiteStatus(context.Context, *Suite, Status, string) error { return nil }
func (NopSink) JobStarted(context.Context, *Job) error { return nil }
func (NopSink) JobStatus(context.Context, *Job, Status, string) error { return nil }
func (NopSink) PostMetrics(context.Context, *Job, *Metrics) error { return nil }
func (NopSink) LoadMetrics(context.Context, *Job) (*Metrics, error) { return NewMetrics(), nil }
