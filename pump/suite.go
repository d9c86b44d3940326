package pump

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

// Suite is an ordered list of jobs run together. A suite with a frequency
// polls: after each run it becomes READY again and is due at NextRunStart.
type Suite struct {
	Name      string // empty for script suites
	Key       string // catalog identifier, empty for script suites
	Target    string // daemon target tag
	Frequency time.Duration
	Jobs      []*Job

	mu           sync.Mutex
	status       Status
	runStart     *time.Time
	nextRunStart *time.Time
}

// Persistent reports whether the suite is backed by a catalog record.
func (s *Suite) Persistent() bool { return s.Key != "" }

// IsPolling reports whether the suite repeats.
func (s *Suite) IsPolling() bool { return s.Frequency > 0 }

func (s *Suite) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Suite) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// RunStart returns the start of the current or last run.
func (s *Suite) RunStart() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTime(s.runStart)
}

// NextRunStart returns when a polling suite is next due.
func (s *Suite) NextRunStart() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTime(s.nextRunStart)
}

// SetSchedule replaces runStart and nextRunStart. Catalogs use it when
// loading a suite.
func (s *Suite) SetSchedule(runStart, next *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStart, s.nextRunStart = copyTime(runStart), copyTime(next)
}

// StartRunning marks the suite RUNNING with runStart = now. A polling suite
// is next due one frequency later. The run start of a persistent suite
// never moves backwards.
func (s *Suite) StartRunning(now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now = now.UTC().Truncate(time.Second)
	if s.Key != "" && s.runStart != nil && now.Before(*s.runStart) {
		return time.Time{}, errors.NewInvariant("suite %s: run start %s precedes previous run start %s",
			s.Name, source.FormatTime(now), source.FormatTime(*s.runStart))
	}
	s.status = StatusRunning
	s.runStart = &now
	if s.Frequency > 0 {
		next := now.Add(s.Frequency)
		s.nextRunStart = &next
	} else {
		s.nextRunStart = nil
	}
	return now, nil
}

// Due reports whether a READY or RESUME suite should run at now.
func (s *Suite) Due(now time.Time) bool {
	switch s.Status() {
	case StatusReady, StatusResume:
	default:
		return false
	}
	if !s.IsPolling() {
		return true
	}
	next := s.NextRunStart()
	return next == nil || !next.After(now)
}

// CompletedStatus is the status a successful run leaves behind.
func (s *Suite) CompletedStatus() Status {
	if s.IsPolling() {
		return StatusReady
	}
	return StatusComplete
}

// Description summarises the suite, one job per line.
func (s *Suite) Description() string {
	var b strings.Builder
	if s.Name != "" {
		b.WriteString(s.Name + ": ")
	}
	if s.IsPolling() {
		b.WriteString("every " + strconv.Itoa(int(s.Frequency/time.Second)) + " seconds\n")
	}
	for _, j := range s.Jobs {
		b.WriteString(j.Description())
		b.WriteString("\n")
	}
	return b.String()
}
