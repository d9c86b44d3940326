package pump

import (
	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
)

// Metrics counts what one job run did. Published is the resume cursor:
// the number of source records fully processed. Published, Expected and
// Consumed are nil until known.
type Metrics struct {
	Inserted  int
	Updated   int
	Deleted   int
	Unchanged int

	Published *int
	Expected  *int
	Consumed  *int
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncrementInserts(n int) { m.Inserted += n }
func (m *Metrics) IncrementUpdates(n int) { m.Updated += n }
func (m *Metrics) IncrementDeletes(n int) { m.Deleted += n }
func (m *Metrics) IncrementUnchanged(n int) { m.Unchanged += n }

// IncrementPublished advances the resume cursor.
func (m *Metrics) IncrementPublished(n int) {
	m.Published = addTo(m.Published, n)
}

func (m *Metrics) IncrementConsumed(n int) {
	m.Consumed = addTo(m.Consumed, n)
}

func (m *Metrics) SetExpected(n int) {
	m.Expected = &n
}

func addTo(p *int, n int) *int {
	v := n
	if p != nil {
		v += *p
	}
	return &v
}

// RecordsPublished returns Published, or 0 when unknown.
func (m *Metrics) RecordsPublished() int {
	if m.Published == nil {
		return 0
	}
	return *m.Published
}

// RecordsExpected returns Expected and whether it is known.
func (m *Metrics) RecordsExpected() (int, bool) {
	if m.Expected == nil {
		return 0, false
	}
	return *m.Expected, true
}

// Add accumulates other into m.
func (m *Metrics) Add(other *Metrics) *Metrics {
	if other == nil {
		return m
	}
	m.Inserted += other.Inserted
	m.Updated += other.Updated
	m.Deleted += other.Deleted
	m.Unchanged += other.Unchanged
	if other.Published != nil {
		m.IncrementPublished(*other.Published)
	}
	if other.Consumed != nil {
		m.IncrementConsumed(*other.Consumed)
	}
	if other.Expected != nil {
		m.SetExpected(*other.Expected)
	}
	return m
}

// Clear resets every counter.
func (m *Metrics) Clear() {
	*m = Metrics{}
}

// Clone returns an independent copy.
func (m *Metrics) Clone() *Metrics {
	return NewMetrics().Add(m)
}

// Check verifies that every published record was accounted for. Records
// left unchanged by a timestamp comparison count as accounted for.
func (m *Metrics) Check() error {
	sum := m.Inserted + m.Updated + m.Deleted + m.Unchanged
	if sum != m.RecordsPublished() {
		return errors.NewInvariant("metrics out of balance: inserted=%d updated=%d deleted=%d unchanged=%d published=%d",
			m.Inserted, m.Updated, m.Deleted, m.Unchanged, m.RecordsPublished())
	}
	return nil
}

// LogInfo writes the counters as one structured line.
func (m *Metrics) LogInfo(log *zap.SugaredLogger) {
	kv := []interface{}{"inserted", m.Inserted, "updated", m.Updated}
	if m.Deleted > 0 {
		kv = append(kv, "deleted", m.Deleted)
	}
	if m.Unchanged > 0 {
		kv = append(kv, "unchanged", m.Unchanged)
	}
	if m.Published != nil {
		kv = append(kv, logger.FieldPublished, *m.Published)
	}
	if m.Consumed != nil {
		kv = append(kv, "consumed", *m.Consumed)
	}
	if m.Expected != nil {
		kv = append(kv, logger.FieldExpected, *m.Expected)
	}
	logger.OrNop(log).Infow("Metrics", kv...)
}
