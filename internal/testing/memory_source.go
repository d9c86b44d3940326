package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

// MemorySource is an in-memory remote instance implementing source.Source and
// source.RecordStore. Hidden records are counted but never returned, which is
// how access control makes a remote instance undercount.
type MemorySource struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

// NewMemorySource returns an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string]*MemoryTable)}
}

// MemoryTable holds the rows of one table and counts the calls made against it.
type MemoryTable struct {
	src    *MemorySource
	name   string
	schema source.TableSchema
	rows   []source.Record
	hidden map[source.Key]bool

	// PageCap truncates every key page to at most this many keys when > 0.
	PageCap int
	// CountDelta is added to every Count result.
	CountDelta int
	// Err is returned by every call when set.
	Err error

	KeyCalls    int
	RecordCalls int
	MaxRecords  int
	LastSort    string
}

// AddTable creates (or replaces) a table with the given schema.
func (s *MemorySource) AddTable(name string, schema source.TableSchema) *MemoryTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &MemoryTable{src: s, name: name, schema: schema.Normalize(), hidden: make(map[source.Key]bool)}
	s.tables[name] = t
	return t
}

// MustTable returns a table that must exist.
func (s *MemorySource) MustTable(name string) *MemoryTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		panic("no table " + name)
	}
	return t
}

// Insert appends rows built from field maps.
func (t *MemoryTable) Insert(rows ...map[string]string) *MemoryTable {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	for _, fields := range rows {
		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		t.rows = append(t.rows, source.NewRecord(copied))
	}
	return t
}

// Hide makes keys invisible to Keys and Records while still counting them.
func (t *MemoryTable) Hide(keys ...source.Key) {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	for _, k := range keys {
		t.hidden[k] = true
	}
}

// Delete removes the row with key.
func (t *MemoryTable) Delete(key source.Key) {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	for i, r := range t.rows {
		if r.Key == key {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return
		}
	}
}

// Row returns a copy of the row with key.
func (t *MemoryTable) Row(key source.Key) (source.Record, bool) {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	for _, r := range t.rows {
		if r.Key == key {
			return copyRecord(r), true
		}
	}
	return source.Record{}, false
}

// Table implements source.Source.
func (s *MemorySource) Table(ctx context.Context, name string, opts source.TableOptions) (source.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, errors.NewInit("table %s not found", name)
	}
	return &memoryHandle{t: t, displayValues: opts.DisplayValues}, nil
}

// Get implements source.RecordStore.
func (s *MemorySource) Get(ctx context.Context, table string, key source.Key) (source.Record, error) {
	t, err := s.lookup(table)
	if err != nil {
		return source.Record{}, err
	}
	r, ok := t.Row(key)
	if !ok {
		return source.Record{}, errors.NewNotFoundError("record %s/%s", table, key)
	}
	return r, nil
}

// Query implements source.RecordStore.
func (s *MemorySource) Query(ctx context.Context, table string, filter source.Filter, sortField string) ([]source.Record, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.visible(filter, sortField, false), nil
}

// Update implements source.RecordStore.
func (s *MemorySource) Update(ctx context.Context, table string, key source.Key, values map[string]string) error {
	t, err := s.lookup(table)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	for _, r := range t.rows {
		if r.Key == key {
			for k, v := range values {
				r.Fields[k] = v
			}
			return nil
		}
	}
	return errors.NewNotFoundError("record %s/%s", table, key)
}

func (s *MemorySource) lookup(name string) (*MemoryTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, errors.NewNotFoundError("table %s", name)
	}
	return t, nil
}

// visible returns matching rows, sorted by sortField. Caller holds src.mu.
func (t *MemoryTable) visible(filter source.Filter, sortField string, includeHidden bool) []source.Record {
	var out []source.Record
	for _, r := range t.rows {
		if !includeHidden && t.hidden[r.Key] {
			continue
		}
		if filter.Match(r) {
			out = append(out, copyRecord(r))
		}
	}
	if sortField != "" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Get(sortField) < out[j].Get(sortField) })
	}
	return out
}

type memoryHandle struct {
	t             *MemoryTable
	displayValues bool
}

func (h *memoryHandle) Name() string { return h.t.name }

func (h *memoryHandle) Keys(ctx context.Context, filter source.Filter, sortField string, w source.Window) (source.KeyList, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	h.t.src.mu.Lock()
	defer h.t.src.mu.Unlock()
	h.t.KeyCalls++
	h.t.LastSort = sortField
	if h.t.Err != nil {
		return nil, h.t.Err
	}

	rows := h.t.visible(filter, sortField, true)
	if w.First > len(rows) {
		rows = nil
	} else {
		rows = rows[w.First:]
	}
	if w.Limit > 0 && len(rows) > w.Limit {
		rows = rows[:w.Limit]
	}
	if h.t.PageCap > 0 && len(rows) > h.t.PageCap {
		rows = rows[:h.t.PageCap]
	}

	var keys source.KeyList
	for _, r := range rows {
		// hidden rows occupy a window slot but are dropped from the page
		if h.t.hidden[r.Key] {
			continue
		}
		keys = append(keys, r.Key)
	}
	return keys, nil
}

func (h *memoryHandle) Records(ctx context.Context, filter source.Filter, sortField string) ([]source.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	h.t.src.mu.Lock()
	defer h.t.src.mu.Unlock()
	h.t.RecordCalls++
	if h.t.Err != nil {
		return nil, h.t.Err
	}
	rows := h.t.visible(filter, sortField, false)
	if len(rows) > h.t.MaxRecords {
		h.t.MaxRecords = len(rows)
	}
	if h.displayValues {
		for _, r := range rows {
			for k, v := range r.Fields {
				if k != source.FieldSysID {
					r.Fields["dv_"+k] = v
				}
			}
		}
	}
	return rows, nil
}

func (h *memoryHandle) Count(ctx context.Context, filter source.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Cancelled(err)
	}
	h.t.src.mu.Lock()
	defer h.t.src.mu.Unlock()
	if h.t.Err != nil {
		return 0, h.t.Err
	}
	return len(h.t.visible(filter, "", true)) + h.t.CountDelta, nil
}

func (h *memoryHandle) GroupCount(ctx context.Context, filter source.Filter, field string) ([]source.GroupCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	h.t.src.mu.Lock()
	defer h.t.src.mu.Unlock()
	if h.t.Err != nil {
		return nil, h.t.Err
	}
	counts := make(map[string]int)
	for _, r := range h.t.visible(filter, "", true) {
		counts[r.Get(field)]++
	}
	groups := make([]source.GroupCount, 0, len(counts))
	for v, n := range counts {
		groups = append(groups, source.GroupCount{Value: v, Count: n})
	}
	source.SortGroupCounts(groups)
	return groups, nil
}

func (h *memoryHandle) Schema(ctx context.Context) (source.TableSchema, error) {
	if h.t.Err != nil {
		return nil, h.t.Err
	}
	return append(source.TableSchema(nil), h.t.schema...), nil
}

func copyRecord(r source.Record) source.Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return source.Record{Key: r.Key, Fields: fields}
}
