// Package source defines the remote table model the replication engine reads
// from: keys, records, encoded-query filters, schemas, and the capability
// interfaces a remote instance exposes.
package source

import (
	"context"
	"sort"
)

// Window requests a page of keys. Limit 0 means unbounded.
type Window struct {
	First int
	Limit int
}

// GroupCount is the number of records sharing one value of a field.
type GroupCount struct {
	Value string
	Count int
}

// SortGroupCounts orders grouped counts by value.
func SortGroupCounts(groups []GroupCount) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].Value < groups[j].Value })
}

// FieldDef describes one column of a remote table.
type FieldDef struct {
	Name      string
	Type      string
	Length    int
	Reference string
}

// TableSchema is the ordered field list of a remote table, sys_id first.
type TableSchema []FieldDef

// Get returns the definition of name.
func (s TableSchema) Get(name string) (FieldDef, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Has reports whether the schema contains name.
func (s TableSchema) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Normalize moves sys_id to the front, keeping the order of the other fields.
func (s TableSchema) Normalize() TableSchema {
	out := make(TableSchema, 0, len(s))
	for _, f := range s {
		if f.Name == FieldSysID {
			out = append(out, f)
		}
	}
	for _, f := range s {
		if f.Name != FieldSysID {
			out = append(out, f)
		}
	}
	return out
}

// TableOptions tune how a table handle reads records.
type TableOptions struct {
	// DisplayValues adds a dv_<field> entry holding the display value of
	// every reference and choice field.
	DisplayValues bool
}

// Source opens handles onto remote tables.
type Source interface {
	Table(ctx context.Context, name string, opts TableOptions) (Table, error)
}

// Table is a handle onto one remote table.
type Table interface {
	Name() string
	Keys(ctx context.Context, filter Filter, sortField string, w Window) (KeyList, error)
	Records(ctx context.Context, filter Filter, sortField string) ([]Record, error)
	Count(ctx context.Context, filter Filter) (int, error)
	GroupCount(ctx context.Context, filter Filter, field string) ([]GroupCount, error)
	Schema(ctx context.Context) (TableSchema, error)
}

// RecordStore reads and updates individual remote records. The remote
// catalog keeps suite and job definitions in such records.
type RecordStore interface {
	Get(ctx context.Context, table string, key Key) (Record, error)
	Query(ctx context.Context, table string, filter Filter, sortField string) ([]Record, error)
	Update(ctx context.Context, table string, key Key, values map[string]string) error
}

// AuditDeleteTable records the keys of deleted rows.
const (
	AuditDeleteTable     = "sys_audit_delete"
	AuditDeleteTableName = "tablename"
	AuditDeleteKey       = "documentkey"
)
