package source

import "time"

// Well-known system fields present on every remote table.
const (
	FieldSysID     = "sys_id"
	FieldUpdatedOn = "sys_updated_on"
	FieldCreatedOn = "sys_created_on"
)

// Record is a single remote row. Empty and absent fields are both null.
type Record struct {
	Key    Key
	Fields map[string]string
}

// NewRecord builds a record from its field values, taking the key from sys_id.
func NewRecord(fields map[string]string) Record {
	return Record{Key: Key(fields[FieldSysID]), Fields: fields}
}

// Get returns the value of field, or "" when absent.
func (r Record) Get(field string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[field]
}

// Updated returns the parsed sys_updated_on timestamp.
func (r Record) Updated() (time.Time, bool) {
	return r.timestamp(FieldUpdatedOn)
}

// Created returns the parsed sys_created_on timestamp.
func (r Record) Created() (time.Time, bool) {
	return r.timestamp(FieldCreatedOn)
}

func (r Record) timestamp(field string) (time.Time, bool) {
	t, err := ParseTime(r.Get(field))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
