package source

import "strings"

// Key is the opaque remote identifier (sys_id) of a record.
type Key string

// KeyList is an ordered list of record keys as returned by key enumeration.
type KeyList []Key

// Len returns the number of keys, duplicates included.
func (l KeyList) Len() int { return len(l) }

// UniqueCount returns the number of distinct keys.
func (l KeyList) UniqueCount() int {
	seen := make(map[Key]struct{}, len(l))
	for _, k := range l {
		seen[k] = struct{}{}
	}
	return len(seen)
}

// Slice returns the keys in the half-open range [from, to), clamped to the list.
func (l KeyList) Slice(from, to int) KeyList {
	if from < 0 {
		from = 0
	}
	if to > len(l) {
		to = len(l)
	}
	if from >= to {
		return nil
	}
	return l[from:to]
}

// Filter returns an identifier-set filter selecting the keys in [from, to).
func (l KeyList) Filter(from, to int) Filter {
	keys := l.Slice(from, to)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = string(k)
	}
	return NewFilter(Clause{Field: FieldSysID, Op: OpIn, Value: strings.Join(values, ",")})
}
