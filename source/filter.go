package source

import (
	"strings"
	"time"

	"github.com/teranos/datapump/errors"
)

// Op is an encoded-query comparison operator.
type Op string

const (
	OpEq             Op = "="
	OpNe             Op = "!="
	OpLt             Op = "<"
	OpLe             Op = "<="
	OpGt             Op = ">"
	OpGe             Op = ">="
	OpIn             Op = "IN"
	OpNotIn          Op = "NOT IN"
	OpStartsWith     Op = "STARTSWITH"
	OpEndsWith       Op = "ENDSWITH"
	OpLike           Op = "LIKE"
	OpNotLike        Op = "NOT LIKE"
	OpContains       Op = "CONTAINS"
	OpDoesNotContain Op = "DOESNOTCONTAIN"
	OpIsEmpty        Op = "ISEMPTY"
	OpIsNotEmpty     Op = "ISNOTEMPTY"
)

// longest first so "<=" wins over "<"
var matchOps = []Op{
	OpDoesNotContain, OpIsNotEmpty, OpStartsWith, OpNotLike, OpEndsWith, OpContains,
	OpIsEmpty, OpNotIn, OpLike, OpIn, OpNe, OpGe, OpLe, OpEq, OpGt, OpLt,
}

// Encoded query keywords that are not conditions.
const (
	segOr       = "OR"
	segNewQuery = "NQ"
	segOrderBy  = "ORDERBY"
	segEnd      = "EQ"
)

// Clause is a single field comparison.
type Clause struct {
	Field string
	Op    Op
	Value string
}

func (c Clause) String() string {
	return c.Field + string(c.Op) + c.Value
}

// Filter is an encoded query. It has two parts: the operator's query text,
// kept verbatim, and the clauses datapump adds itself (intervals,
// partitions, key sets). The zero Filter matches every record.
type Filter struct {
	raw     string
	clauses []Clause
}

// NewFilter returns a filter holding clauses.
func NewFilter(clauses ...Clause) Filter {
	return Filter{clauses: append([]Clause(nil), clauses...)}
}

// ParseFilter wraps an operator-supplied encoded query. The text is not
// validated beyond rejecting a leading OR or NQ, which has nothing to
// attach to; the instance ignores conditions it does not understand.
func ParseFilter(encoded string) (Filter, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Filter{}, nil
	}
	first := strings.SplitN(encoded, "^", 2)[0]
	if (strings.HasPrefix(first, segOr) && !strings.HasPrefix(first, segOrderBy)) ||
		strings.HasPrefix(first, segNewQuery) {
		return Filter{}, errors.Newf("filter %q starts with a disjunction", encoded)
	}
	return Filter{raw: encoded}, nil
}

// MustParseFilter is ParseFilter for literals known to be valid.
func MustParseFilter(encoded string) Filter {
	f, err := ParseFilter(encoded)
	if err != nil {
		panic(err)
	}
	return f
}

// Clauses returns a copy of the clauses datapump added.
func (f Filter) Clauses() []Clause {
	return append([]Clause(nil), f.clauses...)
}

// Raw returns the operator's encoded query as given.
func (f Filter) Raw() string { return f.raw }

// IsEmpty reports whether the filter matches every record.
func (f Filter) IsEmpty() bool { return f.raw == "" && len(f.clauses) == 0 }

// String encodes the filter without ordering.
func (f Filter) String() string {
	return f.Encode("")
}

// Encode renders the filter as an encoded query sorted by sortField.
// Added clauses are repeated in every NQ group of the raw query, so a
// disjunction there cannot widen an interval or key window. sortField
// becomes the primary sort, ahead of any ORDERBY in the raw query.
func (f Filter) Encode(sortField string) string {
	added := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		added[i] = c.String()
	}
	if f.raw != "" && len(added) == 0 && sortField == "" {
		return f.raw
	}

	groups, orders, end := splitRaw(f.raw)
	var out []string
	if len(groups) == 0 {
		if len(added) > 0 {
			out = append(out, strings.Join(added, "^"))
		}
	} else {
		encoded := make([]string, len(groups))
		for i, g := range groups {
			encoded[i] = strings.Join(append(append([]string(nil), added...), g...), "^")
		}
		out = append(out, strings.Join(encoded, "^"+segNewQuery))
	}
	if sortField != "" {
		out = append(out, segOrderBy+sortField)
	}
	out = append(out, orders...)
	if end {
		out = append(out, segEnd)
	}
	return strings.Join(out, "^")
}

// splitRaw separates a raw query into NQ groups of condition segments,
// its ORDERBY segments and whether it carried the EQ terminator.
func splitRaw(raw string) (groups [][]string, orders []string, end bool) {
	if raw == "" {
		return nil, nil, false
	}
	var current []string
	for _, seg := range strings.Split(raw, "^") {
		switch {
		case seg == "":
		case seg == segEnd:
			end = true
		case strings.HasPrefix(seg, segOrderBy):
			orders = append(orders, seg)
		case strings.HasPrefix(seg, segNewQuery):
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = nil
			if rest := strings.TrimPrefix(seg, segNewQuery); rest != "" {
				current = append(current, rest)
			}
		default:
			current = append(current, seg)
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, orders, end
}

// And returns the conjunction of f and others. Empty filters are ignored.
// Raw queries are joined with ^; a trailing EQ is dropped from all but
// the last.
func (f Filter) And(others ...Filter) Filter {
	out := Filter{raw: f.raw, clauses: f.Clauses()}
	for _, o := range others {
		out.clauses = append(out.clauses, o.clauses...)
		if o.raw == "" {
			continue
		}
		if out.raw == "" {
			out.raw = o.raw
			continue
		}
		out.raw = strings.TrimSuffix(out.raw, "^"+segEnd) + "^" + o.raw
	}
	return out
}

// Where returns f extended with a single clause.
func (f Filter) Where(field string, op Op, value string) Filter {
	return Filter{raw: f.raw, clauses: append(f.Clauses(), Clause{Field: field, Op: op, Value: value})}
}

// UpdatedBetween restricts sys_updated_on to [start, end). Nil bounds are omitted.
func (f Filter) UpdatedBetween(start, end *time.Time) Filter {
	return f.between(FieldUpdatedOn, start, end)
}

// CreatedBetween restricts sys_created_on to [start, end). Nil bounds are omitted.
func (f Filter) CreatedBetween(start, end *time.Time) Filter {
	return f.between(FieldCreatedOn, start, end)
}

func (f Filter) between(field string, start, end *time.Time) Filter {
	out := f
	if start != nil {
		out = out.Where(field, OpGe, FormatTime(*start))
	}
	if end != nil {
		out = out.Where(field, OpLt, FormatTime(*end))
	}
	return out
}

// Match evaluates the filter against a record. It approximates the
// instance: comparisons are lexical, which orders remote timestamps
// correctly, and raw segments it cannot read are ignored.
func (f Filter) Match(r Record) bool {
	for _, c := range f.clauses {
		if !c.match(r.Get(c.Field)) {
			return false
		}
	}
	groups, _, _ := splitRaw(f.raw)
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if matchGroup(g, r) {
			return true
		}
	}
	return false
}

// matchGroup ANDs the terms of one NQ group. An OR segment joins the term
// before it.
func matchGroup(segs []string, r Record) bool {
	var terms [][]Clause
	for _, seg := range segs {
		orTerm := strings.HasPrefix(seg, segOr)
		if orTerm {
			seg = strings.TrimPrefix(seg, segOr)
		}
		c, ok := readClause(seg)
		if !ok {
			continue
		}
		if orTerm && len(terms) > 0 {
			terms[len(terms)-1] = append(terms[len(terms)-1], c)
			continue
		}
		terms = append(terms, []Clause{c})
	}
	for _, alternatives := range terms {
		hit := false
		for _, c := range alternatives {
			if c.match(r.Get(c.Field)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func readClause(s string) (Clause, bool) {
	// Field names are lower case; operator keywords are upper case.
	i := 0
	for i < len(s) {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '.' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return Clause{}, false
	}
	rest := s[i:]
	for _, op := range matchOps {
		if strings.HasPrefix(rest, string(op)) {
			return Clause{Field: s[:i], Op: op, Value: rest[len(op):]}, true
		}
	}
	return Clause{}, false
}

func (c Clause) match(v string) bool {
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpLt:
		return v < c.Value
	case OpLe:
		return v <= c.Value
	case OpGt:
		return v > c.Value
	case OpGe:
		return v >= c.Value
	case OpIn:
		return contains(strings.Split(c.Value, ","), v)
	case OpNotIn:
		return !contains(strings.Split(c.Value, ","), v)
	case OpStartsWith:
		return strings.HasPrefix(v, c.Value)
	case OpEndsWith:
		return strings.HasSuffix(v, c.Value)
	case OpLike, OpContains:
		return strings.Contains(v, c.Value)
	case OpNotLike, OpDoesNotContain:
		return !strings.Contains(v, c.Value)
	case OpIsEmpty:
		return v == ""
	case OpIsNotEmpty:
		return v != ""
	}
	return false
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
