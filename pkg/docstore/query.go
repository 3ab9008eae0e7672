package docstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter restricts a query to documents whose field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Order sorts query results by one field.
type Order struct {
	Field string
	Dir   Direction
}

// Query describes a filtered, ordered read of one collection. Builders return
// copies, so a base query can be shared.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Max        int
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Collection starts a query over the named collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

// Where adds a filter.
func (q Query) Where(field string, op Op, value interface{}) Query {
	out := q.clone()
	out.Filters = append(out.Filters, Filter{Field: field, Op: op, Value: value})
	return out
}

// OrderBy adds a sort key.
func (q Query) OrderBy(field string, dir Direction) Query {
	out := q.clone()
	out.Orders = append(out.Orders, Order{Field: field, Dir: dir})
	return out
}

// Limit caps the number of results. Zero means unlimited.
func (q Query) Limit(n int) Query {
	out := q.clone()
	out.Max = n
	return out
}

func (q Query) clone() Query {
	out := Query{Collection: q.Collection, Max: q.Max}
	out.Filters = append([]Filter(nil), q.Filters...)
	out.Orders = append([]Order(nil), q.Orders...)
	return out
}

// Validate checks collection, field names and operators.
func (q Query) Validate() error {
	if q.Collection == "" || !fieldPattern.MatchString(q.Collection) {
		return fmt.Errorf("%w: bad collection %q", ErrInvalidQuery, q.Collection)
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("%w: bad field %q", ErrInvalidQuery, f.Field)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains:
		case OpIn:
			if _, ok := asList(f.Value); !ok {
				return fmt.Errorf("%w: %q needs a list value", ErrInvalidQuery, f.Op)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.Orders {
		if !fieldPattern.MatchString(o.Field) {
			return fmt.Errorf("%w: bad order field %q", ErrInvalidQuery, o.Field)
		}
	}
	if q.Max < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// String renders the query for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " %s%s%v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		dir := "asc"
		if o.Dir == Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order:%s:%s", o.Field, dir)
	}
	if q.Max > 0 {
		fmt.Fprintf(&b, " limit:%d", q.Max)
	}
	return b.String()
}

// Matches evaluates every filter against a document body.
func (q Query) Matches(data map[string]interface{}) bool {
	for _, f := range q.Filters {
		if !f.matches(data) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits docs in memory. Documents tie-break on ID.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Collection != "" && doc.Collection != q.Collection {
			continue
		}
		if q.Matches(doc.Data) {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Orders {
			cmp, ok := Compare(out[i].Data[o.Field], out[j].Data[o.Field])
			if !ok || cmp == 0 {
				continue
			}
			if o.Dir == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

func (f Filter) matches(data map[string]interface{}) bool {
	value, present := data[f.Field]
	switch f.Op {
	case OpEqual:
		if f.Value == nil {
			return !present || value == nil
		}
		return Equal(value, f.Value)
	case OpNotEqual:
		return present && value != nil && !Equal(value, f.Value)
	case OpIn:
		list, _ := asList(f.Value)
		for _, candidate := range list {
			if Equal(value, candidate) {
				return true
			}
		}
		return false
	case OpArrayContains:
		list, ok := asList(value)
		if !ok {
			return false
		}
		for _, item := range list {
			if Equal(item, f.Value) {
				return true
			}
		}
		return false
	}
	if !present {
		return false
	}
	cmp, ok := Compare(value, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}
