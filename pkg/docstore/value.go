package docstore

import (
	"encoding/json"
	"strings"
	"time"
)

// Equal reports whether two field values are equal under Compare.
func Equal(a, b interface{}) bool {
	cmp, ok := Compare(a, b)
	return ok && cmp == 0
}

// Compare orders two scalar values of compatible kinds. Numbers compare
// numerically, times chronologically (RFC 3339 strings count as times when
// compared with a time), strings lexically and false sorts before true.
func Compare(a, b interface{}) (int, bool) {
	if an, ok := asFloat(a); ok {
		bn, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := AsTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if bt, ok := b.(time.Time); ok {
		at, ok := AsTime(a)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsInt64 converts any numeric field value to int64.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	}
	return 0, false
}

// AsTime converts a time or an RFC 3339 string to time.Time.
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// String returns a string field or "".
func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// StringPtr returns nil for missing or empty string fields.
func (d Document) StringPtr(field string) *string {
	s, ok := d.Data[field].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// Bool returns a bool field or false.
func (d Document) Bool(field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

// Int64 returns a numeric field or 0.
func (d Document) Int64(field string) int64 {
	n, _ := AsInt64(d.Data[field])
	return n
}

// Time returns a time field or the zero time.
func (d Document) Time(field string) time.Time {
	t, _ := AsTime(d.Data[field])
	return t
}

// Strings returns a list-of-strings field.
func (d Document) Strings(field string) []string {
	list, ok := asList(d.Data[field])
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
