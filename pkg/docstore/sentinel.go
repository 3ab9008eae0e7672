package docstore

import "time"

type sentinel string

const (
	// ServerTimestamp is replaced by the store's commit time.
	ServerTimestamp sentinel = "\x00docstore:server_timestamp"
	// Delete removes the field in an Update.
	Delete sentinel = "\x00docstore:delete"
)

type increment struct {
	By int64
}

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(n int64) interface{} {
	return increment{By: n}
}

type arrayTransform struct {
	Remove bool
	Elems  []string
}

// ArrayUnion adds each element to a list-of-strings field unless already
// present. A missing field starts empty.
func ArrayUnion(elems ...string) interface{} {
	return arrayTransform{Elems: append([]string(nil), elems...)}
}

// ArrayRemove removes every occurrence of each element from a list field.
func ArrayRemove(elems ...string) interface{} {
	return arrayTransform{Remove: true, Elems: append([]string(nil), elems...)}
}

// ArrayElems returns the elements of an ArrayUnion or ArrayRemove sentinel and
// whether it removes them.
func ArrayElems(v interface{}) (elems []string, remove bool, ok bool) {
	t, ok := v.(arrayTransform)
	return t.Elems, t.Remove, ok
}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v interface{}) bool {
	s, ok := v.(sentinel)
	return ok && s == ServerTimestamp
}

// IsDelete reports whether v is the Delete sentinel.
func IsDelete(v interface{}) bool {
	s, ok := v.(sentinel)
	return ok && s == Delete
}

// IncrementBy returns the delta of an Increment sentinel.
func IncrementBy(v interface{}) (int64, bool) {
	inc, ok := v.(increment)
	return inc.By, ok
}

// ResolveSet materialises sentinels for a full-document write.
func ResolveSet(data map[string]interface{}, now time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for field, value := range data {
		switch {
		case IsServerTimestamp(value):
			out[field] = now
		case IsDelete(value):
			continue
		default:
			if by, ok := IncrementBy(value); ok {
				out[field] = by
				continue
			}
			if elems, remove, ok := ArrayElems(value); ok {
				out[field] = applyArray(nil, elems, remove)
				continue
			}
			out[field] = cloneValue(value)
		}
	}
	return out
}

// ApplyUpdates returns a copy of existing with updates applied.
func ApplyUpdates(existing map[string]interface{}, updates []Update, now time.Time) map[string]interface{} {
	out := CloneData(existing)
	for _, u := range updates {
		switch {
		case IsServerTimestamp(u.Value):
			out[u.Field] = now
		case IsDelete(u.Value):
			delete(out, u.Field)
		default:
			if by, ok := IncrementBy(u.Value); ok {
				current, _ := AsInt64(out[u.Field])
				out[u.Field] = current + by
				continue
			}
			if elems, remove, ok := ArrayElems(u.Value); ok {
				out[u.Field] = applyArray(out[u.Field], elems, remove)
				continue
			}
			out[u.Field] = cloneValue(u.Value)
		}
	}
	return out
}

func applyArray(current interface{}, elems []string, remove bool) []string {
	out := []string{}
	if list, ok := asList(current); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	if remove {
		kept := out[:0]
		for _, s := range out {
			if !containsString(elems, s) {
				kept = append(kept, s)
			}
		}
		return kept
	}
	for _, e := range elems {
		if !containsString(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// CloneData deep-copies a document map.
func CloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]interface{}:
		return CloneData(typed)
	default:
		return v
	}
}
