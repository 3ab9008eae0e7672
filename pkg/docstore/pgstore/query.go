package pgstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

var sqlOps = map[docstore.Op]string{
	docstore.OpEqual:        "=",
	docstore.OpNotEqual:     "<>",
	docstore.OpLess:         "<",
	docstore.OpLessEqual:    "<=",
	docstore.OpGreater:      ">",
	docstore.OpGreaterEqual: ">=",
}

// buildSelect translates a docstore query into SQL over the documents table.
// Field names are validated against a strict identifier pattern before they
// are interpolated.
func buildSelect(q docstore.Query) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := []interface{}{q.Collection}
	sb.WriteString("SELECT id, data, updated_at FROM documents WHERE collection = $1")

	for _, f := range q.Filters {
		clause, err := filterClause(f, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(clause)
	}

	sb.WriteString(" ORDER BY ")
	for _, o := range q.Orders {
		dir := "ASC"
		if o.Dir == docstore.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "data->'%s' %s, ", o.Field, dir)
	}
	sb.WriteString("id ASC")

	if q.Max > 0 {
		args = append(args, q.Max)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args, nil
}

func filterClause(f docstore.Filter, args *[]interface{}) (string, error) {
	placeholder := func(v interface{}) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}

	switch f.Op {
	case docstore.OpIn:
		values := make([]string, 0)
		list, _ := asSlice(f.Value)
		for _, v := range list {
			values = append(values, scalarText(v))
		}
		return fmt.Sprintf("data->>'%s' = ANY(%s)", f.Field, placeholder(pq.Array(values))), nil
	case docstore.OpArrayContains:
		payload, err := json.Marshal([]interface{}{f.Value})
		if err != nil {
			return "", fmt.Errorf("%w: %v", docstore.ErrInvalidQuery, err)
		}
		return fmt.Sprintf("data->'%s' @> %s::jsonb", f.Field, placeholder(string(payload))), nil
	}

	op := sqlOps[f.Op]
	if f.Value == nil {
		switch f.Op {
		case docstore.OpEqual:
			return fmt.Sprintf("(data->'%[1]s' IS NULL OR data->'%[1]s' = 'null'::jsonb)", f.Field), nil
		case docstore.OpNotEqual:
			return fmt.Sprintf("(data->'%[1]s' IS NOT NULL AND data->'%[1]s' <> 'null'::jsonb)", f.Field), nil
		default:
			return "", fmt.Errorf("%w: %q against null", docstore.ErrInvalidQuery, f.Op)
		}
	}

	var column string
	var value interface{}
	switch v := f.Value.(type) {
	case string:
		column, value = fmt.Sprintf("data->>'%s'", f.Field), v
	case time.Time:
		column, value = fmt.Sprintf("data->>'%s'", f.Field), v.UTC().Format(timeLayout)
	case bool:
		column, value = fmt.Sprintf("(data->>'%s')::boolean", f.Field), v
	case int, int32, int64, float32, float64, json.Number:
		column, value = fmt.Sprintf("(data->>'%s')::numeric", f.Field), scalarText(v)
	default:
		return "", fmt.Errorf("%w: unsupported value %T for %s", docstore.ErrInvalidQuery, f.Value, f.Field)
	}

	clause := fmt.Sprintf("%s %s %s", column, op, placeholder(value))
	if f.Op == docstore.OpNotEqual {
		clause = fmt.Sprintf("(data ? '%s' AND %s)", f.Field, clause)
	}
	return clause, nil
}

func asSlice(v interface{}) ([]interface{}, bool) {
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

func scalarText(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(timeLayout)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
