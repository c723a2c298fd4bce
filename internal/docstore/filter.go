package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Op string

const (
	OpEqual            Op = "equal"
	OpNotEqual         Op = "notEqual"
	OpLessThan         Op = "lessThan"
	OpLessThanEqual    Op = "lessThanEqual"
	OpGreaterThan      Op = "greaterThan"
	OpGreaterThanEqual Op = "greaterThanEqual"
	OpIsNull           Op = "isNull"
	OpIsNotNull        Op = "isNotNull"
	OpOr               Op = "or"
	OpAnd              Op = "and"
)

// Filter is a single predicate or a logical combination of predicates.
type Filter struct {
	Op      Op       `json:"method"`
	Field   string   `json:"attribute,omitempty"`
	Values  []any    `json:"values,omitempty"`
	Filters []Filter `json:"queries,omitempty"`
}

// Equal matches when the field equals any of values.
func Equal(field string, values ...any) Filter {
	return Filter{Op: OpEqual, Field: field, Values: values}
}

func NotEqual(field string, value any) Filter {
	return Filter{Op: OpNotEqual, Field: field, Values: []any{value}}
}

func LessThan(field string, value any) Filter {
	return Filter{Op: OpLessThan, Field: field, Values: []any{value}}
}

func LessThanEqual(field string, value any) Filter {
	return Filter{Op: OpLessThanEqual, Field: field, Values: []any{value}}
}

func GreaterThan(field string, value any) Filter {
	return Filter{Op: OpGreaterThan, Field: field, Values: []any{value}}
}

func GreaterThanEqual(field string, value any) Filter {
	return Filter{Op: OpGreaterThanEqual, Field: field, Values: []any{value}}
}

func IsNull(field string) Filter    { return Filter{Op: OpIsNull, Field: field} }
func IsNotNull(field string) Filter { return Filter{Op: OpIsNotNull, Field: field} }

func Or(filters ...Filter) Filter  { return Filter{Op: OpOr, Filters: filters} }
func And(filters ...Filter) Filter { return Filter{Op: OpAnd, Filters: filters} }

func (f Filter) validate() error {
	switch f.Op {
	case OpOr, OpAnd:
		if len(f.Filters) == 0 {
			return fmt.Errorf("%w: %s needs at least one query", ErrInvalidQuery, f.Op)
		}
		for _, sub := range f.Filters {
			if err := sub.validate(); err != nil {
				return err
			}
		}
		return nil
	case OpIsNull, OpIsNotNull:
	case OpEqual:
		if len(f.Values) == 0 {
			return fmt.Errorf("%w: equal on %q without values", ErrInvalidQuery, f.Field)
		}
	case OpNotEqual, OpLessThan, OpLessThanEqual, OpGreaterThan, OpGreaterThanEqual:
		if len(f.Values) != 1 {
			return fmt.Errorf("%w: %s on %q takes exactly one value", ErrInvalidQuery, f.Op, f.Field)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidQuery, f.Op)
	}
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("%w: %s without attribute", ErrInvalidQuery, f.Op)
	}
	return nil
}

// Match reports whether d satisfies the filter.
func (f Filter) Match(d Document) bool {
	switch f.Op {
	case OpOr:
		for _, sub := range f.Filters {
			if sub.Match(d) {
				return true
			}
		}
		return false
	case OpAnd:
		for _, sub := range f.Filters {
			if !sub.Match(d) {
				return false
			}
		}
		return true
	}

	v, ok := d.Field(f.Field)
	if !ok {
		v = nil
	}
	switch f.Op {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	case OpEqual:
		for _, want := range f.Values {
			if matchesEqual(v, want) {
				return true
			}
		}
		return false
	case OpNotEqual:
		return !matchesEqual(v, f.Values[0])
	}

	if v == nil {
		return false
	}
	c, ok := compare(v, f.Values[0])
	if !ok {
		return false
	}
	switch f.Op {
	case OpLessThan:
		return c < 0
	case OpLessThanEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterThanEqual:
		return c >= 0
	}
	return false
}

// array attributes match equal when any element matches
func matchesEqual(have, want any) bool {
	if arr, ok := have.([]any); ok {
		for _, el := range arr {
			if c, ok := compare(el, want); ok && c == 0 {
				return true
			}
		}
		return false
	}
	if have == nil || want == nil {
		return have == nil && want == nil
	}
	c, ok := compare(have, want)
	return ok && c == 0
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// asTime accepts a time.Time or an RFC 3339 string (fraction optional).
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Query is the list request of a collection.
type Query struct {
	Filters []Filter
	Select  []string
	// OrderBy is an attribute name; prefix with "-" for descending.
	OrderBy string
	Limit   int
	Offset  int
}

func (q Query) validate() (Query, error) {
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return q, err
		}
	}
	if q.Offset < 0 {
		return q, fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return q, nil
}

// apply filters, orders, pages and projects docs (already in creation order).
func apply(docs []Document, q Query) Page {
	matched := make([]Document, 0, len(docs))
	for _, d := range docs {
		ok := true
		for _, f := range q.Filters {
			if !f.Match(d) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, d)
		}
	}

	if q.OrderBy != "" {
		field := strings.TrimPrefix(q.OrderBy, "-")
		desc := strings.HasPrefix(q.OrderBy, "-")
		sort.SliceStable(matched, func(i, j int) bool {
			a, _ := matched[i].Field(field)
			b, _ := matched[j].Field(field)
			c, ok := compare(a, b)
			if !ok {
				return false
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	page := Page{Total: len(matched), Documents: []Document{}}
	if q.Offset >= len(matched) {
		return page
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	for _, d := range matched[q.Offset:end] {
		page.Documents = append(page.Documents, project(d, q.Select))
	}
	return page
}

func project(d Document, fields []string) Document {
	if len(fields) == 0 {
		return d
	}
	data := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := d.Data[f]; ok {
			data[f] = v
		}
	}
	d.Data = data
	return d
}
