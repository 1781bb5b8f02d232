package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/JediahDizon/project-naa/internal/domain"
)

// Record is the flat primitive shape of a row: string, int64, float64, bool,
// time.Time, nil, or []Record for KindList fields.
type Record map[string]any

func (r Record) String(k string) string {
	s, _ := r[k].(string)
	return s
}

func (r Record) Int(k string) int64 {
	switch v := r[k].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (r Record) Float(k string) float64 {
	switch v := r[k].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (r Record) Bool(k string) bool {
	b, _ := r[k].(bool)
	return b
}

// BoolPtr distinguishes an absent flag from false.
func (r Record) BoolPtr(k string) *bool {
	b, ok := r[k].(bool)
	if !ok {
		return nil
	}
	return &b
}

func (r Record) Time(k string) time.Time {
	t, _ := r[k].(time.Time)
	return t
}

func (r Record) List(k string) []Record {
	l, _ := r[k].([]Record)
	return l
}

// Has reports whether k is present and not nil.
func (r Record) Has(k string) bool {
	v, ok := r[k]
	return ok && v != nil
}

func fieldErr(t Table, f string, reason string) error {
	return &domain.ValidationError{Field: t.Name + "." + f, Reason: reason}
}

// row converts a record to column values in field order, checking required
// fields, unknown fields and value types.
func (t Table) row(rec Record) ([]any, error) {
	for k := range rec {
		if _, ok := t.Field(k); !ok {
			return nil, fieldErr(t, k, "unknown field")
		}
	}
	if id, _ := rec[t.PrimaryKey].(string); id == "" {
		return nil, fieldErr(t, t.PrimaryKey, "primary key is required")
	}
	vals := make([]any, len(t.Fields))
	for i, f := range t.Fields {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			if !f.Optional {
				return nil, fieldErr(t, f.Name, "required")
			}
			continue
		}
		cv, err := toColumn(t, f, v)
		if err != nil {
			return nil, err
		}
		vals[i] = cv
	}
	return vals, nil
}

func toColumn(t Table, f Field, v any) (any, error) {
	switch f.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case KindDate:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano), nil
		}
	case KindList:
		return encodeList(t, f, v)
	}
	return nil, fieldErr(t, f.Name, fmt.Sprintf("unexpected value type %T", v))
}

func encodeList(t Table, f Field, v any) (any, error) {
	sub, err := lookup(f.Of)
	if err != nil {
		return nil, err
	}
	var items []Record
	switch l := v.(type) {
	case []Record:
		items = l
	case []map[string]any:
		for _, m := range l {
			items = append(items, Record(m))
		}
	default:
		return nil, fieldErr(t, f.Name, fmt.Sprintf("expected a list of records, got %T", v))
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m := map[string]any{}
		for k, iv := range item {
			sf, ok := sub.Field(k)
			if !ok {
				return nil, fieldErr(t, f.Name+"."+k, "unknown field")
			}
			if iv == nil {
				continue
			}
			if sf.Kind == KindList {
				return nil, fieldErr(t, f.Name+"."+k, "nested lists are not supported")
			}
			cv, err := toColumn(sub, sf, iv)
			if err != nil {
				return nil, err
			}
			if sf.Kind == KindBool {
				cv = iv
			}
			m[k] = cv
		}
		out = append(out, m)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// record converts scanned column values back to a Record. NULL columns are
// left out.
func (t Table) record(vals []any) Record {
	rec := Record{}
	for i, f := range t.Fields {
		if v := fromColumn(f, vals[i]); v != nil {
			rec[f.Name] = v
		}
	}
	return rec
}

func fromColumn(f Field, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch f.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case KindBool:
		switch n := v.(type) {
		case int64:
			return n != 0
		case bool:
			return n
		}
	case KindDate:
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
	case KindList:
		if s, ok := v.(string); ok {
			return decodeList(f, s)
		}
	}
	return nil
}

// decodeList never fails: a list that does not parse reads as empty.
func decodeList(f Field, s string) []Record {
	sub, err := lookup(f.Of)
	if err != nil {
		return []Record{}
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return []Record{}
	}
	out := make([]Record, 0, len(raw))
	for _, m := range raw {
		rec := Record{}
		for k, v := range m {
			sf, ok := sub.Field(k)
			if !ok {
				continue
			}
			if cv := fromJSON(sf, v); cv != nil {
				rec[k] = cv
			}
		}
		out = append(out, rec)
	}
	return out
}

func fromJSON(f Field, v any) any {
	switch f.Kind {
	case KindInt:
		if n, ok := v.(float64); ok {
			return int64(n)
		}
		return nil
	case KindBool:
		b, _ := v.(bool)
		return b
	default:
		return fromColumn(f, v)
	}
}
