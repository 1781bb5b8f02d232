package store

import (
	"fmt"
	"strings"
)

// Predicate filters rows by field equality, inequality, membership and AND
// composition. A nil Predicate matches every row.
type Predicate interface {
	where(t Table) (string, []any, error)
}

type cmp struct {
	field  string
	value  any
	negate bool
}

// Eq matches rows whose field equals v. Eq(field, nil) matches NULL.
func Eq(field string, v any) Predicate { return cmp{field: field, value: v} }

// Ne matches rows whose field differs from v, NULL included.
func Ne(field string, v any) Predicate { return cmp{field: field, value: v, negate: true} }

// ID matches the row with primary key id.
func ID(id string) Predicate { return idPred(id) }

type idPred string

func (p idPred) where(t Table) (string, []any, error) {
	return cmp{field: t.PrimaryKey, value: string(p)}.where(t)
}

func (c cmp) where(t Table) (string, []any, error) {
	f, ok := t.Field(c.field)
	if !ok {
		return "", nil, fieldErr(t, c.field, "unknown field in filter")
	}
	if f.Kind == KindList {
		return "", nil, fieldErr(t, c.field, "list fields cannot be filtered")
	}
	col := quote(f.Name)
	if c.value == nil {
		if c.negate {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " IS NULL", nil, nil
	}
	v, err := toColumn(t, f, c.value)
	if err != nil {
		return "", nil, err
	}
	if c.negate {
		return fmt.Sprintf("(%s <> ? OR %s IS NULL)", col, col), []any{v}, nil
	}
	return col + " = ?", []any{v}, nil
}

type in struct {
	field  string
	values []any
}

// In matches rows whose field is one of values. An empty In matches nothing.
func In(field string, values ...any) Predicate { return in{field: field, values: values} }

// InStrings is In for a string slice.
func InStrings(field string, values []string) Predicate {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return In(field, vs...)
}

func (p in) where(t Table) (string, []any, error) {
	f, ok := t.Field(p.field)
	if !ok {
		return "", nil, fieldErr(t, p.field, "unknown field in filter")
	}
	if len(p.values) == 0 {
		return "0", nil, nil
	}
	args := make([]any, 0, len(p.values))
	for _, v := range p.values {
		cv, err := toColumn(t, f, v)
		if err != nil {
			return "", nil, err
		}
		args = append(args, cv)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	return fmt.Sprintf("%s IN (%s)", quote(f.Name), marks), args, nil
}

type and []Predicate

// And matches rows satisfying every predicate.
func And(ps ...Predicate) Predicate { return and(ps) }

func (a and) where(t Table) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, p := range a {
		if p == nil {
			continue
		}
		c, as, err := p.where(t)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "("+c+")")
		args = append(args, as...)
	}
	if len(clauses) == 0 {
		return "1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func whereClause(t Table, p Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	c, args, err := p.where(t)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + c, args, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
