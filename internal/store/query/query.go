// Package query is a small boolean-expression language evaluated against
// generic JSON records (map[string]any). Paths are dot separated and walk
// nested objects, e.g. "owner.address.city".
//
//	expr := query.And(
//	    query.Eq("color", "red"),
//	    query.Any("wheels", query.Gt("size", 17)),
//	)
//	matched := expr.Eval(record)
package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Expr is a predicate over a record.
type Expr interface {
	Eval(record map[string]any) bool
	String() string
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpGt Op = ">"
	OpGe Op = ">="
	OpLt Op = "<"
	OpLe Op = "<="
)

// Lookup resolves a dotted path in record.
func Lookup(record map[string]any, path string) (any, bool) {
	var cur any = record
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

type compare struct {
	path  string
	op    Op
	value any
}

// Eq matches records whose value at path equals v. Numbers compare by value
// regardless of Go type.
func Eq(path string, v any) Expr { return compare{path, OpEq, v} }

// Ne matches records whose value at path is absent or differs from v.
func Ne(path string, v any) Expr { return compare{path, OpNe, v} }

// Gt matches records whose value at path orders after v.
func Gt(path string, v any) Expr { return compare{path, OpGt, v} }

// Ge matches records whose value at path orders after or equal to v.
func Ge(path string, v any) Expr { return compare{path, OpGe, v} }

// Lt matches records whose value at path orders before v.
func Lt(path string, v any) Expr { return compare{path, OpLt, v} }

// Le matches records whose value at path orders before or equal to v.
func Le(path string, v any) Expr { return compare{path, OpLe, v} }

func (c compare) Eval(record map[string]any) bool {
	got, ok := Lookup(record, c.path)
	if !ok {
		return c.op == OpNe
	}
	switch c.op {
	case OpEq:
		return equal(got, c.value)
	case OpNe:
		return !equal(got, c.value)
	}
	n, ok := order(got, c.value)
	if !ok {
		return false
	}
	return satisfies(c.op, n)
}

func (c compare) String() string {
	return fmt.Sprintf("%s %s %s", c.path, c.op, literal(c.value))
}

type contains struct {
	path  string
	value any
}

// Contains matches records whose string at path contains v as a substring,
// or whose array at path has an element equal to v.
func Contains(path string, v any) Expr { return contains{path, v} }

func (c contains) Eval(record map[string]any) bool {
	got, ok := Lookup(record, c.path)
	if !ok {
		return false
	}
	switch g := got.(type) {
	case string:
		s, ok := c.value.(string)
		return ok && strings.Contains(g, s)
	case []any:
		for _, el := range g {
			if equal(el, c.value) {
				return true
			}
		}
	}
	return false
}

func (c contains) String() string {
	return fmt.Sprintf("%s contains %s", c.path, literal(c.value))
}

type exists struct{ path string }

// Exists matches records with any value, including null, at path.
func Exists(path string) Expr { return exists{path} }

func (e exists) Eval(record map[string]any) bool {
	_, ok := Lookup(record, e.path)
	return ok
}

func (e exists) String() string { return "exists(" + e.path + ")" }

type and []Expr

// And matches records satisfying every expression. And() matches everything.
func And(exprs ...Expr) Expr { return and(exprs) }

func (a and) Eval(record map[string]any) bool {
	for _, e := range a {
		if !e.Eval(record) {
			return false
		}
	}
	return true
}

func (a and) String() string { return join(a, " && ") }

type or []Expr

// Or matches records satisfying at least one expression. Or() matches
// nothing.
func Or(exprs ...Expr) Expr { return or(exprs) }

func (o or) Eval(record map[string]any) bool {
	for _, e := range o {
		if e.Eval(record) {
			return true
		}
	}
	return false
}

func (o or) String() string { return join(o, " || ") }

type not struct{ expr Expr }

// Not negates e.
func Not(e Expr) Expr { return not{e} }

func (n not) Eval(record map[string]any) bool { return !n.expr.Eval(record) }

func (n not) String() string { return "!(" + n.expr.String() + ")" }

type anyOf struct {
	path string
	expr Expr
}

// Any matches records whose array at path has an object element satisfying
// e. Paths inside e are relative to the element.
func Any(path string, e Expr) Expr { return anyOf{path, e} }

func (a anyOf) Eval(record map[string]any) bool {
	got, ok := Lookup(record, a.path)
	if !ok {
		return false
	}
	items, ok := got.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if m, ok := item.(map[string]any); ok && a.expr.Eval(m) {
			return true
		}
	}
	return false
}

func (a anyOf) String() string {
	return fmt.Sprintf("any(%s, %s)", a.path, a.expr)
}

type count struct {
	path string
	op   Op
	n    int
}

// Count compares the length of the array at path with n. A missing or
// non-array value has length zero.
func Count(path string, op Op, n int) Expr { return count{path, op, n} }

func (c count) Eval(record map[string]any) bool {
	length := 0
	if got, ok := Lookup(record, c.path); ok {
		if items, ok := got.([]any); ok {
			length = len(items)
		}
	}
	switch {
	case length < c.n:
		return satisfies(c.op, -1)
	case length > c.n:
		return satisfies(c.op, 1)
	default:
		return satisfies(c.op, 0)
	}
}

func (c count) String() string {
	return fmt.Sprintf("count(%s) %s %d", c.path, c.op, c.n)
}

// satisfies reports whether a three-way comparison result n meets op.
func satisfies(op Op, n int) bool {
	switch op {
	case OpEq:
		return n == 0
	case OpNe:
		return n != 0
	case OpGt:
		return n > 0
	case OpGe:
		return n >= 0
	case OpLt:
		return n < 0
	case OpLe:
		return n <= 0
	default:
		return false
	}
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

// order compares numbers numerically and strings lexically.
func order(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}
	x, ok := a.(string)
	if !ok {
		return 0, false
	}
	y, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(x, y), true
}

func number(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func literal(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}

func join[T ~[]Expr](exprs T, sep string) string {
	if len(exprs) == 0 {
		return "()"
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
