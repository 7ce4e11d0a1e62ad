// Package conditions implements branch-condition evaluation for workflow
// steps. Evaluation is pure: a condition and a flat document context map in,
// a boolean out. Type mismatches never fail a workflow; they evaluate false.
package conditions

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator identifies a comparison applied between a context field and a
// condition value.
type Operator string

const (
	Equals      Operator = "equals"
	NotEquals   Operator = "not_equals"
	GreaterThan Operator = "greater_than"
	LessThan    Operator = "less_than"
	Contains    Operator = "contains"
)

// Valid reports whether the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	switch o {
	case Equals, NotEquals, GreaterThan, LessThan, Contains:
		return true
	}
	return false
}

// Condition compares a single context field against a value and, when it
// matches, routes the execution to TargetStep.
type Condition struct {
	Field      string   `json:"field"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value"`
	TargetStep int      `json:"target_step"`
}

// Context is a flat key/value view combining document metadata and values
// submitted through form steps.
type Context map[string]any

// Evaluate reports whether the condition matches the context. A missing
// field only matches not_equals. Numeric comparisons on non-numeric operands
// evaluate false rather than erroring, so workflow progress is never fatal.
func Evaluate(c Condition, ctx Context) bool {
	field, ok := ctx[c.Field]
	if !ok {
		return c.Operator == NotEquals
	}

	switch c.Operator {
	case Equals:
		return equal(field, c.Value)
	case NotEquals:
		return !equal(field, c.Value)
	case GreaterThan:
		l, r, ok := numericPair(field, c.Value)
		return ok && l > r
	case LessThan:
		l, r, ok := numericPair(field, c.Value)
		return ok && l < r
	case Contains:
		return contains(field, c.Value)
	}

	return false
}

// FirstMatch evaluates conditions in declaration order and returns the
// target step of the first match.
func FirstMatch(conds []Condition, ctx Context) (int, bool) {
	for _, c := range conds {
		if Evaluate(c, ctx) {
			return c.TargetStep, true
		}
	}
	return 0, false
}

// equal performs type-aware equality: numeric comparison when both sides
// coerce to numbers, string comparison otherwise.
func equal(a, b any) bool {
	if l, r, ok := numericPair(a, b); ok {
		return l == r
	}
	return stringify(a) == stringify(b)
}

func contains(field, value any) bool {
	switch v := field.(type) {
	case []any:
		for _, item := range v {
			if equal(item, value) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if equal(item, value) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringify(field), stringify(value))
	}
}

func numericPair(a, b any) (float64, float64, bool) {
	l, lok := numeric(a)
	r, rok := numeric(b)
	return l, r, lok && rok
}

func numeric(v any) (float64, bool) {
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
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		return 0, false
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
