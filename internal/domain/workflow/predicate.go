package workflow

import (
	"strings"
)

// Predicate operators.
const (
	OpEq        = "eq"
	OpNeq       = "neq"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpContains  = "contains"
	OpExists    = "exists"
	OpNotExists = "not_exists"
)

func validOp(op string) bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists, OpNotExists:
		return true
	}
	return false
}

// lookup resolves a dotted path ("decision.action") into nested maps.
func lookup(ctx map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asFloat(v interface{}) (float64, bool) {
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

// Evaluate applies the predicate to the run context. A missing field only
// satisfies not_exists; every other operator is false for it.
func (p Predicate) Evaluate(ctx map[string]interface{}) bool {
	v, ok := lookup(ctx, p.Field)
	switch p.Op {
	case OpExists:
		return ok
	case OpNotExists:
		return !ok
	}
	if !ok {
		return false
	}

	switch p.Op {
	case OpEq:
		return equal(v, p.Value)
	case OpNeq:
		return !equal(v, p.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := asFloat(v)
		b, bok := asFloat(p.Value)
		if !aok || !bok {
			return false
		}
		switch p.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		want, wok := p.Value.(string)
		if !wok {
			return false
		}
		switch have := v.(type) {
		case string:
			return strings.Contains(have, want)
		case []interface{}:
			for _, item := range have {
				if s, ok := item.(string); ok && s == want {
					return true
				}
			}
		case []string:
			for _, s := range have {
				if s == want {
					return true
				}
			}
		}
	}
	return false
}

func equal(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}
