package expr

import (
	"fmt"
	"math"
)

// Env resolves identifiers during evaluation.
type Env interface {
	Lookup(name string) (any, bool)
}

// Vars is a map-backed Env.
type Vars map[string]any

func (v Vars) Lookup(name string) (any, bool) {
	val, ok := v[name]
	return val, ok
}

// Eval runs the program against env. The result must be boolean.
func (p *Program) Eval(env Env) (bool, error) {
	v, err := p.root.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr %q: result is %T, not bool", p.src, v)
	}
	return b, nil
}

func (n *litNode) eval(Env) (any, error) { return n.val, nil }

func (n *identNode) eval(env Env) (any, error) {
	v, ok := env.Lookup(n.name)
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", n.name)
	}
	return v, nil
}

func evalBool(n node, env Env) (bool, error) {
	v, err := n.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool operand, got %T", v)
	}
	return b, nil
}

func (n *andNode) eval(env Env) (any, error) {
	l, err := evalBool(n.left, env)
	if err != nil || !l {
		return false, err
	}
	return evalBool(n.right, env)
}

func (n *orNode) eval(env Env) (any, error) {
	l, err := evalBool(n.left, env)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return evalBool(n.right, env)
}

func (n *notNode) eval(env Env) (any, error) {
	b, err := evalBool(n.inner, env)
	return !b, err
}

func (n *cmpNode) eval(env Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	lf, lnum := number(l)
	rf, rnum := number(r)
	switch n.op {
	case "==", "!=":
		var eq bool
		switch {
		case lnum && rnum:
			eq = math.Abs(lf-rf) < 1e-9
		case lnum != rnum:
			eq = false
		default:
			eq = l == r
		}
		if n.op == "!=" {
			return !eq, nil
		}
		return eq, nil
	}
	if !lnum || !rnum {
		return nil, fmt.Errorf("operator %s needs numbers, got %T and %T", n.op, l, r)
	}
	switch n.op {
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	}
	return nil, fmt.Errorf("unknown operator %s", n.op)
}

func number(v any) (float64, bool) {
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
	}
	return 0, false
}
