// Package expr compiles the small boolean rule language used to configure
// when prompts fire, e.g.
//
//	score > 30 AND seconds_on_site > 45 AND NOT converted
package expr

import (
	"fmt"
	"strconv"
)

// node is a compiled expression tree node.
type node interface {
	eval(env Env) (any, error)
}

type (
	andNode struct{ left, right node }
	orNode  struct{ left, right node }
	notNode struct{ inner node }
	cmpNode struct {
		op          string
		left, right node
	}
	litNode   struct{ val any }
	identNode struct{ name string }
)

// Program is a compiled expression, safe for concurrent evaluation.
type Program struct {
	src  string
	root node
}

// String returns the source the program was compiled from.
func (p *Program) String() string { return p.src }

// Compile parses src once; evaluation never re-parses.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("expr %q: %w", src, err)
	}
	ps := &parser{toks: toks}
	root, err := ps.or()
	if err != nil {
		return nil, fmt.Errorf("expr %q: %w", src, err)
	}
	if t := ps.peek(); t.kind != tEnd {
		return nil, fmt.Errorf("expr %q: position %d: unexpected %q", src, t.pos, t.text)
	}
	return &Program{src: src, root: root}, nil
}

// Idents lists the variables the program reads, in first-use order. Unlike
// Eval it sees every branch, including ones AND/OR would short-circuit.
func (p *Program) Idents() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(n node)
	walk = func(n node) {
		switch n := n.(type) {
		case *andNode:
			walk(n.left)
			walk(n.right)
		case *orNode:
			walk(n.left)
			walk(n.right)
		case *notNode:
			walk(n.inner)
		case *cmpNode:
			walk(n.left)
			walk(n.right)
		case *identNode:
			if !seen[n.name] {
				seen[n.name] = true
				out = append(out, n.name)
			}
		}
	}
	walk(p.root)
	return out
}

// MustCompile is Compile for expressions known at build time.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	toks []tok
	i    int
}

func (p *parser) peek() tok { return p.toks[p.i] }

func (p *parser) next() tok {
	t := p.toks[p.i]
	if t.kind != tEnd {
		p.i++
	}
	return t
}

// or := and { OR and }
func (p *parser) or() (node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

// and := unary { AND unary }
func (p *parser) and() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tAnd {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

// unary := NOT unary | comparison
func (p *parser) unary() (node, error) {
	if p.peek().kind == tNot {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	return p.comparison()
}

// comparison := primary [ CMP primary ]
func (p *parser) comparison() (node, error) {
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tCmp {
		return left, nil
	}
	op := p.next().text
	right, err := p.primary()
	if err != nil {
		return nil, err
	}
	return &cmpNode{op: op, left: left, right: right}, nil
}

// primary := "(" or ")" | literal | identifier
func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tLParen:
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tRParen {
			return nil, fmt.Errorf("position %d: expected ')'", c.pos)
		}
		return inner, nil
	case tNum:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("position %d: bad number %q", t.pos, t.text)
		}
		return &litNode{f}, nil
	case tStr:
		return &litNode{t.text}, nil
	case tBool:
		return &litNode{t.text == "true"}, nil
	case tIdent:
		return &identNode{t.text}, nil
	case tEnd:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("position %d: unexpected %q", t.pos, t.text)
	}
}
