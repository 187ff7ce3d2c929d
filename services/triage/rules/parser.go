// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"slices"
)

// maxDepth bounds parenthesis and "not" nesting.
const maxDepth = 64

// Expr is a compiled rule condition.
//
// Thread Safety: Immutable; safe for concurrent evaluation.
type Expr struct {
	src  string
	root node
}

// String returns the source text of the condition.
func (x *Expr) String() string { return x.src }

// Compile parses a condition.
//
// Description:
//
//	Grammar, lowest precedence first:
//
//	  or_expr  := and_expr ("or" and_expr)*
//	  and_expr := not_expr ("and" not_expr)*
//	  not_expr := "not" not_expr | cmp
//	  cmp      := operand (("<"|">"|"<="|">="|"=="|"!=") operand)*
//	  operand  := number | "true" | "false" | variable | "(" or_expr ")"
//
//	Variables are limited to Variables. Anything else, including string
//	literals, arithmetic, calls and attribute access, is rejected.
//
// Inputs:
//   - src: Condition text.
//
// Outputs:
//   - *Expr: Compiled condition.
//   - error: *SyntaxError when src is outside the grammar.
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, syntaxErr(0, "empty condition")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(t.pos, "unexpected %s %q", t.kind, t.text)
	}
	return &Expr{src: src, root: root}, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	xs := []node{first}
	for p.isKeyword("or") {
		p.next()
		x, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
	}
	if len(xs) == 1 {
		return first, nil
	}
	return orNode{xs: xs}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	xs := []node{first}
	for p.isKeyword("and") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
	}
	if len(xs) == 1 {
		return first, nil
	}
	return andNode{xs: xs}, nil
}

func (p *parser) parseNot() (node, error) {
	if !p.isKeyword("not") {
		return p.parseCompare()
	}
	t := p.next()
	if p.depth++; p.depth > maxDepth {
		return nil, syntaxErr(t.pos, "condition nested too deeply")
	}
	defer func() { p.depth-- }()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return notNode{x: x}, nil
}

func (p *parser) parseCompare() (node, error) {
	first, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp := compareNode{operands: []node{first}}
	for p.peek().kind == tokOp {
		op := p.next()
		x, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op.text)
		cmp.operands = append(cmp.operands, x)
	}
	if len(cmp.ops) == 0 {
		return first, nil
	}
	return cmp, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return literal{v: value{kind: kindNumber, num: t.num}}, nil
	case tokLParen:
		if p.depth++; p.depth > maxDepth {
			return nil, syntaxErr(t.pos, "condition nested too deeply")
		}
		x, err := p.parseOr()
		p.depth--
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, syntaxErr(closing.pos, "expected ')' but found %s", closing.kind)
		}
		return x, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return literal{v: value{kind: kindBool, b: true}}, nil
		case "false", "False":
			return literal{v: value{kind: kindBool, b: false}}, nil
		case "and", "or", "not":
			return nil, syntaxErr(t.pos, "unexpected keyword %q", t.text)
		}
		if !slices.Contains(Variables, t.text) {
			return nil, syntaxErr(t.pos, "unknown variable %q", t.text)
		}
		if nxt := p.peek(); nxt.kind == tokLParen {
			return nil, syntaxErr(nxt.pos, "function calls are not allowed")
		}
		return variable{name: t.text}, nil
	}
	return nil, syntaxErr(t.pos, "expected operand but found %s", t.kind)
}

// eval evaluates the condition against bound variables.
func (x *Expr) eval(e env) bool {
	return x.root.eval(e).truthy()
}
