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
	"github.com/AleutianAI/AleutianTriage/services/triage/schema"
)

// =============================================================================
// Values
// =============================================================================

type valueKind int

const (
	kindNull valueKind = iota
	kindNumber
	kindBool
)

// value is the result of evaluating an operand: unknown, a number or a bool.
type value struct {
	kind valueKind
	num  float64
	b    bool
}

func (v value) truthy() bool {
	switch v.kind {
	case kindNumber:
		return v.num != 0
	case kindBool:
		return v.b
	}
	return false
}

// numeric returns the number view of a known value; booleans are 1 or 0.
func (v value) numeric() float64 {
	if v.kind == kindBool {
		if v.b {
			return 1
		}
		return 0
	}
	return v.num
}

func numberOrNull(p *float64) value {
	if p == nil {
		return value{kind: kindNull}
	}
	return value{kind: kindNumber, num: *p}
}

// Variables names every identifier a condition may reference.
var Variables = []string{"hr", "sbp", "dbp", "temp", "spo2", "rr", "gcs", "any_red_flag"}

// env binds variable names to values for one evaluation.
type env map[string]value

// newEnv binds the context vitals and the red-flag indicator.
func newEnv(c schema.Context, anyRedFlag bool) env {
	v := c.Vitals
	return env{
		"hr":           numberOrNull(v.HR),
		"sbp":          numberOrNull(v.SBP),
		"dbp":          numberOrNull(v.DBP),
		"temp":         numberOrNull(v.Temp),
		"spo2":         numberOrNull(v.SpO2),
		"rr":           numberOrNull(v.RR),
		"gcs":          numberOrNull(v.GCS),
		"any_red_flag": {kind: kindBool, b: anyRedFlag},
	}
}

// =============================================================================
// AST
// =============================================================================

type node interface {
	eval(e env) value
}

type literal struct{ v value }

func (n literal) eval(env) value { return n.v }

type variable struct{ name string }

func (n variable) eval(e env) value { return e[n.name] }

type notNode struct{ x node }

func (n notNode) eval(e env) value {
	return value{kind: kindBool, b: !n.x.eval(e).truthy()}
}

type andNode struct{ xs []node }

func (n andNode) eval(e env) value {
	for _, x := range n.xs {
		if !x.eval(e).truthy() {
			return value{kind: kindBool, b: false}
		}
	}
	return value{kind: kindBool, b: true}
}

type orNode struct{ xs []node }

func (n orNode) eval(e env) value {
	for _, x := range n.xs {
		if x.eval(e).truthy() {
			return value{kind: kindBool, b: true}
		}
	}
	return value{kind: kindBool, b: false}
}

// compareNode is a comparison chain: a op1 b op2 c means a op1 b and b op2 c.
type compareNode struct {
	operands []node
	ops      []string
}

func (n compareNode) eval(e env) value {
	left := n.operands[0].eval(e)
	for i, op := range n.ops {
		right := n.operands[i+1].eval(e)
		if !compare(op, left, right) {
			return value{kind: kindBool, b: false}
		}
		left = right
	}
	return value{kind: kindBool, b: true}
}

// compare applies op; any comparison with an unknown operand is false.
func compare(op string, a, b value) bool {
	if a.kind == kindNull || b.kind == kindNull {
		return false
	}
	x, y := a.numeric(), b.numeric()
	switch op {
	case "<":
		return x < y
	case ">":
		return x > y
	case "<=":
		return x <= y
	case ">=":
		return x >= y
	case "==":
		return x == y
	case "!=":
		return x != y
	}
	return false
}
