// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aliasdb

import (
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"k8s.io/klog/v2"
)

type moveSide int

const (
	moveBefore moveSide = iota
	moveAfter
)

// MoveBeforeTopologicallyValid tries to move n right before movePoint, both in the same block.
//
// Instructions in between that depend on n (through data or aliasing) are moved along to
// the other side of movePoint, preserving their relative order. The move is done only if
// the result keeps every data and memory dependency, and it returns whether it was done.
// Side-effecting instructions are never moved.
func (db *AliasDB) MoveBeforeTopologicallyValid(n, movePoint *ir.Instruction) bool {
	return db.tryMove(n, movePoint, moveBefore, false)
}

// MoveAfterTopologicallyValid is like MoveBeforeTopologicallyValid, but moves n right after movePoint.
func (db *AliasDB) MoveAfterTopologicallyValid(n, movePoint *ir.Instruction) bool {
	return db.tryMove(n, movePoint, moveAfter, false)
}

// CouldMoveBeforeTopologically returns whether MoveBeforeTopologicallyValid would succeed,
// without changing the graph.
func (db *AliasDB) CouldMoveBeforeTopologically(n, movePoint *ir.Instruction) bool {
	return db.tryMove(n, movePoint, moveBefore, true)
}

// CouldMoveAfterTopologically returns whether MoveAfterTopologicallyValid would succeed,
// without changing the graph.
func (db *AliasDB) CouldMoveAfterTopologically(n, movePoint *ir.Instruction) bool {
	return db.tryMove(n, movePoint, moveAfter, true)
}

// dependsOn returns whether a and b cannot be reordered with respect to each other.
func (db *AliasDB) dependsOn(a, b *ir.Instruction) bool {
	if a.HasSideEffects() || b.HasSideEffects() {
		return true
	}
	if usesOutputsOf(a, b) || usesOutputsOf(b, a) {
		return true
	}
	return db.HasMutabilityDependency(a, b)
}

// usesOutputsOf returns whether user, or an instruction nested in it, uses an output of producer.
func usesOutputsOf(user, producer *ir.Instruction) bool {
	for _, v := range producer.Outputs() {
		for _, use := range v.Uses() {
			if use.User == user || user.Contains(use.User) {
				return true
			}
		}
	}
	return false
}

// workingSet is a list of instructions that must move together.
type workingSet []*ir.Instruction

func (db *AliasDB) workingSetDependsOn(ws workingSet, n *ir.Instruction) bool {
	for _, member := range ws {
		if db.dependsOn(member, n) {
			return true
		}
	}
	return false
}

func neighbor(n *ir.Instruction, forward bool) *ir.Instruction {
	if forward {
		return n.Next()
	}
	return n.Prev()
}

func place(n, movePoint *ir.Instruction, side moveSide) {
	if side == moveBefore {
		n.MoveBefore(movePoint)
	} else {
		n.MoveAfter(movePoint)
	}
}

func (db *AliasDB) tryMove(toMove, movePoint *ir.Instruction, side moveSide, dryRun bool) bool {
	block := toMove.Owner()
	if block == nil || block != movePoint.Owner() {
		return false
	}
	if toMove == movePoint {
		return true
	}
	if toMove.Kind().IsSentinel() ||
		(side == moveBefore && movePoint == block.Param()) ||
		(side == moveAfter && movePoint == block.Return()) {
		return false
	}
	if toMove.HasSideEffects() {
		return false
	}

	// 1. Walk from toMove toward movePoint, collecting the instructions that must move with it.
	forward := toMove.IsBefore(movePoint)
	ws := workingSet{toMove}
	for cur := neighbor(toMove, forward); cur != movePoint; cur = neighbor(cur, forward) {
		if db.workingSetDependsOn(ws, cur) {
			if cur.HasSideEffects() {
				return false
			}
			ws = append(ws, cur)
		}
	}

	// 2. When toMove stays on its side of movePoint, its dependents are split off from it and
	// cross movePoint on their own:
	//
	//	toMove          toMove
	//	<dependents> -> movePoint
	//	movePoint       <dependents>
	//
	// Otherwise toMove and the instructions it depends on all cross movePoint together.
	split := (side == moveBefore && forward) || (side == moveAfter && !forward)
	deps := ws[1:]
	crossing := ws
	if split {
		crossing = deps
	}
	if db.workingSetDependsOn(crossing, movePoint) {
		return false
	}
	if dryRun {
		return true
	}

	// 3. Execute the move.
	if klog.V(3).Enabled() {
		klog.Infof("aliasdb: moving %s (with %d dependencies) next to %s", toMove, len(deps), movePoint)
	}
	place(toMove, movePoint, side)
	if split {
		reversed := moveAfter
		if side == moveAfter {
			reversed = moveBefore
		}
		cur := movePoint
		for _, n := range deps {
			place(n, cur, reversed)
			cur = n
		}
	} else {
		cur := toMove
		for _, n := range deps {
			place(n, cur, side)
			cur = n
		}
	}
	return true
}
