// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/pkg/errors"
)

// Block is an ordered list of instructions, delimited by an OpParam sentinel (whose outputs
// are the block parameters) and an OpReturn sentinel (whose inputs are the block results).
//
// A Block is owned either by the Graph (the top-level block) or by an Instruction.
type Block struct {
	graph      *Graph
	owner      *Instruction
	param, ret *Instruction
}

// Positions of the sentinels and the gap left between appended instructions.
// The bounds leave room so that differences never overflow an int64.
const (
	topoLowerBound     = -(int64(1) << 61)
	topoUpperBound     = int64(1) << 61
	topoAppendInterval = int64(1) << 20
)

func newBlock(g *Graph, owner *Instruction) *Block {
	b := &Block{graph: g, owner: owner}
	b.param = g.newInstruction(OpParam)
	b.ret = g.newInstruction(OpReturn)
	b.param.owner, b.ret.owner = b, b
	b.param.next, b.ret.prev = b.ret, b.param
	b.param.topoPos, b.ret.topoPos = topoLowerBound, topoUpperBound
	return b
}

// Graph that owns the block.
func (b *Block) Graph() *Graph { return b.graph }

// Owner returns the instruction holding this block, or nil for the graph's top-level block.
func (b *Block) Owner() *Instruction { return b.owner }

// Parent returns the block holding the owner of this block, or nil for the top-level block.
func (b *Block) Parent() *Block {
	if b.owner == nil {
		return nil
	}
	return b.owner.owner
}

// Param returns the OpParam sentinel, whose outputs are the block parameters.
func (b *Block) Param() *Instruction { return b.param }

// Return returns the OpReturn sentinel, whose inputs are the block results.
func (b *Block) Return() *Instruction { return b.ret }

// First returns the first instruction of the block, or the OpReturn sentinel if the block is empty.
func (b *Block) First() *Instruction { return b.param.next }

// Last returns the last instruction of the block, or the OpParam sentinel if the block is empty.
func (b *Block) Last() *Instruction { return b.ret.prev }

// IsEmpty returns whether the block has no instructions (besides its sentinels).
func (b *Block) IsEmpty() bool { return b.param.next == b.ret }

// Instructions returns a snapshot of the block's instructions in program order, without the sentinels.
func (b *Block) Instructions() []*Instruction {
	var instructions []*Instruction
	for n := b.First(); n != b.ret; n = n.next {
		instructions = append(instructions, n)
	}
	return instructions
}

// NumInstructions returns the number of instructions in the block, not counting nested blocks.
func (b *Block) NumInstructions() int {
	var count int
	for n := b.First(); n != b.ret; n = n.next {
		count++
	}
	return count
}

// Params returns the block parameters.
func (b *Block) Params() []*Value { return b.param.Outputs() }

// ParamAt returns the i-th block parameter.
func (b *Block) ParamAt(i int) *Value { return b.param.outputs[i] }

// AddParam appends a new block parameter.
func (b *Block) AddParam(t Type) *Value { return b.param.AddOutput(t) }

// EraseParam removes the i-th block parameter, which must not have uses.
func (b *Block) EraseParam(i int) { b.param.EraseOutput(i) }

// Results returns the values returned by the block.
func (b *Block) Results() []*Value { return b.ret.Inputs() }

// ResultAt returns the i-th block result.
func (b *Block) ResultAt(i int) *Value { return b.ret.inputs[i] }

// RegisterResult appends v to the block results and returns its index.
func (b *Block) RegisterResult(v *Value) int { return b.ret.AddInput(v) }

// Append inserts the detached instruction n at the end of the block.
func (b *Block) Append(n *Instruction) *Instruction { return n.InsertBefore(b.ret) }

// Prepend inserts the detached instruction n at the start of the block.
func (b *Block) Prepend(n *Instruction) *Instruction { return n.InsertAfter(b.param) }

// Walk calls fn for every instruction of the block in program order. Instructions in nested
// blocks are visited right after the instruction that holds them.
//
// fn must not move or destroy instructions.
func (b *Block) Walk(fn func(n *Instruction)) {
	for n := b.First(); n != b.ret; n = n.next {
		fn(n)
		for _, nested := range n.blocks {
			nested.Walk(fn)
		}
	}
}

// assignTopoPosition sets the position of the just linked instruction n, between its neighbors.
func (b *Block) assignTopoPosition(n *Instruction) {
	prevPos, nextPos := n.prev.topoPos, n.next.topoPos
	if n.next == b.ret && prevPos+topoAppendInterval < nextPos {
		n.topoPos = prevPos + topoAppendInterval
		return
	}
	if n.prev == b.param && nextPos-topoAppendInterval > prevPos {
		n.topoPos = nextPos - topoAppendInterval
		return
	}
	if nextPos-prevPos > 1 {
		n.topoPos = prevPos + (nextPos-prevPos)/2
		return
	}
	b.reindexTopology()
}

// reindexTopology spreads the positions of all instructions evenly.
func (b *Block) reindexTopology() {
	pos := topoLowerBound
	for n := b.First(); n != b.ret; n = n.next {
		pos += topoAppendInterval
		if pos >= topoUpperBound {
			panic(errors.Errorf("block has too many instructions to index"))
		}
		n.topoPos = pos
	}
}

// destroy all instructions of the block, last to first, and then its sentinels.
func (b *Block) destroy() {
	b.ret.RemoveAllInputs()
	for n := b.Last(); n != b.param; {
		prev := n.prev
		n.destroy()
		n = prev
	}
	b.ret.destroyed = true
	b.param.destroy()
}
