// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/pkg/errors"
)

// Instruction is a node of the dataflow graph.
//
// Instructions are linked (Prev/Next) into the Block that owns them, between the block's
// OpParam and OpReturn sentinels. Moving an instruction, even to another block, preserves its
// identity (ID), its inputs and its outputs.
type Instruction struct {
	graph *Graph
	id    uint64
	kind  OpKind

	inputs  []*Value
	outputs []*Value
	blocks  []*Block

	// owner is nil while the instruction is not inserted into a block.
	owner      *Block
	prev, next *Instruction

	// topoPos orders instructions within the owner block: see Block.assignTopoPosition.
	topoPos int64

	sideEffects bool
	data        any
	destroyed   bool
}

// ID is unique within the Graph and stable across moves.
func (n *Instruction) ID() uint64 { return n.id }

// Kind of the operation.
func (n *Instruction) Kind() OpKind { return n.kind }

// Graph that created the instruction.
func (n *Instruction) Graph() *Graph { return n.graph }

// Owner returns the block where the instruction is inserted, or nil if it is detached.
func (n *Instruction) Owner() *Block { return n.owner }

// Prev returns the previous instruction in the owner block. The first instruction of a block
// returns the block's OpParam sentinel, and the sentinel itself returns nil.
func (n *Instruction) Prev() *Instruction { return n.prev }

// Next returns the next instruction in the owner block. The last instruction of a block
// returns the block's OpReturn sentinel, and the sentinel itself returns nil.
func (n *Instruction) Next() *Instruction { return n.next }

// Data returns the operation-specific attribute, e.g. the value of a constant.
func (n *Instruction) Data() any { return n.data }

// SetData sets the operation-specific attribute.
func (n *Instruction) SetData(data any) { n.data = data }

// SetSideEffects marks the instruction as having side effects, regardless of its kind.
func (n *Instruction) SetSideEffects(sideEffects bool) { n.sideEffects = sideEffects }

// IsDestroyed returns whether Destroy was called on the instruction (or on a block holding it).
func (n *Instruction) IsDestroyed() bool { return n.destroyed }

// HasSideEffects returns whether the instruction, or any instruction nested in its blocks,
// has side effects.
func (n *Instruction) HasSideEffects() bool {
	if n.sideEffects || n.kind.HasSideEffects() {
		return true
	}
	for _, block := range n.blocks {
		for inst := block.First(); inst != block.ret; inst = inst.next {
			if inst.HasSideEffects() {
				return true
			}
		}
	}
	return false
}

// MarkedWithSideEffects returns whether SetSideEffects(true) was called on this instruction.
func (n *Instruction) MarkedWithSideEffects() bool { return n.sideEffects }

// Inputs returns a copy of the list of inputs.
func (n *Instruction) Inputs() []*Value { return slices.Clone(n.inputs) }

// Input returns the i-th input.
func (n *Instruction) Input(i int) *Value { return n.inputs[i] }

// NumInputs returns the number of inputs.
func (n *Instruction) NumInputs() int { return len(n.inputs) }

// Outputs returns a copy of the list of outputs.
func (n *Instruction) Outputs() []*Value { return slices.Clone(n.outputs) }

// Output returns the i-th output.
func (n *Instruction) Output(i int) *Value { return n.outputs[i] }

// NumOutputs returns the number of outputs.
func (n *Instruction) NumOutputs() int { return len(n.outputs) }

// Blocks returns a copy of the list of nested blocks.
func (n *Instruction) Blocks() []*Block { return slices.Clone(n.blocks) }

// Block returns the i-th nested block.
func (n *Instruction) Block(i int) *Block { return n.blocks[i] }

// NumBlocks returns the number of nested blocks.
func (n *Instruction) NumBlocks() int { return len(n.blocks) }

// checkAlive panics if the instruction was destroyed.
func (n *Instruction) checkAlive() {
	if n.destroyed {
		panic(errors.Errorf("use of destroyed instruction #%d (%s)", n.id, n.kind))
	}
}

// AddInput appends v to the inputs and returns its index.
func (n *Instruction) AddInput(v *Value) int {
	n.checkAlive()
	if v == nil {
		panic(errors.Errorf("%s #%d: cannot add nil input", n.kind, n.id))
	}
	v.addUse(n, len(n.inputs))
	n.inputs = append(n.inputs, v)
	return len(n.inputs) - 1
}

// ReplaceInput makes input i refer to v.
func (n *Instruction) ReplaceInput(i int, v *Value) {
	n.checkAlive()
	if v == nil {
		panic(errors.Errorf("%s #%d: cannot replace input #%d with nil", n.kind, n.id, i))
	}
	if n.inputs[i] == v {
		return
	}
	n.inputs[i].removeUse(n, i)
	v.addUse(n, i)
	n.inputs[i] = v
}

// ReplaceInputWith replaces every occurrence of from in the inputs by to.
func (n *Instruction) ReplaceInputWith(from, to *Value) {
	for i, v := range n.inputs {
		if v == from {
			n.ReplaceInput(i, to)
		}
	}
}

// RemoveInput removes input i, shifting the following inputs.
func (n *Instruction) RemoveInput(i int) {
	n.checkAlive()
	n.inputs[i].removeUse(n, i)
	for j := i + 1; j < len(n.inputs); j++ {
		n.inputs[j].shiftUse(n, j, j-1)
	}
	n.inputs = slices.Delete(n.inputs, i, i+1)
}

// RemoveAllInputs drops all inputs.
func (n *Instruction) RemoveAllInputs() {
	for i, v := range n.inputs {
		v.removeUse(n, i)
	}
	n.inputs = nil
}

// AddOutput appends a new output value of the given type.
func (n *Instruction) AddOutput(t Type) *Value {
	n.checkAlive()
	v := n.graph.newValue(n, len(n.outputs), t)
	n.outputs = append(n.outputs, v)
	return v
}

// EraseOutput removes output i, which must not have uses.
func (n *Instruction) EraseOutput(i int) {
	n.checkAlive()
	v := n.outputs[i]
	if v.HasUses() {
		panic(errors.Errorf("%s #%d: cannot erase output %s that still has %d uses", n.kind, n.id, v, v.NumUses()))
	}
	n.outputs = slices.Delete(n.outputs, i, i+1)
	for j := i; j < len(n.outputs); j++ {
		n.outputs[j].offset = j
	}
	v.producer = nil
}

// AddBlock appends a new empty nested block.
func (n *Instruction) AddBlock() *Block {
	n.checkAlive()
	b := newBlock(n.graph, n)
	n.blocks = append(n.blocks, b)
	return b
}

// InsertBefore inserts the detached instruction n right before other.
func (n *Instruction) InsertBefore(other *Instruction) *Instruction {
	n.checkDetached()
	if other.kind == OpParam {
		panic(errors.Errorf("cannot insert %s #%d before a block's param sentinel", n.kind, n.id))
	}
	n.linkAfter(other.prev)
	return n
}

// InsertAfter inserts the detached instruction n right after other.
func (n *Instruction) InsertAfter(other *Instruction) *Instruction {
	n.checkDetached()
	if other.kind == OpReturn {
		panic(errors.Errorf("cannot insert %s #%d after a block's return sentinel", n.kind, n.id))
	}
	n.linkAfter(other)
	return n
}

// MoveBefore moves n, which must be inserted in a block, right before other.
// other may be in a different block.
func (n *Instruction) MoveBefore(other *Instruction) {
	if n == other {
		return
	}
	n.unlink()
	n.InsertBefore(other)
}

// MoveAfter moves n, which must be inserted in a block, right after other.
// other may be in a different block.
func (n *Instruction) MoveAfter(other *Instruction) {
	if n == other {
		return
	}
	n.unlink()
	n.InsertAfter(other)
}

func (n *Instruction) checkDetached() {
	n.checkAlive()
	if n.owner != nil {
		panic(errors.Errorf("%s #%d is already inserted in a block", n.kind, n.id))
	}
	if n.kind.IsSentinel() {
		panic(errors.Errorf("block sentinels (%s #%d) cannot be inserted", n.kind, n.id))
	}
}

func (n *Instruction) linkAfter(prev *Instruction) {
	prev.checkAlive()
	if prev.owner == nil {
		panic(errors.Errorf("cannot insert %s #%d next to detached %s #%d", n.kind, n.id, prev.kind, prev.id))
	}
	n.owner = prev.owner
	n.prev = prev
	n.next = prev.next
	prev.next.prev = n
	prev.next = n
	n.owner.assignTopoPosition(n)
}

func (n *Instruction) unlink() {
	n.checkAlive()
	if n.owner == nil {
		panic(errors.Errorf("%s #%d is not inserted in any block", n.kind, n.id))
	}
	if n.kind.IsSentinel() {
		panic(errors.Errorf("block sentinels (%s #%d) cannot be moved", n.kind, n.id))
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next, n.owner = nil, nil, nil
}

// Destroy removes the instruction from its block and from the use lists of its inputs, and
// destroys its nested blocks. None of its outputs can still have uses.
//
// Any later mutation of a destroyed instruction panics.
func (n *Instruction) Destroy() {
	n.checkAlive()
	if n.kind.IsSentinel() {
		panic(errors.Errorf("block sentinels (%s #%d) cannot be destroyed individually", n.kind, n.id))
	}
	n.destroy()
}

func (n *Instruction) destroy() {
	for _, v := range n.outputs {
		if v.HasUses() {
			panic(errors.Errorf("cannot destroy %s #%d: output %s still has %d uses", n.kind, n.id, v, v.NumUses()))
		}
	}
	n.RemoveAllInputs()
	for _, block := range n.blocks {
		block.destroy()
	}
	if n.owner != nil && !n.kind.IsSentinel() {
		n.unlink()
	}
	n.destroyed = true
}

// IsBefore returns whether n comes strictly before other in program order.
//
// Instructions of different blocks are compared through their ancestors in the innermost
// block that holds both. If one of the instructions contains the other, neither is before the
// other.
func (n *Instruction) IsBefore(other *Instruction) bool {
	a, b, ok := liftToCommonBlock(n, other)
	return ok && a != b && a.topoPos < b.topoPos
}

// IsAfter returns whether n comes strictly after other in program order. See IsBefore.
func (n *Instruction) IsAfter(other *Instruction) bool {
	return other.IsBefore(n)
}

// Contains returns whether other is nested (at any depth) in one of n's blocks.
func (n *Instruction) Contains(other *Instruction) bool {
	for other.owner != nil && other.owner.owner != nil {
		other = other.owner.owner
		if other == n {
			return true
		}
	}
	return false
}

// depth is the number of instructions enclosing n.
func (n *Instruction) depth() int {
	var depth int
	for block := n.owner; block != nil && block.owner != nil; block = block.owner.owner {
		depth++
	}
	return depth
}

func liftToCommonBlock(a, b *Instruction) (*Instruction, *Instruction, bool) {
	if a.owner == nil || b.owner == nil || a.graph != b.graph {
		return nil, nil, false
	}
	depthA, depthB := a.depth(), b.depth()
	for ; depthA > depthB; depthA-- {
		a = a.owner.owner
	}
	for ; depthB > depthA; depthB-- {
		b = b.owner.owner
	}
	for a.owner != b.owner {
		if a.owner.owner == nil || b.owner.owner == nil {
			return nil, nil, false
		}
		a, b = a.owner.owner, b.owner.owner
	}
	return a, b, true
}

// String returns a one-line description of the instruction, without its nested blocks.
func (n *Instruction) String() string {
	var p printer
	p.instructionHeader(n)
	return p.String()
}
