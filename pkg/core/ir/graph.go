// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the dataflow graph rewritten by the fusion passes: a Graph holds a
// top-level Block of Instructions, which produce and consume Values. Instructions may hold
// nested blocks (control flow bodies, fusion groups), forming a tree of blocks.
//
// Instructions within a block are doubly linked, so navigating to a neighbor and relocating
// an instruction are O(1). Every instruction keeps a topological position in its block, so
// ordering queries (IsBefore) are O(1) for instructions of the same block.
//
// Invalid manipulations of the graph (e.g. destroying an instruction whose outputs are still
// used) panic with an error carrying a stack trace, as this package is used by compiler
// passes whose invariants must hold at every step. Use Graph.Lint to verify a graph.
package ir

import (
	"github.com/pkg/errors"
)

// Graph is a dataflow graph, with a top-level Block.
//
// The graph inputs are the top-level block parameters, and its outputs the top-level block results.
type Graph struct {
	name  string
	block *Block

	nextInstructionID, nextValueID uint64
}

// New creates an empty Graph with the given name.
func New(name string) *Graph {
	g := &Graph{name: name}
	g.block = newBlock(g, nil)
	return g
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Block returns the top-level block.
func (g *Graph) Block() *Block { return g.block }

// Inputs returns the graph inputs (the top-level block parameters).
func (g *Graph) Inputs() []*Value { return g.block.Params() }

// AddInput appends a new graph input.
func (g *Graph) AddInput(t Type) *Value { return g.block.AddParam(t) }

// Outputs returns the graph outputs (the top-level block results).
func (g *Graph) Outputs() []*Value { return g.block.Results() }

// RegisterOutput appends v to the graph outputs and returns its index.
func (g *Graph) RegisterOutput(v *Value) int { return g.block.RegisterResult(v) }

// Create returns a new detached instruction of the given kind, using the given inputs, and
// with one output per outputTypes. Insert it with Instruction.InsertBefore/InsertAfter or
// Block.Append/Prepend.
func (g *Graph) Create(kind OpKind, inputs []*Value, outputTypes ...Type) *Instruction {
	if kind <= OpInvalid || kind >= numOpKinds || kind.IsSentinel() {
		panic(errors.Errorf("cannot create instruction of kind %s", kind))
	}
	n := g.newInstruction(kind)
	for _, input := range inputs {
		n.AddInput(input)
	}
	for _, t := range outputTypes {
		n.AddOutput(t)
	}
	return n
}

// AppendNew creates an instruction (see Create) and appends it to block b.
func (g *Graph) AppendNew(b *Block, kind OpKind, inputs []*Value, outputTypes ...Type) *Instruction {
	return b.Append(g.Create(kind, inputs, outputTypes...))
}

// NumInstructions returns the number of instructions of the graph, including nested ones.
func (g *Graph) NumInstructions() int {
	var count int
	g.block.Walk(func(*Instruction) { count++ })
	return count
}

// LookupValue returns the value with the given debug name, searching the parameters and
// outputs of every block, in program order. It returns nil if not found.
func (g *Graph) LookupValue(name string) *Value {
	return lookupInBlock(g.block, name)
}

func lookupInBlock(b *Block, name string) *Value {
	for _, v := range b.param.outputs {
		if v.name == name {
			return v
		}
	}
	for n := b.First(); n != b.ret; n = n.next {
		for _, v := range n.outputs {
			if v.name == name {
				return v
			}
		}
		for _, nested := range n.blocks {
			if v := lookupInBlock(nested, name); v != nil {
				return v
			}
		}
	}
	return nil
}

// LookupInstruction returns the instruction with the given ID, or nil if it is not in the graph.
func (g *Graph) LookupInstruction(id uint64) *Instruction {
	var found *Instruction
	g.block.Walk(func(n *Instruction) {
		if n.id == id {
			found = n
		}
	})
	return found
}

func (g *Graph) newInstruction(kind OpKind) *Instruction {
	g.nextInstructionID++
	return &Instruction{graph: g, id: g.nextInstructionID, kind: kind}
}

func (g *Graph) newValue(producer *Instruction, offset int, t Type) *Value {
	g.nextValueID++
	return &Value{id: g.nextValueID, producer: producer, offset: offset, typ: t.Clone()}
}
