// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package subgraphs implements the graph surgery used to build fusion groups: wrapping an
// instruction into a new group, merging a producer into a group, and dissolving a group back
// into its parent block.
//
// A group is an instruction (usually of kind ir.OpFusionGroup) with exactly one nested block.
// The block parameters mirror the group inputs one to one, and the block results mirror the
// group outputs. Instructions are moved into and out of the block, never copied, so they keep
// their identity (ir.Instruction.ID).
package subgraphs

import (
	"slices"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/pkg/errors"
)

// AliasTracker is informed of values created to replace existing ones, so aliasing
// information stays consistent with the graph. *aliasdb.AliasDB implements it.
type AliasTracker interface {
	CopyValueAliasing(from, to *ir.Value)
}

func copyAliasing(tracker AliasTracker, from, to *ir.Value) {
	if tracker != nil {
		tracker.CopyValueAliasing(from, to)
	}
}

// IsSubgraph returns whether n is a group of the given kind.
func IsSubgraph(n *ir.Instruction, kind ir.OpKind) bool {
	return n.Kind() == kind && n.NumBlocks() == 1
}

// Body returns the block holding the instructions of the group.
func Body(group *ir.Instruction) *ir.Block {
	if group.NumBlocks() != 1 {
		panic(errors.Errorf("%s #%d is not a subgraph: it has %d blocks", group.Kind(), group.ID(), group.NumBlocks()))
	}
	return group.Block(0)
}

// Instructions returns the instructions in the group's block, in program order.
func Instructions(group *ir.Instruction) []*ir.Instruction {
	return Body(group).Instructions()
}

// CreateSingletonSubgraph wraps n into a new group of the given kind, inserted at n's
// position. Uses of n's outputs are rewired to the group's outputs.
//
// It returns the new group.
func CreateSingletonSubgraph(n *ir.Instruction, kind ir.OpKind, tracker AliasTracker) *ir.Instruction {
	if n.Owner() == nil {
		panic(errors.Errorf("CreateSingletonSubgraph: %s #%d is not inserted in a block", n.Kind(), n.ID()))
	}
	if n.Kind() == kind {
		panic(errors.Errorf("CreateSingletonSubgraph: %s #%d is already a subgraph", n.Kind(), n.ID()))
	}
	g := n.Graph()
	group := g.Create(kind, nil).InsertBefore(n)
	body := group.AddBlock()

	for _, v := range n.Inputs() {
		if slices.Contains(group.Inputs(), v) {
			// Repeated input, already replaced.
			continue
		}
		group.AddInput(v)
		param := body.AddParam(v.Type())
		copyAliasing(tracker, v, param)
		n.ReplaceInputWith(v, param)
	}
	n.MoveBefore(body.Return())

	for _, v := range n.Outputs() {
		out := group.AddOutput(v.Type())
		v.ReplaceAllUsesWith(out)
		body.RegisterResult(v)
		copyAliasing(tracker, v, out)
	}
	return group
}

// MergeNodeIntoSubgraph moves toMerge into group. toMerge must be in the same block as group
// and before it, with nothing in between that uses toMerge's outputs (see
// aliasdb.AliasDB.MoveBeforeTopologicallyValid).
//
// Inputs of toMerge become group inputs (reusing existing ones), group inputs produced by
// toMerge become internal, and uses of toMerge's outputs outside the group are rewired to new
// group outputs. If toMerge is itself a group of the same kind, its instructions are merged
// one by one.
//
// It returns the group, which keeps its identity.
func MergeNodeIntoSubgraph(toMerge, group *ir.Instruction, tracker AliasTracker) *ir.Instruction {
	if toMerge.Owner() == nil || toMerge.Owner() != group.Owner() {
		panic(errors.Errorf("MergeNodeIntoSubgraph: %s #%d and %s #%d are not in the same block",
			toMerge.Kind(), toMerge.ID(), group.Kind(), group.ID()))
	}
	if !toMerge.IsBefore(group) {
		panic(errors.Errorf("MergeNodeIntoSubgraph: %s #%d must come before %s #%d",
			toMerge.Kind(), toMerge.ID(), group.Kind(), group.ID()))
	}
	if IsSubgraph(toMerge, group.Kind()) {
		return mergeSubgraph(group, toMerge, tracker)
	}
	body := Body(group)

	// Wire inputs through the group's parameters.
	for i, v := range toMerge.Inputs() {
		var param *ir.Value
		if idx := slices.Index(group.Inputs(), v); idx >= 0 {
			param = body.ParamAt(idx)
		} else {
			group.AddInput(v)
			param = body.AddParam(v.Type())
			copyAliasing(tracker, v, param)
		}
		toMerge.ReplaceInput(i, param)
	}
	toMerge.MoveAfter(body.Param())

	for _, v := range toMerge.Outputs() {
		// Uses outside the group now go through a new group output.
		external := v.Uses()
		external = slices.DeleteFunc(external, func(use ir.Use) bool { return use.User == group })
		if len(external) > 0 {
			out := group.AddOutput(v.Type())
			v.ReplaceUsesIf(out, func(use ir.Use) bool { return use.User != group })
			body.RegisterResult(v)
			copyAliasing(tracker, v, out)
		}

		// Group inputs produced by toMerge become internal.
		for idx := group.NumInputs() - 1; idx >= 0; idx-- {
			if group.Input(idx) != v {
				continue
			}
			body.ParamAt(idx).ReplaceAllUsesWith(v)
			group.RemoveInput(idx)
			body.EraseParam(idx)
		}
	}
	return group
}

// mergeSubgraph dissolves from (a group right before to) and merges its instructions, last to
// first, into to.
func mergeSubgraph(to, from *ir.Instruction, tracker AliasTracker) *ir.Instruction {
	inlined := UnmergeSubgraph(from)
	for i := len(inlined) - 1; i >= 0; i-- {
		MergeNodeIntoSubgraph(inlined[i], to, tracker)
	}
	return to
}

// UnmergeSubgraph dissolves group: its instructions are moved back right before it, in their
// relative order, uses of its parameters and outputs are rewired to the original values, and
// the group is destroyed.
//
// It returns the inlined instructions, in program order.
func UnmergeSubgraph(group *ir.Instruction) []*ir.Instruction {
	body := Body(group)
	for idx, param := range body.Params() {
		param.ReplaceAllUsesWith(group.Input(idx))
	}
	for idx, out := range group.Outputs() {
		out.ReplaceAllUsesWith(body.ResultAt(idx))
	}
	body.Return().RemoveAllInputs()
	inlined := body.Instructions()
	for _, n := range inlined {
		n.MoveBefore(group)
	}
	group.Destroy()
	return inlined
}
