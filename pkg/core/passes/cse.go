// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements graph-wide canonicalization passes run after graph rewrites:
// common subexpression elimination and dead code elimination.
//
// Both passes treat fusion groups as opaque: the instructions inside a group are never
// removed or merged with instructions outside it.
package passes

import (
	"reflect"
	"slices"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/aliasdb"
	"k8s.io/klog/v2"
)

// DataComparable is implemented by instruction data (see ir.Instruction.Data) that can be
// compared for de-duplication. Data of other types is only de-duplicated if it is nil, a
// number, a string or a slice of ints.
type DataComparable interface {
	// EqualData returns whether this data is semantically equivalent to other.
	// other is guaranteed to be of the same concrete type.
	EqualData(other DataComparable) bool
}

// cseKey is used to index candidate instructions with the same kind and input structure.
type cseKey struct {
	kind       ir.OpKind
	inputCount int
	firstInput *ir.Value // nil if there are no inputs.
}

func makeCSEKey(n *ir.Instruction) cseKey {
	key := cseKey{kind: n.Kind(), inputCount: n.NumInputs()}
	if n.NumInputs() > 0 {
		key.firstInput = n.Input(0)
	}
	return key
}

// cseScope holds the instructions available in a block, and through parent, in its enclosing blocks.
type cseScope struct {
	parent *cseScope
	table  map[cseKey][]*ir.Instruction
}

func (s *cseScope) find(n *ir.Instruction) *ir.Instruction {
	key := makeCSEKey(n)
	for scope := s; scope != nil; scope = scope.parent {
		for _, candidate := range scope.table[key] {
			if equivalent(candidate, n) {
				return candidate
			}
		}
	}
	return nil
}

func equivalent(a, b *ir.Instruction) bool {
	if a.Kind() != b.Kind() || a.NumOutputs() != b.NumOutputs() {
		return false
	}
	if !slices.Equal(a.Inputs(), b.Inputs()) {
		return false
	}
	for i := range a.NumOutputs() {
		if !a.Output(i).Type().Equal(b.Output(i).Type()) {
			return false
		}
	}
	return dataEqual(a.Data(), b.Data())
}

// dataEqual compares instruction data for equality.
// Handles nil, DataComparable, primitive types, and uncomparable data.
func dataEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	// Both must be the same concrete type
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	if comparable, ok := a.(DataComparable); ok {
		return comparable.EqualData(b.(DataComparable))
	}

	switch aVal := a.(type) {
	case int:
		return aVal == b.(int)
	case int64:
		return aVal == b.(int64)
	case float64:
		return aVal == b.(float64)
	case bool:
		return aVal == b.(bool)
	case string:
		return aVal == b.(string)
	case []int:
		return slices.Equal(aVal, b.([]int))
	}

	// For non-comparable data, don't de-duplicate
	return false
}

// EliminateCommonSubexpression replaces instructions that compute the same thing as an
// earlier instruction (same kind, inputs, data and output types) by that instruction.
// Instructions defined in enclosing blocks are reused in nested blocks.
//
// Only pure instructions are de-duplicated: no side effects, no nested blocks, no writes to
// memory, and no input or output whose storage is written anywhere in the graph.
//
// db may be nil, in which case aliasing is analyzed from scratch.
// It returns the number of removed instructions.
func EliminateCommonSubexpression(g *ir.Graph, db *aliasdb.AliasDB) int {
	if db == nil {
		db = aliasdb.New(g)
	}
	hasWriters := db.HasWritersFunc()
	removed := cseBlock(g.Block(), nil, hasWriters)
	klog.V(1).Infof("EliminateCommonSubexpression(%q): removed %d instructions", g.Name(), removed)
	return removed
}

func cseBlock(b *ir.Block, parent *cseScope, hasWriters func(*ir.Instruction) bool) int {
	scope := &cseScope{parent: parent, table: make(map[cseKey][]*ir.Instruction)}
	var removed int
	for n := b.First(); n != b.Return(); {
		next := n.Next()
		if n.NumBlocks() > 0 {
			if n.Kind() != ir.OpFusionGroup {
				for _, nested := range n.Blocks() {
					removed += cseBlock(nested, scope, hasWriters)
				}
			}
			n = next
			continue
		}
		if !isPure(n) || hasWriters(n) {
			n = next
			continue
		}
		if existing := scope.find(n); existing != nil {
			if klog.V(2).Enabled() {
				klog.Infof("CSE: replacing %s by %s", n, existing)
			}
			for i, out := range n.Outputs() {
				out.ReplaceAllUsesWith(existing.Output(i))
			}
			n.Destroy()
			removed++
		} else {
			key := makeCSEKey(n)
			scope.table[key] = append(scope.table[key], n)
		}
		n = next
	}
	return removed
}

// isPure returns whether n can be removed or de-duplicated when its results are not needed.
func isPure(n *ir.Instruction) bool {
	return n.NumOutputs() > 0 &&
		!n.HasSideEffects() &&
		len(n.Kind().MutatedInputs()) == 0
}
