// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"k8s.io/klog/v2"
)

// EliminateDeadCode removes instructions whose outputs are not used and that have no
// effect: no side effects and no writes to memory, including in their nested blocks.
// Graph and block parameters are kept.
//
// It returns the number of removed instructions, not counting the ones nested in them.
func EliminateDeadCode(g *ir.Graph) int {
	removed := dceBlock(g.Block())
	klog.V(1).Infof("EliminateDeadCode(%q): removed %d instructions", g.Name(), removed)
	return removed
}

// dceBlock visits the block last to first, so users are removed before their producers.
func dceBlock(b *ir.Block) int {
	var removed int
	for n := b.Last(); n != b.Param(); {
		prev := n.Prev()
		if isDead(n) {
			if klog.V(2).Enabled() {
				klog.Infof("DCE: removing %s", n)
			}
			n.Destroy()
			removed++
		} else if n.Kind() != ir.OpFusionGroup {
			for _, nested := range n.Blocks() {
				removed += dceBlock(nested)
			}
		}
		n = prev
	}
	return removed
}

func isDead(n *ir.Instruction) bool {
	if n.HasSideEffects() || writesMemory(n) {
		return false
	}
	for _, out := range n.Outputs() {
		if out.HasUses() {
			return false
		}
	}
	return true
}

func writesMemory(n *ir.Instruction) bool {
	if len(n.Kind().MutatedInputs()) > 0 {
		return true
	}
	for _, block := range n.Blocks() {
		for inner := block.First(); inner != block.Return(); inner = inner.Next() {
			if writesMemory(inner) {
				return true
			}
		}
	}
	return false
}
