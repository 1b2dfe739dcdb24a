// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import "github.com/gomlx/graphfuser/pkg/core/ir"

// WorkBlock is a range of instructions of a block that can be reordered among themselves:
// only the instructions strictly between Begin and End are scanned.
//
// Begin is a side-effecting instruction or the block's OpParam sentinel, and End is a
// side-effecting instruction or the block's OpReturn sentinel.
type WorkBlock struct {
	Begin, End *ir.Instruction
}

// Instructions returns the instructions strictly between Begin and End, in program order.
func (wb WorkBlock) Instructions() []*ir.Instruction {
	var instructions []*ir.Instruction
	for n := wb.Begin.Next(); n != wb.End; n = n.Next() {
		instructions = append(instructions, n)
	}
	return instructions
}

// BuildWorkBlocks splits b at its side-effecting instructions, since nothing can be moved
// across them. Work blocks are returned from the tail of b to its head.
func BuildWorkBlocks(b *ir.Block) []WorkBlock {
	var workBlocks []WorkBlock
	end := b.Return()
	n := end.Prev()
	for ; n != b.Param(); n = n.Prev() {
		if n.HasSideEffects() {
			workBlocks = append(workBlocks, WorkBlock{Begin: n, End: end})
			end = n
		}
	}
	return append(workBlocks, WorkBlock{Begin: n, End: end})
}
