// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Lint verifies the structural invariants of the graph:
//
//   - Block links (prev/next, owner) and topological positions are consistent.
//   - Every input refers to a live value, produced before its use in program order, or by the
//     parameters of an enclosing block.
//   - Use lists match the inputs that refer to each value.
//   - Fusion groups have one block, whose parameters and results mirror the group's inputs and
//     outputs, and whose instructions only use values defined inside the group.
//
// It returns nil if the graph is valid, or an error listing every violation found.
func (g *Graph) Lint() error {
	l := &linter{}
	l.block(g.block)
	if len(l.problems) == 0 {
		return nil
	}
	return errors.Errorf("graph %q failed lint with %d problem(s):\n  %s",
		g.name, len(l.problems), strings.Join(l.problems, "\n  "))
}

type linter struct {
	problems []string
}

func (l *linter) report(format string, args ...any) {
	l.problems = append(l.problems, fmt.Sprintf(format, args...))
}

func (l *linter) block(b *Block) {
	if b.param.owner != b || b.ret.owner != b || b.param.prev != nil || b.ret.next != nil {
		l.report("block sentinels of %s are not properly linked", describeOwner(b))
	}
	l.outputs(b.param)
	prev := b.param
	for n := b.First(); ; n = n.next {
		if n == nil {
			l.report("instruction list of %s is not terminated by its return sentinel", describeOwner(b))
			return
		}
		if n.prev != prev {
			l.report("%s #%d: prev link is broken", n.kind, n.id)
		}
		if n.owner != b {
			l.report("%s #%d: owner is not the block holding it", n.kind, n.id)
		}
		if n.destroyed {
			l.report("%s #%d: destroyed instruction is still linked", n.kind, n.id)
		}
		if n.topoPos <= prev.topoPos {
			l.report("%s #%d: topological position %d is not after the previous one (%d)",
				n.kind, n.id, n.topoPos, prev.topoPos)
		}
		l.inputs(n)
		if n == b.ret {
			return
		}
		if n.kind.IsSentinel() {
			l.report("%s #%d: sentinel found in the middle of a block", n.kind, n.id)
		}
		l.outputs(n)
		if n.kind == OpFusionGroup {
			l.fusionGroup(n)
		}
		for _, nested := range n.blocks {
			if nested.owner != n {
				l.report("%s #%d: nested block has a different owner", n.kind, n.id)
			}
			l.block(nested)
		}
		prev = n
	}
}

func (l *linter) inputs(n *Instruction) {
	for i, v := range n.inputs {
		if v == nil {
			l.report("%s #%d: input #%d is nil", n.kind, n.id, i)
			continue
		}
		producer := v.producer
		switch {
		case producer == nil:
			l.report("%s #%d: input #%d (%s) has no producer", n.kind, n.id, i, v)
		case producer.destroyed:
			l.report("%s #%d: input #%d (%s) is produced by destroyed %s #%d",
				n.kind, n.id, i, v, producer.kind, producer.id)
		case !producer.IsBefore(n):
			l.report("%s #%d: input #%d (%s) is not defined before its use", n.kind, n.id, i, v)
		}
		var found int
		for _, use := range v.uses {
			if use.User == n && use.Offset == i {
				found++
			}
		}
		if found != 1 {
			l.report("%s #%d: input #%d (%s) is listed %d times in its uses", n.kind, n.id, i, v, found)
		}
	}
}

func (l *linter) outputs(n *Instruction) {
	for i, v := range n.outputs {
		if v.producer != n || v.offset != i {
			l.report("%s #%d: output #%d (%s) has an inconsistent producer", n.kind, n.id, i, v)
		}
		for _, use := range v.uses {
			user := use.User
			if use.Offset < 0 || use.Offset >= len(user.inputs) || user.inputs[use.Offset] != v {
				l.report("%s #%d: output %s lists a stale use by %s #%d", n.kind, n.id, v, user.kind, user.id)
			} else if user.destroyed || user.owner == nil {
				l.report("%s #%d: output %s is used by detached or destroyed %s #%d",
					n.kind, n.id, v, user.kind, user.id)
			}
		}
	}
}

func (l *linter) fusionGroup(group *Instruction) {
	if len(group.blocks) != 1 {
		l.report("%s #%d: fusion groups must have exactly one block, got %d", group.kind, group.id, len(group.blocks))
		return
	}
	body := group.blocks[0]
	if len(body.param.outputs) != len(group.inputs) {
		l.report("%s #%d: %d inputs but %d block parameters",
			group.kind, group.id, len(group.inputs), len(body.param.outputs))
	}
	if len(body.ret.inputs) != len(group.outputs) {
		l.report("%s #%d: %d outputs but %d block results",
			group.kind, group.id, len(group.outputs), len(body.ret.inputs))
	}
	check := func(n *Instruction) {
		for i, v := range n.inputs {
			if v != nil && v.producer != nil && !group.Contains(v.producer) {
				l.report("%s #%d inside %s #%d: input #%d (%s) is defined outside of the group",
					n.kind, n.id, group.kind, group.id, i, v)
			}
		}
	}
	body.Walk(check)
	check(body.ret)
}

func describeOwner(b *Block) string {
	if b.owner == nil {
		return "the top-level block"
	}
	return fmt.Sprintf("a block of %s #%d", b.owner.kind, b.owner.id)
}
