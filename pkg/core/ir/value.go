// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Use is one reference to a Value: the instruction using it and the input index.
type Use struct {
	User   *Instruction
	Offset int
}

// Value is the result of an Instruction. It is produced by exactly one instruction
// (Producer) and used by any number of instructions (Uses).
type Value struct {
	id       uint64
	name     string
	typ      Type
	producer *Instruction
	offset   int
	uses     []Use
}

// ID is unique within the Graph.
func (v *Value) ID() uint64 { return v.id }

// Name is the optional debug name of the value. It may be empty.
func (v *Value) Name() string { return v.name }

// SetName sets the debug name of the value.
func (v *Value) SetName(name string) { v.name = name }

// Type of the value.
func (v *Value) Type() Type { return v.typ }

// SetType changes the type of the value.
func (v *Value) SetType(t Type) { v.typ = t }

// Producer returns the instruction that produces this value.
func (v *Value) Producer() *Instruction { return v.producer }

// Offset is the index of this value in its producer's outputs.
func (v *Value) Offset() int { return v.offset }

// Uses returns a copy of the list of uses of this value, in the order they were added.
func (v *Value) Uses() []Use { return slices.Clone(v.uses) }

// HasUses returns whether the value is used by any instruction.
func (v *Value) HasUses() bool { return len(v.uses) > 0 }

// NumUses returns the number of uses of the value.
func (v *Value) NumUses() int { return len(v.uses) }

// String returns the reference name of the value, e.g. "%x" or "%v12".
func (v *Value) String() string {
	if v == nil {
		return "%<nil>"
	}
	if v.name != "" {
		return "%" + v.name
	}
	return fmt.Sprintf("%%v%d", v.id)
}

// ReplaceAllUsesWith makes every user of v use newValue instead.
func (v *Value) ReplaceAllUsesWith(newValue *Value) {
	if v == newValue {
		return
	}
	for _, use := range v.Uses() {
		use.User.ReplaceInput(use.Offset, newValue)
	}
}

// ReplaceUsesIf makes every user of v for which replace(use) returns true use newValue instead.
// It returns the number of replaced uses.
func (v *Value) ReplaceUsesIf(newValue *Value, replace func(use Use) bool) int {
	if v == newValue {
		return 0
	}
	var count int
	for _, use := range v.Uses() {
		if replace(use) {
			use.User.ReplaceInput(use.Offset, newValue)
			count++
		}
	}
	return count
}

func (v *Value) addUse(user *Instruction, offset int) {
	v.uses = append(v.uses, Use{User: user, Offset: offset})
}

func (v *Value) removeUse(user *Instruction, offset int) {
	idx := slices.Index(v.uses, Use{User: user, Offset: offset})
	if idx < 0 {
		panic(errors.Errorf("value %s has no use by %s at input #%d", v, user.kind, offset))
	}
	v.uses = slices.Delete(v.uses, idx, idx+1)
}

// shiftUse updates the offset of a use, after the user's inputs were re-indexed.
func (v *Value) shiftUse(user *Instruction, from, to int) {
	idx := slices.Index(v.uses, Use{User: user, Offset: from})
	if idx < 0 {
		panic(errors.Errorf("value %s has no use by %s at input #%d", v, user.kind, from))
	}
	v.uses[idx].Offset = to
}
