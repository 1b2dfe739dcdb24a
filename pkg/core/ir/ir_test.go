// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var f32x8 = MakeType(Float32, 8)

// buildChain creates x -> conv -> relu -> tanh -> return.
func buildChain(t *testing.T) (g *Graph, x *Value, conv, relu, tanh *Instruction) {
	g = New("chain")
	x = g.AddInput(f32x8)
	x.SetName("x")
	conv = g.AppendNew(g.Block(), OpConv, []*Value{x}, f32x8)
	relu = g.AppendNew(g.Block(), OpReLU, []*Value{conv.Output(0)}, f32x8)
	tanh = g.AppendNew(g.Block(), OpTanh, []*Value{relu.Output(0)}, f32x8)
	g.RegisterOutput(tanh.Output(0))
	require.NoError(t, g.Lint())
	return
}

func TestGraphBuild(t *testing.T) {
	g, x, conv, relu, tanh := buildChain(t)
	assert.Equal(t, "chain", g.Name())
	assert.Equal(t, []*Value{x}, g.Inputs())
	assert.Equal(t, []*Value{tanh.Output(0)}, g.Outputs())
	assert.Equal(t, 3, g.NumInstructions())
	assert.Equal(t, []*Instruction{conv, relu, tanh}, g.Block().Instructions())
	assert.Equal(t, 3, g.Block().NumInstructions())

	// Sentinels.
	b := g.Block()
	assert.Equal(t, OpParam, b.Param().Kind())
	assert.Equal(t, OpReturn, b.Return().Kind())
	assert.Nil(t, b.Param().Prev())
	assert.Nil(t, b.Return().Next())
	assert.Equal(t, conv, b.First())
	assert.Equal(t, tanh, b.Last())
	assert.Nil(t, b.Owner())
	assert.Nil(t, b.Parent())

	// Uses.
	require.Len(t, x.Uses(), 1)
	assert.Equal(t, Use{User: conv, Offset: 0}, x.Uses()[0])
	assert.Equal(t, 1, tanh.Output(0).NumUses())
	assert.Equal(t, b.Return(), tanh.Output(0).Uses()[0].User)
	assert.Equal(t, relu, relu.Output(0).Producer())

	// Lookups.
	assert.Equal(t, x, g.LookupValue("x"))
	assert.Nil(t, g.LookupValue("y"))
	assert.Equal(t, relu, g.LookupInstruction(relu.ID()))
	assert.Nil(t, g.LookupInstruction(1 << 40))

	// Order.
	assert.True(t, conv.IsBefore(relu))
	assert.True(t, tanh.IsAfter(conv))
	assert.False(t, relu.IsBefore(relu))
}

func TestMoveAndInsert(t *testing.T) {
	g, x, conv, relu, tanh := buildChain(t)
	b := g.Block()

	// Independent instruction moved around.
	c := g.Create(OpConstant, nil, f32x8).InsertBefore(conv)
	assert.Equal(t, c, b.First())
	c.MoveAfter(relu)
	assert.Equal(t, []*Instruction{conv, relu, c, tanh}, b.Instructions())
	c.MoveBefore(b.Return())
	assert.Equal(t, c, b.Last())
	require.NoError(t, g.Lint())

	// Many inserts at the same spot force the topological positions to be re-indexed.
	prev := conv
	for range 100 {
		prev = g.Create(OpAdd, []*Value{x, x}, f32x8).InsertAfter(prev)
	}
	require.NoError(t, g.Lint())
	assert.True(t, prev.IsBefore(relu))
	assert.Equal(t, 104, b.NumInstructions())

	// Moving a user before its producer is caught by Lint.
	tanh.MoveBefore(relu)
	err := g.Lint()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not defined before its use")
	tanh.MoveAfter(relu)
	require.NoError(t, g.Lint())

	// Sentinels can't be moved.
	assert.Panics(t, func() { b.Param().MoveAfter(conv) })
	assert.Panics(t, func() { c.InsertAfter(b.Return()) })
}

func TestInputsAndUses(t *testing.T) {
	g, x, conv, relu, _ := buildChain(t)
	add := g.Create(OpAdd, []*Value{x, conv.Output(0), x}, f32x8).InsertAfter(relu)
	assert.Equal(t, 3, x.NumUses())

	add.RemoveInput(0)
	assert.Equal(t, []*Value{conv.Output(0), x}, add.Inputs())
	assert.Contains(t, x.Uses(), Use{User: add, Offset: 1})
	require.NoError(t, g.Lint())

	add.ReplaceInputWith(x, relu.Output(0))
	assert.Equal(t, 1, x.NumUses())
	assert.Equal(t, []*Value{conv.Output(0), relu.Output(0)}, add.Inputs())

	replaced := conv.Output(0).ReplaceUsesIf(x, func(use Use) bool { return use.User == add })
	assert.Equal(t, 1, replaced)
	assert.Equal(t, []*Value{x, relu.Output(0)}, add.Inputs())
	assert.Equal(t, []Use{{User: relu, Offset: 0}}, conv.Output(0).Uses())
	require.NoError(t, g.Lint())

	// Outputs.
	extra := add.AddOutput(MakeType(Int64))
	assert.Equal(t, 1, extra.Offset())
	add.EraseOutput(0)
	assert.Equal(t, 0, extra.Offset())
	assert.Equal(t, 1, add.NumOutputs())
	require.NoError(t, g.Lint())
}

func TestDestroy(t *testing.T) {
	g, x, conv, relu, tanh := buildChain(t)

	// Outputs still used.
	assert.Panics(t, func() { relu.Destroy() })

	// Bypass relu and destroy it.
	relu.Output(0).ReplaceAllUsesWith(conv.Output(0))
	relu.Destroy()
	assert.True(t, relu.IsDestroyed())
	assert.Equal(t, []*Instruction{conv, tanh}, g.Block().Instructions())
	assert.Equal(t, []Use{{User: tanh, Offset: 0}}, conv.Output(0).Uses())
	require.NoError(t, g.Lint())

	// Destroyed instructions can't be changed anymore.
	assert.Panics(t, func() { relu.AddInput(x) })
	assert.Panics(t, func() { relu.MoveBefore(tanh) })
	assert.Panics(t, func() { g.Block().Param().Destroy() })
}

func TestNestedBlocks(t *testing.T) {
	g := New("nested")
	x := g.AddInput(f32x8)
	loop := g.AppendNew(g.Block(), OpLoop, []*Value{x}, f32x8)
	body := loop.AddBlock()
	i := body.AddParam(f32x8)
	inner := g.AppendNew(body, OpAdd, []*Value{i, x}, f32x8)
	body.RegisterResult(inner.Output(0))
	after := g.AppendNew(g.Block(), OpReLU, []*Value{loop.Output(0)}, f32x8)
	g.RegisterOutput(after.Output(0))
	require.NoError(t, g.Lint())

	assert.Equal(t, loop, body.Owner())
	assert.Equal(t, g.Block(), body.Parent())
	assert.True(t, loop.Contains(inner))
	assert.False(t, after.Contains(inner))
	assert.True(t, inner.IsBefore(after))
	assert.False(t, loop.IsBefore(inner), "containing instructions are not ordered")
	assert.Equal(t, 3, g.NumInstructions())

	// A print nested in the loop gives the loop side effects.
	assert.False(t, loop.HasSideEffects())
	p := g.AppendNew(body, OpPrint, []*Value{i})
	assert.True(t, loop.HasSideEffects())
	assert.False(t, loop.MarkedWithSideEffects())
	p.Destroy()
	assert.False(t, loop.HasSideEffects())

	// Destroying the loop destroys its body.
	after.Output(0).ReplaceAllUsesWith(x)
	after.Destroy()
	loop.Destroy()
	assert.True(t, inner.IsDestroyed())
	assert.Equal(t, []Use{{User: g.Block().Return(), Offset: 0}}, x.Uses())
	require.NoError(t, g.Lint())
}

func TestDump(t *testing.T) {
	g := New("loopy")
	x := g.AddInput(f32x8)
	x.SetName("x")
	a := g.AppendNew(g.Block(), OpConv, []*Value{x}, f32x8)
	a.Output(0).SetName("a")
	loop := g.AppendNew(g.Block(), OpLoop, []*Value{a.Output(0)}, f32x8)
	loop.Output(0).SetName("l")
	body := loop.AddBlock()
	i := body.AddParam(f32x8)
	i.SetName("i")
	tanh := g.AppendNew(body, OpTanh, []*Value{i}, f32x8)
	tanh.Output(0).SetName("t")
	body.RegisterResult(tanh.Output(0))
	g.AppendNew(g.Block(), OpPrint, []*Value{loop.Output(0)})
	c := g.AppendNew(g.Block(), OpConstant, nil, MakeType(Int64))
	c.Output(0).SetName("c")
	c.SetData(3)
	custom := g.AppendNew(g.Block(), OpCustom, []*Value{c.Output(0)}, Type{})
	custom.SetSideEffects(true)
	g.RegisterOutput(loop.Output(0))

	want := `graph loopy(%x: f32[8]) {
  %a: f32[8] = conv(%x)
  %l: f32[8] = loop(%a) {
    block0(%i: f32[8]):
      %t: f32[8] = tanh(%i)
      return(%t)
  }
  print(%l)
  %c: s64 = constant[3]()
  ` + custom.Output(0).String() + ` = custom(%c) #side_effects
  return(%l)
}
`
	assert.Equal(t, want, g.String())
	assert.Equal(t, "%t: f32[8] = tanh(%i)", tanh.String())
	assert.Equal(t, "%t: f32[8] = tanh(%i)\nreturn(%t)\n", body.String())
}

func TestTypes(t *testing.T) {
	testCases := []struct {
		text string
		want Type
	}{
		{"f32[2,3]", MakeType(Float32, 2, 3)},
		{"s64", MakeType(Int64)},
		{"bf16[1]", MakeType(BFloat16, 1)},
		{"Tensor", Type{}},
		{" u8[4, 5] ", MakeType(Uint8, 4, 5)},
	}
	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			got, err := ParseType(tc.text)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s, want %s", got, tc.want)
		})
	}
	for _, invalid := range []string{"f33", "f32[2", "f32[a]", "Tensor[2]", "f32[-1]"} {
		_, err := ParseType(invalid)
		assert.Error(t, err, "ParseType(%q)", invalid)
	}
	assert.Equal(t, "f32[2,3]", MakeType(Float32, 2, 3).String())
	assert.Equal(t, "Tensor", Type{}.String())
	assert.Equal(t, 2, MakeType(Float32, 2, 3).Rank())
	assert.False(t, MakeType(Float32, 2).Equal(MakeType(Float32, 3)))
}

func TestOpKinds(t *testing.T) {
	for kind := OpConstant; kind < numOpKinds; kind++ {
		parsed, err := ParseOpKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	for _, name := range []string{"param", "return", "invalid", "foo"} {
		_, err := ParseOpKind(name)
		assert.Error(t, err, "ParseOpKind(%q)", name)
	}
	assert.Equal(t, "layer_norm", OpLayerNorm.String())
	assert.True(t, OpPrint.HasSideEffects())
	assert.False(t, OpAdd.HasSideEffects())
	assert.Equal(t, []int{0}, OpAddInPlace.MutatedInputs())
	assert.True(t, OpView.AliasesFirstInput())
	assert.False(t, OpView.HasSideEffects())
	assert.True(t, OpParam.IsSentinel())
	assert.Panics(t, func() { New("x").Create(OpReturn, nil) })
}
