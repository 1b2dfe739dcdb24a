// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"testing"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/subgraphs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var f32x8 = ir.MakeType(ir.Float32, 8)

func op(g *ir.Graph, b *ir.Block, kind ir.OpKind, inputs ...*ir.Value) *ir.Instruction {
	return g.AppendNew(b, kind, inputs, f32x8)
}

func out(n *ir.Instruction) *ir.Value { return n.Output(0) }

func TestEliminateCommonSubexpression(t *testing.T) {
	g := ir.New("cse")
	top := g.Block()
	x := g.AddInput(f32x8)
	relu1 := op(g, top, ir.OpReLU, x)
	relu2 := op(g, top, ir.OpReLU, x)
	const1 := op(g, top, ir.OpConstant)
	const1.SetData(3)
	const2 := op(g, top, ir.OpConstant)
	const2.SetData(3)
	const3 := op(g, top, ir.OpConstant)
	const3.SetData(4)
	transpose1 := op(g, top, ir.OpTranspose, x)
	transpose1.SetData([]int{1, 0})
	transpose2 := op(g, top, ir.OpTranspose, x)
	transpose2.SetData([]int{0, 1})
	sum := op(g, top, ir.OpAdd, out(relu1), out(relu2))
	sumConsts := op(g, top, ir.OpAdd, out(const1), out(const2))
	for _, n := range []*ir.Instruction{sum, sumConsts, const3, transpose1, transpose2} {
		g.RegisterOutput(out(n))
	}

	removed := EliminateCommonSubexpression(g, nil)
	require.NoError(t, g.Lint())
	assert.Equal(t, 2, removed)
	assert.True(t, relu2.IsDestroyed())
	assert.True(t, const2.IsDestroyed())
	assert.False(t, const3.IsDestroyed(), "different data")
	assert.False(t, transpose2.IsDestroyed(), "different data")
	assert.Equal(t, []*ir.Value{out(relu1), out(relu1)}, sum.Inputs())
	assert.Equal(t, []*ir.Value{out(const1), out(const1)}, sumConsts.Inputs())

	// Running again finds nothing new.
	assert.Equal(t, 0, EliminateCommonSubexpression(g, nil))
}

func TestCSESkipsImpureInstructions(t *testing.T) {
	g := ir.New("impure")
	top := g.Block()
	x := g.AddInput(f32x8)
	y := g.AddInput(f32x8)

	// Reads of written storage.
	view1 := op(g, top, ir.OpView, x)
	view2 := op(g, top, ir.OpView, x)
	inPlace := op(g, top, ir.OpAddInPlace, x, y)

	// Side effects.
	g.AppendNew(top, ir.OpPrint, []*ir.Value{y})
	g.AppendNew(top, ir.OpPrint, []*ir.Value{y})
	custom1 := op(g, top, ir.OpCustom, y)
	custom1.SetSideEffects(true)
	custom2 := op(g, top, ir.OpCustom, y)
	custom2.SetSideEffects(true)

	// Fusion groups are never merged, nor looked into.
	relu1 := op(g, top, ir.OpReLU, y)
	relu2 := op(g, top, ir.OpReLU, y)
	group1 := subgraphs.CreateSingletonSubgraph(relu1, ir.OpFusionGroup, nil)
	group2 := subgraphs.CreateSingletonSubgraph(relu2, ir.OpFusionGroup, nil)
	inner := op(g, subgraphs.Body(group2), ir.OpReLU, subgraphs.Body(group2).ParamAt(0))
	inner.MoveBefore(relu2)

	for _, n := range []*ir.Instruction{view1, view2, inPlace, custom1, custom2, group1, group2} {
		g.RegisterOutput(out(n))
	}
	require.NoError(t, g.Lint())
	numInstructions := g.NumInstructions()

	assert.Equal(t, 0, EliminateCommonSubexpression(g, nil))
	assert.Equal(t, numInstructions, g.NumInstructions())
	require.NoError(t, g.Lint())
}

func TestCSENestedBlocks(t *testing.T) {
	g := ir.New("nested")
	top := g.Block()
	x := g.AddInput(f32x8)
	outer := op(g, top, ir.OpTanh, x)
	loop := op(g, top, ir.OpLoop, x)
	body := loop.AddBlock()
	i := body.AddParam(f32x8)
	inner := op(g, body, ir.OpTanh, x)
	innerSum := op(g, body, ir.OpAdd, out(inner), i)
	body.RegisterResult(out(innerSum))

	// An instruction in a nested block is not visible after the block.
	loop2 := op(g, top, ir.OpLoop, x)
	body2 := loop2.AddBlock()
	inner2 := op(g, body2, ir.OpSigmoid, x)
	body2.RegisterResult(out(inner2))
	after := op(g, top, ir.OpSigmoid, x)
	for _, n := range []*ir.Instruction{outer, loop, loop2, after} {
		g.RegisterOutput(out(n))
	}

	assert.Equal(t, 1, EliminateCommonSubexpression(g, nil))
	require.NoError(t, g.Lint())
	assert.True(t, inner.IsDestroyed())
	assert.Equal(t, []*ir.Value{out(outer), i}, innerSum.Inputs())
	assert.False(t, after.IsDestroyed())
	assert.False(t, inner2.IsDestroyed())
}

func TestEliminateDeadCode(t *testing.T) {
	g := ir.New("dce")
	top := g.Block()
	x := g.AddInput(f32x8)
	y := g.AddInput(f32x8)

	// Dead chain.
	dead1 := op(g, top, ir.OpConv, x)
	dead2 := op(g, top, ir.OpReLU, out(dead1))

	// Effects are always live.
	printX := g.AppendNew(top, ir.OpPrint, []*ir.Value{x})
	inPlace := op(g, top, ir.OpAddInPlace, y, x)
	loopWithPrint := op(g, top, ir.OpLoop, x)
	body := loopWithPrint.AddBlock()
	g.AppendNew(body, ir.OpPrint, []*ir.Value{x})
	deadInLoop := op(g, body, ir.OpTanh, x)

	// Unused loop without effects.
	deadLoop := op(g, top, ir.OpLoop, x)
	deadBody := deadLoop.AddBlock()
	deadLoopInner := op(g, deadBody, ir.OpTanh, x)
	deadBody.RegisterResult(out(deadLoopInner))

	// Unused instructions inside groups are kept.
	live := op(g, top, ir.OpSigmoid, x)
	group := subgraphs.CreateSingletonSubgraph(live, ir.OpFusionGroup, nil)
	unusedInGroup := op(g, subgraphs.Body(group), ir.OpTanh, subgraphs.Body(group).ParamAt(0))
	unusedInGroup.MoveBefore(live)
	g.RegisterOutput(out(group))
	require.NoError(t, g.Lint())

	removed := EliminateDeadCode(g)
	require.NoError(t, g.Lint())
	assert.Equal(t, 4, removed)
	for _, n := range []*ir.Instruction{dead1, dead2, deadInLoop, deadLoop} {
		assert.True(t, n.IsDestroyed(), "%s should have been removed", n)
	}
	assert.True(t, deadLoopInner.IsDestroyed())
	for _, n := range []*ir.Instruction{printX, inPlace, loopWithPrint, group, live, unusedInGroup} {
		assert.False(t, n.IsDestroyed(), "%s should have been kept", n)
	}
	assert.Equal(t, 0, EliminateDeadCode(g))
}

type rangeData struct{ from, to int }

func (r rangeData) EqualData(other DataComparable) bool {
	return r == other.(rangeData)
}

func TestDataEqual(t *testing.T) {
	assert.True(t, dataEqual(nil, nil))
	assert.False(t, dataEqual(nil, 1))
	assert.True(t, dataEqual(1, 1))
	assert.False(t, dataEqual(1, int64(1)))
	assert.True(t, dataEqual("a", "a"))
	assert.True(t, dataEqual(0.5, 0.5))
	assert.True(t, dataEqual([]int{1, 2}, []int{1, 2}))
	assert.False(t, dataEqual([]int{1, 2}, []int{2, 1}))
	assert.True(t, dataEqual(rangeData{1, 2}, rangeData{1, 2}))
	assert.False(t, dataEqual(rangeData{1, 2}, rangeData{1, 3}))
	assert.False(t, dataEqual(map[string]int{}, map[string]int{}), "non-comparable data is never equal")
}
