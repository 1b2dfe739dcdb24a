// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package subgraphs

import (
	"testing"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var f32x8 = ir.MakeType(ir.Float32, 8)

type chain struct {
	g                *ir.Graph
	x                *ir.Value
	conv, relu, tanh *ir.Instruction
}

// newChain creates x -> conv -> relu -> tanh -> return.
func newChain(t *testing.T) *chain {
	c := &chain{g: ir.New("chain")}
	c.x = c.g.AddInput(f32x8)
	c.conv = c.g.AppendNew(c.g.Block(), ir.OpConv, []*ir.Value{c.x}, f32x8)
	c.relu = c.g.AppendNew(c.g.Block(), ir.OpReLU, []*ir.Value{c.conv.Output(0)}, f32x8)
	c.tanh = c.g.AppendNew(c.g.Block(), ir.OpTanh, []*ir.Value{c.relu.Output(0)}, f32x8)
	c.g.RegisterOutput(c.tanh.Output(0))
	require.NoError(t, c.g.Lint())
	return c
}

// recordingTracker records the aliasing copies requested.
type recordingTracker struct {
	copies map[*ir.Value]*ir.Value
}

func (r *recordingTracker) CopyValueAliasing(from, to *ir.Value) {
	r.copies[to] = from
}

func TestCreateSingletonSubgraph(t *testing.T) {
	g := ir.New("singleton")
	x := g.AddInput(f32x8)
	add := g.AppendNew(g.Block(), ir.OpAdd, []*ir.Value{x, x}, f32x8)
	relu := g.AppendNew(g.Block(), ir.OpReLU, []*ir.Value{add.Output(0)}, f32x8)
	g.RegisterOutput(relu.Output(0))

	tracker := &recordingTracker{copies: make(map[*ir.Value]*ir.Value)}
	group := CreateSingletonSubgraph(add, ir.OpFusionGroup, tracker)
	require.NoError(t, g.Lint())
	assert.True(t, IsSubgraph(group, ir.OpFusionGroup))
	assert.False(t, IsSubgraph(add, ir.OpFusionGroup))
	assert.Equal(t, []*ir.Instruction{group, relu}, g.Block().Instructions())
	assert.Equal(t, []*ir.Instruction{add}, Instructions(group))

	// Repeated inputs share one parameter.
	body := Body(group)
	assert.Equal(t, []*ir.Value{x}, group.Inputs())
	require.Len(t, body.Params(), 1)
	assert.Equal(t, []*ir.Value{body.ParamAt(0), body.ParamAt(0)}, add.Inputs())

	// Users now go through the group.
	assert.Equal(t, []*ir.Value{group.Output(0)}, relu.Inputs())
	assert.Equal(t, []*ir.Value{add.Output(0)}, body.Results())
	assert.Equal(t, add.ID(), Instructions(group)[0].ID(), "instructions keep their identity")

	assert.Equal(t, x, tracker.copies[body.ParamAt(0)])
	assert.Equal(t, add.Output(0), tracker.copies[group.Output(0)])

	assert.Panics(t, func() { CreateSingletonSubgraph(group, ir.OpFusionGroup, nil) })
	assert.Panics(t, func() { Body(relu) })
}

func TestMergeNodeIntoSubgraph(t *testing.T) {
	c := newChain(t)
	group := CreateSingletonSubgraph(c.tanh, ir.OpFusionGroup, nil)
	require.Equal(t, group, MergeNodeIntoSubgraph(c.relu, group, nil))
	require.NoError(t, c.g.Lint())
	assert.Equal(t, []*ir.Value{c.conv.Output(0)}, group.Inputs())
	assert.Equal(t, []*ir.Instruction{c.relu, c.tanh}, Instructions(group))
	assert.Equal(t, 1, group.NumOutputs(), "relu has no uses outside the group")

	MergeNodeIntoSubgraph(c.conv, group, nil)
	require.NoError(t, c.g.Lint())
	assert.Equal(t, []*ir.Value{c.x}, group.Inputs())
	assert.Equal(t, []*ir.Instruction{c.conv, c.relu, c.tanh}, Instructions(group))
	assert.Equal(t, []*ir.Instruction{group}, c.g.Block().Instructions())
	assert.Equal(t, []*ir.Value{group.Output(0)}, c.g.Outputs())
}

func TestMergeWithExternalUses(t *testing.T) {
	c := newChain(t)
	c.g.RegisterOutput(c.relu.Output(0))
	group := CreateSingletonSubgraph(c.tanh, ir.OpFusionGroup, nil)
	MergeNodeIntoSubgraph(c.relu, group, nil)
	require.NoError(t, c.g.Lint())

	// relu's output is still needed by the graph, so it becomes a new group output.
	require.Equal(t, 2, group.NumOutputs())
	assert.Equal(t, []*ir.Value{group.Output(0), group.Output(1)}, c.g.Outputs())
	assert.Equal(t, []*ir.Value{c.tanh.Output(0), c.relu.Output(0)}, Body(group).Results())
}

func TestMergeSubgraphIntoSubgraph(t *testing.T) {
	c := newChain(t)
	tanhGroup := CreateSingletonSubgraph(c.tanh, ir.OpFusionGroup, nil)
	convReluGroup := CreateSingletonSubgraph(c.relu, ir.OpFusionGroup, nil)
	MergeNodeIntoSubgraph(c.conv, convReluGroup, nil)
	require.NoError(t, c.g.Lint())
	assert.Equal(t, []*ir.Instruction{convReluGroup, tanhGroup}, c.g.Block().Instructions())

	MergeNodeIntoSubgraph(convReluGroup, tanhGroup, nil)
	require.NoError(t, c.g.Lint())
	assert.True(t, convReluGroup.IsDestroyed())
	assert.Equal(t, []*ir.Instruction{tanhGroup}, c.g.Block().Instructions())
	assert.Equal(t, []*ir.Instruction{c.conv, c.relu, c.tanh}, Instructions(tanhGroup))
	assert.Equal(t, []*ir.Value{c.x}, tanhGroup.Inputs())
}

func TestUnmergeSubgraph(t *testing.T) {
	c := newChain(t)
	group := CreateSingletonSubgraph(c.tanh, ir.OpFusionGroup, nil)
	MergeNodeIntoSubgraph(c.relu, group, nil)
	MergeNodeIntoSubgraph(c.conv, group, nil)

	inlined := UnmergeSubgraph(group)
	require.NoError(t, c.g.Lint())
	assert.Equal(t, []*ir.Instruction{c.conv, c.relu, c.tanh}, inlined)
	assert.Equal(t, inlined, c.g.Block().Instructions())
	assert.True(t, group.IsDestroyed())
	assert.Equal(t, []*ir.Value{c.tanh.Output(0)}, c.g.Outputs())
	assert.Equal(t, []*ir.Value{c.x}, c.conv.Inputs())
	assert.Equal(t, []*ir.Value{c.conv.Output(0)}, c.relu.Inputs())
}

func TestMergePreconditions(t *testing.T) {
	c := newChain(t)
	group := CreateSingletonSubgraph(c.relu, ir.OpFusionGroup, nil)

	// tanh comes after the group.
	assert.Panics(t, func() { MergeNodeIntoSubgraph(c.tanh, group, nil) })

	// Instructions of another block.
	loop := c.g.Create(ir.OpLoop, nil).InsertBefore(group)
	body := loop.AddBlock()
	inner := c.g.AppendNew(body, ir.OpTanh, []*ir.Value{c.x}, f32x8)
	assert.Panics(t, func() { MergeNodeIntoSubgraph(inner, group, nil) })
}
