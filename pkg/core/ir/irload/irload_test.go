// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irload

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertGolden(t *testing.T, name string, graphs []*ir.Graph) {
	t.Helper()
	var dump strings.Builder
	for _, g := range graphs {
		dump.WriteString(g.String())
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(dump.String()))
}

func TestLoadGolden(t *testing.T) {
	for _, name := range []string{"chain", "branches"} {
		t.Run(name, func(t *testing.T) {
			graphs, err := Load(filepath.Join("testdata", name+".yaml"))
			require.NoError(t, err)
			assertGolden(t, name, graphs)
		})
	}
}

func TestLoadedStructure(t *testing.T) {
	graphs, err := Load(filepath.Join("testdata", "chain.yaml"))
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	g := graphs[0]
	require.NoError(t, g.Lint())
	assert.Equal(t, "chain", g.Name())
	assert.Equal(t, 9, g.NumInstructions(), "nested instructions included")

	transpose := g.LookupValue("wt").Producer()
	assert.Equal(t, ir.OpTranspose, transpose.Kind())
	assert.Equal(t, []int{1, 0}, transpose.Data())

	custom := g.LookupValue("c").Producer()
	assert.True(t, custom.MarkedWithSideEffects())
	assert.False(t, custom.Output(0).Type().IsKnown())

	loop := g.LookupValue("l").Producer()
	require.Equal(t, 1, loop.NumBlocks())
	assert.False(t, loop.HasSideEffects())
	assert.Equal(t, g.LookupValue("b"), g.LookupValue("s").Producer().Input(1), "outer values are visible in nested blocks")
	assert.Equal(t, 0.5, g.LookupValue("k").Producer().Data())
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name, yaml, wantErr string
	}{
		{"no name", `nodes: []`, "graph without name"},
		{"undefined", `
name: g
nodes:
  - {op: relu, inputs: [x], outputs: [y]}`, `undefined value "x"`},
		{"duplicate", `
name: g
inputs: [{name: x}]
nodes:
  - {op: relu, inputs: [x], outputs: [x]}`, `value "x" defined more than once`},
		{"unknown op", `
name: g
nodes:
  - {op: frobnicate}`, `unknown operation kind "frobnicate"`},
		{"sentinel op", `
name: g
nodes:
  - {op: return}`, `unknown operation kind "return"`},
		{"unknown field", `
name: g
nodez: []`, "nodez"},
		{"bad type", `
name: g
inputs: [{name: x, type: "f32[2"}]
nodes: []`, `missing closing "]"`},
		{"bad data", `
name: g
nodes:
  - {op: constant, outputs: [c], data: [a, b]}`, "data lists must hold integers only"},
		{"own outputs in block", `
name: g
inputs: [{name: x}]
nodes:
  - op: loop
    inputs: [x]
    outputs: [l]
    blocks:
      - nodes:
          - {op: relu, inputs: [l], outputs: [r]}
        returns: [r]`, `undefined value "l"`},
		{"invalid fusion group", `
name: g
inputs: [{name: x}]
nodes:
  - {op: fusion_group, inputs: [x], outputs: [f]}
outputs: [f]`, "fusion groups must have exactly one block"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseMultipleGraphs(t *testing.T) {
	graphs, err := ParseAll(strings.NewReader(`
name: first
nodes: []
---
name: second
nodes: []
`))
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, "second", graphs[1].Name())

	_, err = Parse([]byte("name: a\nnodes: []\n---\nname: b\nnodes: []\n"))
	assert.ErrorContains(t, err, "expected one graph, got 2")

	_, err = ParseAll(strings.NewReader(""))
	assert.ErrorContains(t, err, "no graph found")

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}
