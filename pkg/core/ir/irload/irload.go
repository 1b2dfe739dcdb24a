// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package irload builds ir.Graph values from YAML descriptions, e.g.:
//
//	name: linear
//	inputs:
//	  - {name: x, type: "f32[8]"}
//	nodes:
//	  - {op: conv, inputs: [x], outputs: ["a:f32[8]"]}
//	  - {op: relu, inputs: [a], outputs: ["b:f32[8]"]}
//	  - {op: print, inputs: [b], side_effects: true}
//	  - op: loop
//	    inputs: [b]
//	    outputs: ["c:f32[8]"]
//	    blocks:
//	      - params: ["i:f32[8]"]
//	        nodes:
//	          - {op: tanh, inputs: [i], outputs: ["t:f32[8]"]}
//	        returns: [t]
//	outputs: [c]
//
// Outputs and parameters are declared as "name" (unknown type) or "name:type", with types in
// the format of ir.Type.String. Values are referenced by name, optionally prefixed with "%",
// and are visible in the block where they are defined and in the blocks nested in it.
//
// A YAML stream may hold several graphs, separated by "---".
package irload

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// GraphDesc is the YAML description of a graph.
type GraphDesc struct {
	Name    string      `yaml:"name"`
	Inputs  []InputDesc `yaml:"inputs,omitempty"`
	Nodes   []NodeDesc  `yaml:"nodes"`
	Outputs []string    `yaml:"outputs,omitempty"`
}

// InputDesc describes a graph input.
type InputDesc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

// NodeDesc describes an instruction.
type NodeDesc struct {
	Op          string      `yaml:"op"`
	Inputs      []string    `yaml:"inputs,omitempty"`
	Outputs     []string    `yaml:"outputs,omitempty"`
	SideEffects bool        `yaml:"side_effects,omitempty"`
	Data        any         `yaml:"data,omitempty"`
	Blocks      []BlockDesc `yaml:"blocks,omitempty"`
}

// BlockDesc describes a block nested in an instruction.
type BlockDesc struct {
	Params  []string   `yaml:"params,omitempty"`
	Nodes   []NodeDesc `yaml:"nodes"`
	Returns []string   `yaml:"returns,omitempty"`
}

// Load reads the graphs described in the YAML file at path.
func Load(path string) ([]*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read graph file")
	}
	graphs, err := ParseAll(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	return graphs, nil
}

// ParseAll parses every graph in the YAML stream. Unknown fields are rejected.
func ParseAll(r io.Reader) ([]*ir.Graph, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var graphs []*ir.Graph
	for {
		var desc GraphDesc
		err := decoder.Decode(&desc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse YAML of graph #%d", len(graphs))
		}
		g, err := Build(&desc)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	if len(graphs) == 0 {
		return nil, errors.New("no graph found")
	}
	return graphs, nil
}

// Parse parses a YAML document with exactly one graph.
func Parse(data []byte) (*ir.Graph, error) {
	graphs, err := ParseAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(graphs) != 1 {
		return nil, errors.Errorf("expected one graph, got %d", len(graphs))
	}
	return graphs[0], nil
}

// scope maps value names to values, falling back to the enclosing block's scope.
type scope struct {
	parent *scope
	values map[string]*ir.Value
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, values: make(map[string]*ir.Value)}
}

func (s *scope) lookup(name string) (*ir.Value, error) {
	name = strings.TrimPrefix(name, "%")
	for sc := s; sc != nil; sc = sc.parent {
		if v, found := sc.values[name]; found {
			return v, nil
		}
	}
	return nil, errors.Errorf("undefined value %q", name)
}

func (s *scope) define(v *ir.Value, name string) error {
	if _, found := s.values[name]; found {
		return errors.Errorf("value %q defined more than once in the same block", name)
	}
	v.SetName(name)
	s.values[name] = v
	return nil
}

// parseDecl parses "name" or "name:type".
func parseDecl(decl string) (name string, t ir.Type, err error) {
	name, typeText, hasType := strings.Cut(decl, ":")
	name = strings.TrimPrefix(strings.TrimSpace(name), "%")
	if name == "" {
		return "", t, errors.Errorf("missing name in declaration %q", decl)
	}
	if hasType {
		t, err = ir.ParseType(typeText)
	}
	return
}

// Build creates the graph described by desc.
func Build(desc *GraphDesc) (*ir.Graph, error) {
	if desc.Name == "" {
		return nil, errors.New("graph without name")
	}
	g := ir.New(desc.Name)
	top := newScope(nil)
	for _, input := range desc.Inputs {
		decl := input.Name
		if input.Type != "" {
			decl += ":" + input.Type
		}
		name, t, err := parseDecl(decl)
		if err != nil {
			return nil, errors.WithMessagef(err, "graph %q input", desc.Name)
		}
		if err = top.define(g.AddInput(t), name); err != nil {
			return nil, errors.WithMessagef(err, "graph %q", desc.Name)
		}
	}
	if err := buildBlock(g, g.Block(), top, desc.Nodes, desc.Outputs); err != nil {
		return nil, errors.WithMessagef(err, "graph %q", desc.Name)
	}
	if err := g.Lint(); err != nil {
		return nil, errors.WithMessagef(err, "graph %q is invalid", desc.Name)
	}
	return g, nil
}

func buildBlock(g *ir.Graph, b *ir.Block, sc *scope, nodes []NodeDesc, results []string) error {
	for i := range nodes {
		if err := buildNode(g, b, sc, &nodes[i]); err != nil {
			return errors.WithMessagef(err, "node #%d (%s)", i, nodes[i].Op)
		}
	}
	for _, name := range results {
		v, err := sc.lookup(name)
		if err != nil {
			return errors.WithMessage(err, "block results")
		}
		b.RegisterResult(v)
	}
	return nil
}

func buildNode(g *ir.Graph, b *ir.Block, sc *scope, desc *NodeDesc) error {
	kind, err := ir.ParseOpKind(desc.Op)
	if err != nil {
		return err
	}
	inputs := make([]*ir.Value, 0, len(desc.Inputs))
	for _, name := range desc.Inputs {
		v, err := sc.lookup(name)
		if err != nil {
			return err
		}
		inputs = append(inputs, v)
	}
	names := make([]string, 0, len(desc.Outputs))
	types := make([]ir.Type, 0, len(desc.Outputs))
	for _, decl := range desc.Outputs {
		name, t, err := parseDecl(decl)
		if err != nil {
			return err
		}
		names = append(names, name)
		types = append(types, t)
	}

	n := g.AppendNew(b, kind, inputs, types...)
	if desc.SideEffects {
		n.SetSideEffects(true)
	}
	if desc.Data != nil {
		data, err := convertData(desc.Data)
		if err != nil {
			return err
		}
		n.SetData(data)
	}

	// Nested blocks see the values defined so far, but not the outputs of n itself.
	for i := range desc.Blocks {
		blockDesc := &desc.Blocks[i]
		nested := n.AddBlock()
		nestedScope := newScope(sc)
		for _, decl := range blockDesc.Params {
			name, t, err := parseDecl(decl)
			if err != nil {
				return errors.WithMessagef(err, "block #%d params", i)
			}
			if err = nestedScope.define(nested.AddParam(t), name); err != nil {
				return errors.WithMessagef(err, "block #%d params", i)
			}
		}
		if err := buildBlock(g, nested, nestedScope, blockDesc.Nodes, blockDesc.Returns); err != nil {
			return errors.WithMessagef(err, "block #%d", i)
		}
	}

	for i, name := range names {
		if err := sc.define(n.Output(i), name); err != nil {
			return err
		}
	}
	return nil
}

// convertData converts YAML scalars and lists of integers to the instruction data types
// understood by the passes (see passes.DataComparable).
func convertData(data any) (any, error) {
	switch d := data.(type) {
	case int, float64, bool, string:
		return d, nil
	case []any:
		ints := make([]int, len(d))
		for i, elem := range d {
			v, ok := elem.(int)
			if !ok {
				return nil, errors.Errorf("data lists must hold integers only, got %v (%T)", elem, elem)
			}
			ints[i] = v
		}
		return ints, nil
	}
	return nil, errors.Errorf("unsupported data %v (%T)", data, data)
}
