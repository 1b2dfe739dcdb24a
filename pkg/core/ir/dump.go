// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"
)

// String returns the text dump of the whole graph, e.g.:
//
//	graph linear(%x: f32[8]) {
//	  %a = conv(%x)
//	  %b = relu(%a)
//	  return(%b)
//	}
func (g *Graph) String() string {
	var p printer
	p.WriteString("graph ")
	p.WriteString(g.name)
	p.WriteString("(")
	p.valueDecls(g.block.param.outputs)
	p.WriteString(") {\n")
	p.blockBody(g.block, 1)
	p.WriteString("}\n")
	return p.String()
}

// String returns the text dump of the block's instructions and results.
func (b *Block) String() string {
	var p printer
	p.blockBody(b, 0)
	return p.String()
}

type printer struct {
	strings.Builder
}

func (p *printer) indent(level int) {
	p.WriteString(strings.Repeat("  ", level))
}

func (p *printer) valueDecls(values []*Value) {
	for i, v := range values {
		if i > 0 {
			p.WriteString(", ")
		}
		p.WriteString(v.String())
		if v.typ.IsKnown() {
			p.WriteString(": ")
			p.WriteString(v.typ.String())
		}
	}
}

func (p *printer) valueRefs(values []*Value) {
	for i, v := range values {
		if i > 0 {
			p.WriteString(", ")
		}
		p.WriteString(v.String())
	}
}

// instructionHeader writes "outputs = kind[data](inputs)" without nested blocks.
func (p *printer) instructionHeader(n *Instruction) {
	if len(n.outputs) > 0 {
		p.valueDecls(n.outputs)
		p.WriteString(" = ")
	}
	p.WriteString(n.kind.String())
	if n.data != nil {
		_, _ = fmt.Fprintf(p, "[%v]", n.data)
	}
	p.WriteString("(")
	p.valueRefs(n.inputs)
	p.WriteString(")")
	if n.MarkedWithSideEffects() {
		p.WriteString(" #side_effects")
	}
}

func (p *printer) blockBody(b *Block, level int) {
	for n := b.First(); n != b.ret; n = n.next {
		p.indent(level)
		p.instructionHeader(n)
		if len(n.blocks) == 0 {
			p.WriteString("\n")
			continue
		}
		p.WriteString(" {\n")
		for i, nested := range n.blocks {
			p.indent(level + 1)
			_, _ = fmt.Fprintf(p, "block%d(", i)
			p.valueDecls(nested.param.outputs)
			p.WriteString("):\n")
			p.blockBody(nested, level+2)
		}
		p.indent(level)
		p.WriteString("}\n")
	}
	p.indent(level)
	p.WriteString("return(")
	p.valueRefs(b.ret.inputs)
	p.WriteString(")\n")
}
