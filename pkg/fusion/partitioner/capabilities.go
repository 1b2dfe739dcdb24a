// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partitioner

import (
	"maps"

	"github.com/gomlx/graphfuser/pkg/core/ir"
)

// Capabilities of a fusion backend: the set of supported operations and data types.
type Capabilities struct {
	// Operations supported by the backend.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[ir.OpKind]bool

	// DTypes list the data types supported by the backend.
	// If not listed, it's assumed to be false, hence not supported.
	// Values of unknown type (ir.InvalidDType) are always accepted.
	DTypes map[ir.DType]bool
}

// DefaultCapabilities of a oneDNN-like backend: the usual neural network operations on
// floating point and 8-bit quantized data.
var DefaultCapabilities = Capabilities{
	Operations: map[ir.OpKind]bool{
		// Elementwise:
		ir.OpAdd:     true,
		ir.OpSub:     true,
		ir.OpMul:     true,
		ir.OpDiv:     true,
		ir.OpReLU:    true,
		ir.OpGELU:    true,
		ir.OpSigmoid: true,
		ir.OpTanh:    true,

		// Normalizations:
		ir.OpSoftmax:   true,
		ir.OpLayerNorm: true,
		ir.OpBatchNorm: true,

		// Compute heavy:
		ir.OpConv:   true,
		ir.OpMatMul: true,
		ir.OpLinear: true,

		ir.OpMaxPool:   true,
		ir.OpAvgPool:   true,
		ir.OpConcat:    true,
		ir.OpTranspose: true,

		// Quantization:
		ir.OpQuantize:   true,
		ir.OpDequantize: true,
	},

	DTypes: map[ir.DType]bool{
		ir.Int8:     true,
		ir.Uint8:    true,
		ir.Int32:    true,
		ir.Float16:  true,
		ir.BFloat16: true,
		ir.Float32:  true,
	},
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[ir.OpKind]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[ir.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// Supports returns whether the backend can execute n as part of a partition.
//
// Only operations without nested blocks, side effects or writes to memory are supported,
// regardless of the capabilities.
func (c Capabilities) Supports(n *ir.Instruction) bool {
	if !c.Operations[n.Kind()] || n.NumBlocks() > 0 || n.HasSideEffects() ||
		len(n.Kind().MutatedInputs()) > 0 || n.Kind().AliasesFirstInput() {
		return false
	}
	for _, v := range n.Inputs() {
		if !c.supportsType(v.Type()) {
			return false
		}
	}
	for _, v := range n.Outputs() {
		if !c.supportsType(v.Type()) {
			return false
		}
	}
	return true
}

func (c Capabilities) supportsType(t ir.Type) bool {
	return t.DType == ir.InvalidDType || c.DTypes[t.DType]
}
