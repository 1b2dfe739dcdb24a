// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// OpKind is an enum of the operations an Instruction can perform.
//
// The kinds carry a small schema (see opSchemas): whether the operation has side effects,
// which inputs it writes to, and whether its first output aliases its first input.
type OpKind int

const (
	OpInvalid OpKind = iota

	// OpParam is the sentinel at the start of every Block: its outputs are the block parameters.
	OpParam

	// OpReturn is the sentinel at the end of every Block: its inputs are the block results.
	OpReturn

	OpConstant
	OpIdentity
	OpCustom

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpReLU
	OpGELU
	OpSigmoid
	OpTanh
	OpSoftmax
	OpLayerNorm
	OpBatchNorm
	OpConv
	OpMatMul
	OpLinear
	OpMaxPool
	OpAvgPool
	OpConcat
	OpTranspose
	OpQuantize
	OpDequantize

	// OpReshape and OpView return a value aliasing their first input.
	OpReshape
	OpView

	// OpAddInPlace and OpReLUInPlace write to their first input and return an alias of it.
	OpAddInPlace
	OpReLUInPlace

	// OpPrint has side effects: instructions are never reordered around it.
	OpPrint

	// OpIf holds two blocks (then/else), OpLoop holds the loop body.
	OpIf
	OpLoop

	// OpFusionGroup is a partition: its single nested block holds the fused instructions,
	// block parameters mirror its inputs and block results mirror its outputs.
	OpFusionGroup

	numOpKinds
)

type opSchema struct {
	name          string
	sideEffects   bool
	mutatedInputs []int
	aliasesInput0 bool
}

var opSchemas = [numOpKinds]opSchema{
	OpInvalid:     {name: "invalid"},
	OpParam:       {name: "param"},
	OpReturn:      {name: "return"},
	OpConstant:    {name: "constant"},
	OpIdentity:    {name: "identity"},
	OpCustom:      {name: "custom"},
	OpAdd:         {name: "add"},
	OpSub:         {name: "sub"},
	OpMul:         {name: "mul"},
	OpDiv:         {name: "div"},
	OpReLU:        {name: "relu"},
	OpGELU:        {name: "gelu"},
	OpSigmoid:     {name: "sigmoid"},
	OpTanh:        {name: "tanh"},
	OpSoftmax:     {name: "softmax"},
	OpLayerNorm:   {name: "layer_norm"},
	OpBatchNorm:   {name: "batch_norm"},
	OpConv:        {name: "conv"},
	OpMatMul:      {name: "matmul"},
	OpLinear:      {name: "linear"},
	OpMaxPool:     {name: "max_pool"},
	OpAvgPool:     {name: "avg_pool"},
	OpConcat:      {name: "concat"},
	OpTranspose:   {name: "transpose"},
	OpQuantize:    {name: "quantize"},
	OpDequantize:  {name: "dequantize"},
	OpReshape:     {name: "reshape", aliasesInput0: true},
	OpView:        {name: "view", aliasesInput0: true},
	OpAddInPlace:  {name: "add_", mutatedInputs: []int{0}, aliasesInput0: true},
	OpReLUInPlace: {name: "relu_", mutatedInputs: []int{0}, aliasesInput0: true},
	OpPrint:       {name: "print", sideEffects: true},
	OpIf:          {name: "if"},
	OpLoop:        {name: "loop"},
	OpFusionGroup: {name: "fusion_group"},
}

var opKindByName = func() map[string]OpKind {
	m := make(map[string]OpKind, numOpKinds)
	for kind := OpInvalid + 1; kind < numOpKinds; kind++ {
		m[opSchemas[kind].name] = kind
	}
	return m
}()

// String implements fmt.Stringer.
func (k OpKind) String() string {
	if k < 0 || k >= numOpKinds {
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
	return opSchemas[k].name
}

// ParseOpKind returns the OpKind with the given name (as returned by OpKind.String).
// OpInvalid and the sentinel kinds (param, return) cannot be parsed.
func ParseOpKind(name string) (OpKind, error) {
	kind, found := opKindByName[name]
	if !found || kind == OpInvalid || kind.IsSentinel() {
		return OpInvalid, errors.Errorf("unknown operation kind %q", name)
	}
	return kind, nil
}

// HasSideEffects returns whether operations of this kind have side effects by themselves.
func (k OpKind) HasSideEffects() bool {
	return k > 0 && k < numOpKinds && opSchemas[k].sideEffects
}

// MutatedInputs returns the indices of the inputs written to by operations of this kind.
// The returned slice must not be modified.
func (k OpKind) MutatedInputs() []int {
	if k <= 0 || k >= numOpKinds {
		return nil
	}
	return opSchemas[k].mutatedInputs
}

// AliasesFirstInput returns whether the first output of this kind of operation may point to
// the same storage as its first input.
func (k OpKind) AliasesFirstInput() bool {
	return k > 0 && k < numOpKinds && opSchemas[k].aliasesInput0
}

// IsSentinel returns whether k is one of the block sentinel kinds (OpParam or OpReturn).
func (k OpKind) IsSentinel() bool {
	return k == OpParam || k == OpReturn
}
