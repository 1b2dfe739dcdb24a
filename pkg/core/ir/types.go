// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DType is the element type of a Value.
type DType int

const (
	// InvalidDType is used for values whose type is not known: they print as "Tensor".
	InvalidDType DType = iota
	Bool
	Int8
	Uint8
	Int32
	Int64
	Float16
	BFloat16
	Float32
	Float64
)

var dtypeNames = []string{
	InvalidDType: "Tensor",
	Bool:         "bool",
	Int8:         "s8",
	Uint8:        "u8",
	Int32:        "s32",
	Int64:        "s64",
	Float16:      "f16",
	BFloat16:     "bf16",
	Float32:      "f32",
	Float64:      "f64",
}

// String implements fmt.Stringer.
func (dt DType) String() string {
	if dt < 0 || int(dt) >= len(dtypeNames) {
		return fmt.Sprintf("DType(%d)", int(dt))
	}
	return dtypeNames[dt]
}

// Type of a Value: a dtype and (optionally) its dimensions.
//
// The zero value is the unknown type.
type Type struct {
	DType      DType
	Dimensions []int
}

// MakeType returns a Type with the given dtype and dimensions.
func MakeType(dtype DType, dimensions ...int) Type {
	return Type{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// IsKnown returns whether the dtype of the type is known.
func (t Type) IsKnown() bool {
	return t.DType != InvalidDType
}

// Rank returns the number of dimensions.
func (t Type) Rank() int {
	return len(t.Dimensions)
}

// Equal returns whether both types have the same dtype and dimensions.
func (t Type) Equal(t2 Type) bool {
	return t.DType == t2.DType && slices.Equal(t.Dimensions, t2.Dimensions)
}

// Clone returns a deep copy of the type.
func (t Type) Clone() Type {
	return Type{DType: t.DType, Dimensions: slices.Clone(t.Dimensions)}
}

// String implements fmt.Stringer. E.g.: "f32[2,3]", "s64" (scalar) or "Tensor" (unknown).
func (t Type) String() string {
	if !t.IsKnown() || len(t.Dimensions) == 0 {
		return t.DType.String()
	}
	parts := make([]string, len(t.Dimensions))
	for i, dim := range t.Dimensions {
		parts[i] = strconv.Itoa(dim)
	}
	return fmt.Sprintf("%s[%s]", t.DType, strings.Join(parts, ","))
}

// ParseType parses the format generated by Type.String.
func ParseType(text string) (Type, error) {
	text = strings.TrimSpace(text)
	name, dimsText, hasDims := strings.Cut(text, "[")
	dtype := slices.Index(dtypeNames, name)
	if dtype < 0 {
		return Type{}, errors.Errorf("unknown dtype %q in type %q", name, text)
	}
	t := Type{DType: DType(dtype)}
	if !hasDims {
		return t, nil
	}
	if !t.IsKnown() {
		return Type{}, errors.Errorf("type %q cannot have dimensions", text)
	}
	dimsText, found := strings.CutSuffix(dimsText, "]")
	if !found {
		return Type{}, errors.Errorf("missing closing \"]\" in type %q", text)
	}
	if dimsText == "" {
		return t, nil
	}
	for _, part := range strings.Split(dimsText, ",") {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || dim < 0 {
			return Type{}, errors.Errorf("invalid dimension %q in type %q", part, text)
		}
		t.Dimensions = append(t.Dimensions, dim)
	}
	return t, nil
}
