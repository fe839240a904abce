// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array held in host memory.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes dimensions) and their actual content, stored as a flat Go slice
// in row-major order.
//
// Images, labels, one-hot masks and batches produced by this module are all tensors. There are various
// ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]uint8{1, 2, 3, 4, 5, 6}, 1, 2, 3) // 1x2 image with 3 channels.
//
// Access to the data is done with ConstFlatData and MutableFlatData (or their generic versions), which
// lock the tensor while the access function runs.
package tensors

import (
	"sync"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions)
// of a given DType, with its values stored locally as a flat slice.
type Tensor struct {
	// mu protects flat during access.
	mu sync.Mutex

	shape shapes.Shape

	// flat holds the actual data, a slice of the Go type corresponding to the shape's DType.
	// It is nil once the tensor is finalized.
	flat any
}

// newTensor returns a Tensor object initialized only with the shape, but no actual storage.
func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// AssertValid panics if the tensor is nil, finalized, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("Tensor is nil")
	}
	if !t.shape.Ok() {
		exceptions.Panicf("Tensor shape is invalid")
	}
	if t.flat == nil {
		exceptions.Panicf("Tensor %s has been finalized", t.shape)
	}
}

// FinalizeAll immediately frees the associated data and leave Tensor in an invalid state.
//
// It's the caller responsibility to ensure the tensor is not being used elsewhere.
func (t *Tensor) FinalizeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
}
