// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	t = newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return
}

// FromScalarAndDimensions creates a local tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	t = FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	MutableFlatData(t, func(flat []T) {
		for ii := range flat {
			flat[ii] = value
		}
	})
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the
// flattened values given in `data`.
// The data is copied, so the caller is free to reuse it.
//
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(): data size is %d, but dimensions size is %d",
			len(data), shape.Size())
	}
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// This provides accessFn with the actual Tensor data (not a copy), and it's owned by the Tensor: it should not be
// changed. See Tensor.MutableFlatData to access a mutable version of the flat data.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
//
// It is the "generics" version of Tensor.ConstFlatData(), and it panics if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	assertGenericsType[T](t, "ConstFlatData")
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data. The type of the slice corresponds
// to the DType of the tensor. The contents of the slice itself can be changed until accessFn returns.
// During this time the Tensor is locked.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data.
//
// It is the "generics" version of Tensor.MutableFlatData(), and it panics if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	assertGenericsType[T](t, "MutableFlatData")
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

func assertGenericsType[T dtypes.Supported](t *Tensor, method string) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("%s[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			method, v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
}

// ConstBytes calls accessFn with the data as a bytes slice.
// It locks the Tensor until accessFn returns.
//
// The bytes are the actual Tensor data in the machine's native (little-endian) layout, and should not be changed.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) {
	t.ConstFlatData(func(flat any) {
		accessFn(flatAsBytes(flat))
	})
}

// MutableBytes calls accessFn with the data as a bytes slice, that can be changed until accessFn returns.
func (t *Tensor) MutableBytes(accessFn func(data []byte)) {
	t.MutableFlatData(func(flat any) {
		accessFn(flatAsBytes(flat))
	})
}

func flatAsBytes(flat any) []byte {
	flatV := reflect.ValueOf(flat)
	if flatV.Len() == 0 {
		return nil
	}
	element0 := flatV.Index(0)
	flatValuesPtr := element0.Addr().UnsafePointer()
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	return unsafe.Slice((*byte)(flatValuesPtr), sizeBytes)
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It panics if T doesn't match the tensor's dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) (flatCopy []T) {
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return
}

// Clone creates a deep copy of the Tensor.
func (t *Tensor) Clone() (clone *Tensor) {
	t.ConstFlatData(func(flat any) {
		clone = newTensor(t.shape.Clone())
		flatV := reflect.ValueOf(flat)
		size := flatV.Len()
		cloneFlatV := reflect.MakeSlice(flatV.Type(), size, size)
		reflect.Copy(cloneFlatV, flatV)
		clone.flat = cloneFlatV.Interface()
	})
	return
}

// Equal checks whether the two tensors have the same shape and exact same values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if t == otherTensor {
		return true
	}
	var equal bool
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			equal = reflect.DeepEqual(flat0, flat1)
		})
	})
	return equal
}

// MaxSizeForString is the largest tensor whose values are printed by String.
var MaxSizeForString = 64

// String converts to string: for small tensors it includes the values, for larger ones just the shape.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if !t.Ok() {
		return fmt.Sprintf("Tensor%s(finalized)", t.shape)
	}
	if t.Size() > MaxSizeForString {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	var str string
	t.ConstFlatData(func(flat any) {
		str = fmt.Sprintf("Tensor%s: %v", t.shape, flat)
	})
	return str
}
