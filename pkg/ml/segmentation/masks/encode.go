// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package masks converts color-coded label images to one-hot class masks and back.
//
// A label image is a Uint8 tensor shaped `[height, width, 3]`, where each pixel is painted with the
// color of its class (see package palette). Its one-hot mask is shaped `[height, width, numClasses]`,
// with a 1 in the channel of the class of the pixel, and 0 elsewhere.
//
// Pixels whose color is not in the palette (typically anti-aliased pixels at the boundary of objects)
// are encoded as all zeros: they don't belong to any class, and they are not an error.
package masks

import (
	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/ml/segmentation/palette"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Encoder converts label images to one-hot masks. Create it with NewEncoder.
//
// It holds only configuration, so it can be used concurrently once configured.
type Encoder struct {
	palette *palette.Palette
	order   images.ChannelOrder
	dtype   dtypes.DType
}

// NewEncoder returns an Encoder for the given palette, configured to read RGB label images and
// to output Uint8 masks.
func NewEncoder(p *palette.Palette) *Encoder {
	return &Encoder{
		palette: p,
		order:   images.RGB,
		dtype:   dtypes.Uint8,
	}
}

// ChannelOrder configures the channel order of the label images to encode.
// It returns the Encoder, so configuration calls can be cascaded.
func (e *Encoder) ChannelOrder(order images.ChannelOrder) *Encoder {
	e.order = order
	return e
}

// DType configures the dtype of the generated masks. The default is Uint8.
// Supported dtypes are Uint8, Int32, Int64, Float32, Float64, Float16 and BFloat16.
//
// It returns the Encoder, so configuration calls can be cascaded.
func (e *Encoder) DType(dtype dtypes.DType) *Encoder {
	e.dtype = dtype
	return e
}

// Encode converts the label image to a one-hot mask, shaped `[height, width, numClasses]`.
//
// The label must be a Uint8 tensor shaped `[height, width, 3]`, otherwise an error wrapping
// shapes.ErrShape is returned. The label is not modified.
func (e *Encoder) Encode(label *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkColorImage(label, "label"); err != nil {
		return nil, err
	}
	height, width := label.Shape().Dim(0), label.Shape().Dim(1)
	numClasses := e.palette.NumClasses()
	mask := tensors.FromShape(shapes.Make(e.dtype, height, width, numClasses))

	var unmapped int
	var err error
	tensors.ConstFlatData(label, func(labelFlat []uint8) {
		mask.MutableFlatData(func(flat any) {
			switch maskFlat := flat.(type) {
			case []uint8:
				unmapped = encodeImpl(e, labelFlat, maskFlat, 1)
			case []int32:
				unmapped = encodeImpl(e, labelFlat, maskFlat, 1)
			case []int64:
				unmapped = encodeImpl(e, labelFlat, maskFlat, 1)
			case []float32:
				unmapped = encodeImpl(e, labelFlat, maskFlat, 1)
			case []float64:
				unmapped = encodeImpl(e, labelFlat, maskFlat, 1)
			case []float16.Float16:
				unmapped = encodeImpl(e, labelFlat, maskFlat, float16.Fromfloat32(1))
			case []bfloat16.BFloat16:
				unmapped = encodeImpl(e, labelFlat, maskFlat, bfloat16.FromFloat32(1))
			default:
				err = errors.Wrapf(shapes.ErrShape, "masks.Encoder: mask dtype %s not supported", e.dtype)
			}
		})
	})
	if err != nil {
		mask.FinalizeAll()
		return nil, err
	}
	if unmapped > 0 {
		klog.V(2).Infof("masks.Encode: %d of %d pixels of label %s have colors not in the palette",
			unmapped, height*width, label.Shape())
	}
	return mask, nil
}

// encodeImpl writes one into the channel of the class of each pixel, and returns the number
// of pixels with a color not in the palette. maskFlat must be zeroed.
func encodeImpl[T uint8 | int32 | int64 | float32 | float64 | float16.Float16 | bfloat16.BFloat16](
	e *Encoder, labelFlat []uint8, maskFlat []T, one T) (unmapped int) {
	numClasses := e.palette.NumClasses()
	rgbIdx := e.order.RGBIndices()
	numPixels := len(labelFlat) / 3
	for pixel := range numPixels {
		base := pixel * 3
		c := palette.Color{labelFlat[base+rgbIdx[0]], labelFlat[base+rgbIdx[1]], labelFlat[base+rgbIdx[2]]}
		classIdx, found := e.palette.Index(c)
		if !found {
			unmapped++
			continue
		}
		maskFlat[pixel*numClasses+classIdx] = one
	}
	return
}

// Encode converts a label image, with colors in the given channel order, to a Uint8 one-hot mask
// shaped `[height, width, numClasses]`.
//
// It's a shortcut to `NewEncoder(p).ChannelOrder(order).Encode(label)`.
func Encode(label *tensors.Tensor, p *palette.Palette, order images.ChannelOrder) (*tensors.Tensor, error) {
	return NewEncoder(p).ChannelOrder(order).Encode(label)
}

// checkColorImage returns an error wrapping shapes.ErrShape if t is not a Uint8 `[height, width, 3]` tensor.
func checkColorImage(t *tensors.Tensor, name string) error {
	if t == nil || !t.Ok() {
		return errors.Wrapf(shapes.ErrShape, "%s tensor is nil or finalized", name)
	}
	if err := t.Shape().Check(dtypes.Uint8, shapes.UncheckedAxis, shapes.UncheckedAxis, 3); err != nil {
		return errors.WithMessagef(err, "%s must be a Uint8 tensor shaped [height, width, 3]", name)
	}
	return nil
}
