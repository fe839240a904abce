// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newTestImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{
		1, 2, 3, 255,
		3, 3, 3, 255,
		5, 5, 5, 255,
		10, 20, 30, 255,
		30, 30, 30, 255,
		50, 40, 45, 255})
	return img
}

func testTensorToFromImageImpl[T dtypes.NumberNotComplex | float16.Float16 | bfloat16.BFloat16](
	t *testing.T, img *image.NRGBA) {
	dtype := dtypes.FromGenericsType[T]()
	tensor := ToTensor(dtype).WithAlpha().Single(img)
	require.NoError(t, tensor.Shape().Check(dtype, 2, 3, 4))
	convertedImg := ToImage().Single(tensor)
	require.Equal(t, img.Bounds(), convertedImg.Bounds())
	for y := range 2 {
		for x := range 3 {
			require.Equalf(t, img.At(x, y), convertedImg.At(x, y), "dtype=%s, x=%d, y=%d", dtype, x, y)
		}
	}
}

func TestTensorToFromImage(t *testing.T) {
	img := newTestImage()
	testTensorToFromImageImpl[float32](t, img)
	testTensorToFromImageImpl[float64](t, img)
	testTensorToFromImageImpl[int32](t, img)
	testTensorToFromImageImpl[int64](t, img)
	testTensorToFromImageImpl[uint8](t, img)
	testTensorToFromImageImpl[uint16](t, img)
	testTensorToFromImageImpl[float16.Float16](t, img)
	testTensorToFromImageImpl[bfloat16.BFloat16](t, img)
}

func TestChannelOrder(t *testing.T) {
	img := newTestImage()
	rgb := ToTensor(dtypes.Uint8).Single(img)
	require.NoError(t, rgb.Shape().Check(dtypes.Uint8, 2, 3, 3))
	assert.Equal(t, []uint8{1, 2, 3}, tensors.CopyFlatData[uint8](rgb)[:3])

	bgr := ToTensor(dtypes.Uint8).ChannelOrder(BGR).Single(img)
	assert.Equal(t, []uint8{3, 2, 1}, tensors.CopyFlatData[uint8](bgr)[:3])
	assert.Equal(t, []uint8{45, 40, 50}, tensors.CopyFlatData[uint8](bgr)[15:18])

	// Reading back a BGR tensor as BGR recovers the original image.
	back := ToImage().ChannelOrder(BGR).Single(bgr)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, back.At(0, 1))

	order, err := ChannelOrderString("bgr")
	require.NoError(t, err)
	assert.Equal(t, BGR, order)
	assert.Equal(t, "RGB", RGB.String())
	assert.Equal(t, "ChannelOrder(7)", ChannelOrder(7).String())
	assert.Equal(t, []ChannelOrder{RGB, BGR}, ChannelOrderValues())
	_, err = ChannelOrderString("rgba")
	require.Error(t, err)
	text, err := BGR.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "BGR", string(text))
}

func TestBatchAndValueRange(t *testing.T) {
	img := newTestImage()
	batch := ToTensor(dtypes.Float32).MaxValue(2.0).Batch([]image.Image{img, img})
	require.NoError(t, batch.Shape().Check(dtypes.Float32, 2, 2, 3, 3))
	// Shift [0, 2] to [-1, 1], and convert back with the corresponding value range.
	tensors.MutableFlatData(batch, func(flat []float32) {
		for ii := range flat {
			flat[ii] -= 1
		}
	})
	converted := ToImage().ValueRange(-1, 1).Batch(batch)
	require.Len(t, converted, 2)
	for _, convertedImg := range converted {
		assert.Equal(t, img.At(2, 1), convertedImg.At(2, 1))
	}

	smaller := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	require.Panics(t, func() { ToTensor(dtypes.Uint8).Batch([]image.Image{img, smaller}) })
	require.Panics(t, func() { ToTensor(dtypes.Uint8).Batch(nil) })
	require.Panics(t, func() { ToImage().Single(batch) })
}
