// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors, keeping track of the order of the color channels.
//
// Image tensors are always "channels last": `[height, width, channels]` for a single image
// and `[batch_size, height, width, channels]` for a batch.
package images

import (
	"image"
	"math"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// ChannelOrder indicates the order of the color channels in an image tensor.
//
// Go's image decoders always produce RGB, while images read by OpenCV-based tools come in BGR.
// Palettes are always defined in RGB.
//
//go:generate go tool enumer -type=ChannelOrder -text -json -output=gen_channelorder_enumer.go images.go
type ChannelOrder uint8

const (
	RGB ChannelOrder = iota
	BGR
)

// RGBIndices returns the position of the red, green and blue channels (in that order)
// for an image stored in this ChannelOrder.
//
// It is its own inverse: it can be used to read RGB from an image in this order, or to write RGB into it.
func (o ChannelOrder) RGBIndices() [3]int {
	if o == BGR {
		return [3]int{2, 1, 0}
	}
	if o != RGB {
		klog.Errorf("ChannelOrder.RGBIndices(): invalid ChannelOrder %d, assuming RGB", o)
	}
	return [3]int{0, 1, 2}
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    dtypes.DType
	order    ChannelOrder
}

// ToTensor converts an image (or batch) to a tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
//
// The default is RGB channel order, no alpha channel and a maximum value of 1.0 for float dtypes
// and 255 for integer dtypes -- so `ToTensor(dtypes.Uint8)` returns the raw 8 bits pixel values.
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		channels: 3,
		maxValue: 1.0,
		dtype:    dtype,
		order:    RGB,
	}
	if !dtype.IsFloat() {
		// Use 255 for integer types.
		tt.maxValue = 255.0
	}
	return tt
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels. The default is dropping the alpha channel.
//
// The alpha channel is always the last one, regardless of the ChannelOrder.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes (Float32
// and Float64) and 255 for integer types.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// ChannelOrder sets the order of the color channels in the generated tensor. Default is RGB.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) ChannelOrder(order ChannelOrder) *ToTensorConfig {
	tt.order = order
	return tt
}

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, channels]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Single(img image.Image) (t *tensors.Tensor) {
	return toTensorImpl(tt, []image.Image{img}, false)
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, channels]`.
//
// It panics in case of error, including if the images don't all have the same size.
func (tt *ToTensorConfig) Batch(images []image.Image) (t *tensors.Tensor) {
	return toTensorImpl(tt, images, true)
}

func toTensorImpl(tt *ToTensorConfig, images []image.Image, batch bool) (t *tensors.Tensor) {
	if len(images) == 0 {
		Panicf("images.ToTensor requires at least one image")
	}
	switch tt.dtype {
	case dtypes.Float32:
		t = toTensorGenericsImpl[float32](tt, images, batch)
	case dtypes.Float64:
		t = toTensorGenericsImpl[float64](tt, images, batch)
	case dtypes.Int32:
		t = toTensorGenericsImpl[int32](tt, images, batch)
	case dtypes.Int64:
		t = toTensorGenericsImpl[int64](tt, images, batch)
	case dtypes.Uint8:
		t = toTensorGenericsImpl[uint8](tt, images, batch)
	case dtypes.Uint16:
		t = toTensorGenericsImpl[uint16](tt, images, batch)
	case dtypes.Float16:
		t = toTensorGenericsImpl[float16.Float16](tt, images, batch)
	case dtypes.BFloat16:
		t = toTensorGenericsImpl[bfloat16.BFloat16](tt, images, batch)
	default:
		Panicf("images.ToTensor does not support dtype %s", tt.dtype)
	}
	return
}

func toTensorGenericsImpl[T dtypes.NumberNotComplex | float16.Float16 | bfloat16.BFloat16](
	tt *ToTensorConfig, images []image.Image, batch bool) (t *tensors.Tensor) {
	if len(images) > 1 && !batch {
		Panicf("images.ToTensor in none-batch mode, but more than one image (%d) requested for conversion", len(images))
	}
	imgSize := images[0].Bounds().Size()
	dtype := dtypes.FromGenericsType[T]()
	if batch {
		t = tensors.FromShape(shapes.Make(dtype, len(images), imgSize.Y, imgSize.X, tt.channels))
	} else {
		t = tensors.FromShape(shapes.Make(dtype, imgSize.Y, imgSize.X, tt.channels))
	}

	// convertToDType converts RGBA channel value to the given DType.
	var convertToDType func(val uint32) T
	if dtype == dtypes.Float16 {
		convertToDType = func(val uint32) T {
			// color.RGBA() returns 16 bits values packaged in uint32.
			return T(float16.Fromfloat32(float32(val) * float32(tt.maxValue) / float32(0xFFFF)))
		}
	} else if dtype == dtypes.BFloat16 {
		convertToDType = func(val uint32) T {
			return T(bfloat16.FromFloat32(float32(val) * float32(tt.maxValue) / float32(0xFFFF)))
		}
	} else {
		convertToDType = func(val uint32) T {
			return T(float64(val) * tt.maxValue / float64(0xFFFF))
		}
	}
	rgbIdx := tt.order.RGBIndices()

	var sizeErr error
	tensors.MutableFlatData(t, func(flat []T) {
		pos := 0 // Position in the flat slice.
		for imgIdx, img := range images {
			bounds := img.Bounds()
			if !bounds.Size().Eq(imgSize) {
				sizeErr = errors.Errorf(
					"image[%d] has size %s, but image[0] has size %s -- they must all be the same",
					imgIdx, bounds.Size(), imgSize)
				return
			}
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					r, g, b, a := img.At(x, y).RGBA()
					flat[pos+rgbIdx[0]] = convertToDType(r)
					flat[pos+rgbIdx[1]] = convertToDType(g)
					flat[pos+rgbIdx[2]] = convertToDType(b)
					if tt.channels == 4 {
						flat[pos+3] = convertToDType(a)
					}
					pos += tt.channels
				}
			}
		}
		if pos != t.Size() {
			sizeErr = errors.Errorf(
				"images.ToTensor failed to set the values for all pixels (%d written out of %d)", pos, t.Size())
		}
	})
	if sizeErr != nil {
		t.FinalizeAll()
		panic(sizeErr)
	}
	return
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	minValue, maxValue float64
	order              ChannelOrder
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type.
func ToImage() *ToImageConfig {
	return &ToImageConfig{order: RGB}
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes (Float32
// and Float64) and 255 for integer types.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// ValueRange sets the range of values that maps to [0, 255] in the image. Values outside the
// range are clipped. Use `ValueRange(-1, 1)` for normalized images.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) ValueRange(minValue, maxValue float64) *ToImageConfig {
	ti.minValue = minValue
	ti.maxValue = maxValue
	return ti
}

// ChannelOrder sets the order of the color channels of the tensor being converted. Default is RGB.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) ChannelOrder(order ChannelOrder) *ToImageConfig {
	ti.order = order
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, channels]`
// with an image to a tensor, using the ToImageConfig.
//
// It panics in case of error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) (img image.Image) {
	if t.Rank() != 3 {
		Panicf("images.ToImage().Single() requires a rank-3 tensor, got shape %s", t.Shape())
	}
	return toImageImpl(ti, t)[0]
}

// Batch converts the given 4D tensor shaped as `[batch_size, height, width, channels]`
// to a collection of images to a tensor, using the ToImageConfig.
//
// It panics in case of error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) (images []image.Image) {
	if t.Rank() != 4 {
		Panicf("images.ToImage().Batch() requires a rank-4 tensor, got shape %s", t.Shape())
	}
	return toImageImpl(ti, t)
}

func toImageImpl(ti *ToImageConfig, imagesTensor *tensors.Tensor) (images []image.Image) {
	var numImages, width, height, channels int
	dims := imagesTensor.Shape().Dimensions
	switch imagesTensor.Rank() {
	case 3:
		numImages, height, width, channels = 1, dims[0], dims[1], dims[2]
	case 4:
		numImages, height, width, channels = dims[0], dims[1], dims[2], dims[3]
	default:
		Panicf("invalid tensor shape %s for images.ToImage conversion, must be either rank-3 or rank-4",
			imagesTensor.Shape())
	}
	if channels != 3 && channels != 4 {
		Panicf("images.ToImage invalid tensor shape %s, with %d channels: only images with 3 or 4 channels are supported",
			imagesTensor.Shape(), channels)
	}
	minValue, maxValue := ti.minValue, ti.maxValue
	if maxValue == 0 {
		if imagesTensor.DType().IsFloat() {
			maxValue = 1.0
		} else {
			maxValue = 255.0
		}
	}
	if maxValue <= minValue {
		Panicf("images.ToImage invalid value range [%g, %g]", minValue, maxValue)
	}
	geometry := imageGeometry{numImages, height, width, channels, minValue, maxValue, ti.order.RGBIndices()}
	dtype := imagesTensor.DType()
	switch dtype {
	case dtypes.Float32:
		images = toImageGenericsImpl[float32](imagesTensor, geometry)
	case dtypes.Float64:
		images = toImageGenericsImpl[float64](imagesTensor, geometry)
	case dtypes.Int32:
		images = toImageGenericsImpl[int32](imagesTensor, geometry)
	case dtypes.Int64:
		images = toImageGenericsImpl[int64](imagesTensor, geometry)
	case dtypes.Uint8:
		images = toImageGenericsImpl[uint8](imagesTensor, geometry)
	case dtypes.Uint16:
		images = toImageGenericsImpl[uint16](imagesTensor, geometry)
	case dtypes.Float16:
		images = toImageGenericsImpl[float16.Float16](imagesTensor, geometry)
	case dtypes.BFloat16:
		images = toImageGenericsImpl[bfloat16.BFloat16](imagesTensor, geometry)
	default:
		Panicf("images.ToImage cannot convert tensor of unsupported dtype %s to Image", dtype)
	}
	return
}

type imageGeometry struct {
	numImages, height, width, channels int
	minValue, maxValue                 float64
	rgbIdx                             [3]int
}

func toImageGenericsImpl[T dtypes.NumberNotComplex | float16.Float16 | bfloat16.BFloat16](
	imagesTensor *tensors.Tensor, g imageGeometry) (images []image.Image) {
	images = make([]image.Image, 0, g.numImages)
	isFloat16 := imagesTensor.DType() == dtypes.Float16
	isBFloat16 := imagesTensor.DType() == dtypes.BFloat16
	toUint8 := func(value T) uint8 {
		var v float64
		if isFloat16 {
			v = float64(float16.Float16(value).Float32())
		} else if isBFloat16 {
			v = float64(bfloat16.BFloat16(value).Float32())
		} else {
			v = float64(value)
		}
		v = math.Round(255 * (v - g.minValue) / (g.maxValue - g.minValue))
		return uint8(max(0, min(255, v)))
	}
	tensors.ConstFlatData(imagesTensor, func(tensorData []T) {
		tensorPos := 0
		for range g.numImages {
			img := image.NewNRGBA(image.Rect(0, 0, g.width, g.height))
			for h := range g.height {
				for w := range g.width {
					pixPos := h*img.Stride + w*4
					for ii, channelIdx := range g.rgbIdx {
						img.Pix[pixPos+ii] = toUint8(tensorData[tensorPos+channelIdx])
					}
					if g.channels == 4 {
						img.Pix[pixPos+3] = toUint8(tensorData[tensorPos+3])
					} else {
						img.Pix[pixPos+3] = uint8(255) // Alpha channel.
					}
					tensorPos += g.channels
				}
			}
			images = append(images, img)
		}
	})
	return
}
