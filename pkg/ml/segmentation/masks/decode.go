// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

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
)

// ErrClassIndex is wrapped by errors caused by a class index outside the palette range.
var ErrClassIndex = errors.New("class index out of range")

// ArgMax converts a mask shaped `[height, width, numClasses]` to a class-index map, an Int32 tensor
// shaped `[height, width]` with the channel holding the largest value of each pixel.
//
// The mask can be one-hot or the per-class scores predicted by a model, of any numeric dtype.
// Ties are resolved to the first channel, so an all-zero vector (an unmapped pixel) becomes class 0.
func ArgMax(mask *tensors.Tensor) (*tensors.Tensor, error) {
	if mask == nil || !mask.Ok() {
		return nil, errors.Wrapf(shapes.ErrShape, "mask tensor is nil or finalized")
	}
	if err := shapes.CheckRank(mask, 3); err != nil {
		return nil, errors.WithMessagef(err, "mask must be shaped [height, width, numClasses]")
	}
	values, err := maskValues(mask)
	if err != nil {
		return nil, err
	}
	height, width, numClasses := mask.Shape().Dim(0), mask.Shape().Dim(1), mask.Shape().Dim(2)
	indices := make([]int32, height*width)
	for pixel := range indices {
		pixelValues := values[pixel*numClasses : (pixel+1)*numClasses]
		best := 0
		for classIdx := 1; classIdx < numClasses; classIdx++ {
			if pixelValues[classIdx] > pixelValues[best] {
				best = classIdx
			}
		}
		indices[pixel] = int32(best)
	}
	return tensors.FromFlatDataAndDimensions(indices, height, width), nil
}

// Decode converts a class-index map shaped `[height, width]` (Int32, Int64 or Uint8) to a color image,
// a Uint8 tensor shaped `[height, width, 3]` painted with the palette colors, in the given channel order.
//
// It returns an error wrapping ErrClassIndex if any index is outside of the palette.
func Decode(indexMap *tensors.Tensor, p *palette.Palette, order images.ChannelOrder) (*tensors.Tensor, error) {
	if indexMap == nil || !indexMap.Ok() {
		return nil, errors.Wrapf(shapes.ErrShape, "class-index map tensor is nil or finalized")
	}
	if err := shapes.CheckRank(indexMap, 2); err != nil {
		return nil, errors.WithMessagef(err, "class-index map must be shaped [height, width]")
	}
	var indices []int
	switch indexMap.DType() {
	case dtypes.Int32:
		indices = indicesAsInt(tensors.CopyFlatData[int32](indexMap))
	case dtypes.Int64:
		indices = indicesAsInt(tensors.CopyFlatData[int64](indexMap))
	case dtypes.Uint8:
		indices = indicesAsInt(tensors.CopyFlatData[uint8](indexMap))
	default:
		return nil, errors.Wrapf(shapes.ErrShape, "class-index map dtype %s not supported, use Int32, Int64 or Uint8",
			indexMap.DType())
	}

	height, width := indexMap.Shape().Dim(0), indexMap.Shape().Dim(1)
	colors := p.Colors()
	rgbIdx := order.RGBIndices()
	decoded := make([]uint8, height*width*3)
	for pixel, classIdx := range indices {
		if classIdx < 0 || classIdx >= len(colors) {
			return nil, errors.Wrapf(ErrClassIndex, "pixel (%d, %d) has class index %d, palette has %d classes",
				pixel/width, pixel%width, classIdx, len(colors))
		}
		c := colors[classIdx]
		base := pixel * 3
		for ch := range 3 {
			decoded[base+rgbIdx[ch]] = c[ch]
		}
	}
	return tensors.FromFlatDataAndDimensions(decoded, height, width, 3), nil
}

func indicesAsInt[T int32 | int64 | uint8](flat []T) []int {
	indices := make([]int, len(flat))
	for ii, v := range flat {
		indices[ii] = int(v)
	}
	return indices
}

// maskValues returns the values of a mask of any numeric dtype converted to float64.
func maskValues(mask *tensors.Tensor) (values []float64, err error) {
	mask.ConstFlatData(func(flat any) {
		switch maskFlat := flat.(type) {
		case []uint8:
			values = valuesAsFloat64(maskFlat)
		case []int8:
			values = valuesAsFloat64(maskFlat)
		case []int16:
			values = valuesAsFloat64(maskFlat)
		case []uint16:
			values = valuesAsFloat64(maskFlat)
		case []int32:
			values = valuesAsFloat64(maskFlat)
		case []uint32:
			values = valuesAsFloat64(maskFlat)
		case []int64:
			values = valuesAsFloat64(maskFlat)
		case []uint64:
			values = valuesAsFloat64(maskFlat)
		case []float32:
			values = valuesAsFloat64(maskFlat)
		case []float64:
			values = valuesAsFloat64(maskFlat)
		case []float16.Float16:
			values = make([]float64, len(maskFlat))
			for ii, v := range maskFlat {
				values[ii] = float64(v.Float32())
			}
		case []bfloat16.BFloat16:
			values = make([]float64, len(maskFlat))
			for ii, v := range maskFlat {
				values[ii] = float64(v.Float32())
			}
		default:
			err = errors.Wrapf(shapes.ErrShape, "mask dtype %s not supported", mask.DType())
		}
	})
	return
}

func valuesAsFloat64[T dtypes.NumberNotComplex](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}
