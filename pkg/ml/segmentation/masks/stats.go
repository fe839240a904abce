// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package masks

import (
	"cmp"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/ml/segmentation/palette"
	"github.com/gomlx/camvid/pkg/support/sets"
	"github.com/pkg/errors"
)

// DistinctColors returns the set of colors (in RGB) present in a Uint8 image shaped `[height, width, 3]`,
// stored in the given channel order.
func DistinctColors(img *tensors.Tensor, order images.ChannelOrder) (sets.Set[palette.Color], error) {
	if err := checkColorImage(img, "image"); err != nil {
		return nil, err
	}
	colors := sets.Make[palette.Color]()
	rgbIdx := order.RGBIndices()
	tensors.ConstFlatData(img, func(flat []uint8) {
		for base := 0; base < len(flat); base += 3 {
			colors.Insert(palette.Color{flat[base+rgbIdx[0]], flat[base+rgbIdx[1]], flat[base+rgbIdx[2]]})
		}
	})
	return colors, nil
}

// SortedColors returns the colors of the set in lexicographic RGB order.
func SortedColors(colors sets.Set[palette.Color]) []palette.Color {
	return colors.SortedFunc(func(a, b palette.Color) int {
		for ch := range 3 {
			if c := cmp.Compare(a[ch], b[ch]); c != 0 {
				return c
			}
		}
		return 0
	})
}

// ClassCounts returns the number of pixels of each class in a mask shaped `[height, width, numClasses]`,
// that is, the number of non-zero values in each channel.
func ClassCounts(mask *tensors.Tensor) ([]int, error) {
	numClasses, values, err := checkedMaskValues(mask)
	if err != nil {
		return nil, err
	}
	counts := make([]int, numClasses)
	for ii, v := range values {
		if v != 0 {
			counts[ii%numClasses]++
		}
	}
	return counts, nil
}

// Unmapped returns the number of pixels of the mask that don't belong to any class: their vector is all zeros.
func Unmapped(mask *tensors.Tensor) (int, error) {
	numClasses, values, err := checkedMaskValues(mask)
	if err != nil {
		return 0, err
	}
	var unmapped int
	for base := 0; base < len(values); base += numClasses {
		allZeros := true
		for _, v := range values[base : base+numClasses] {
			if v != 0 {
				allZeros = false
				break
			}
		}
		if allZeros {
			unmapped++
		}
	}
	return unmapped, nil
}

func checkedMaskValues(mask *tensors.Tensor) (numClasses int, values []float64, err error) {
	if mask == nil || !mask.Ok() {
		err = errors.Wrapf(shapes.ErrShape, "mask tensor is nil or finalized")
		return
	}
	if err = shapes.CheckRank(mask, 3); err != nil {
		err = errors.WithMessagef(err, "mask must be shaped [height, width, numClasses]")
		return
	}
	numClasses = mask.Shape().Dim(-1)
	values, err = maskValues(mask)
	return
}
