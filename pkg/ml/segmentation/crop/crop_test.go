// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package crop

import (
	"testing"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/ml/segmentation/masks"
	"github.com/gomlx/camvid/pkg/ml/segmentation/palette"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makePair returns a Uint8 image whose pixels encode their own position (see pixelPosition), and a label
// painted in blocks of CamVid colors.
func makePair(height, width int) (image, label *tensors.Tensor) {
	imageFlat := make([]uint8, height*width*3)
	labelFlat := make([]uint8, height*width*3)
	for y := range height {
		for x := range width {
			base := (y*width + x) * 3
			imageFlat[base] = uint8(y % 256)
			imageFlat[base+1] = uint8(x % 256)
			imageFlat[base+2] = uint8((y/256)*16 + x/256)
			c := palette.CamVidClasses[(y/40+x/60)%len(palette.CamVidClasses)].Color
			copy(labelFlat[base:base+3], c[:])
		}
	}
	return tensors.FromFlatDataAndDimensions(imageFlat, height, width, 3),
		tensors.FromFlatDataAndDimensions(labelFlat, height, width, 3)
}

// pixelPosition decodes the (row, column) written by makePair in the pixel starting at base.
func pixelPosition(flat []uint8, base int) (y, x int) {
	high := int(flat[base+2])
	return int(flat[base]) + 256*(high/16), int(flat[base+1]) + 256*(high%16)
}

func TestOffsets(t *testing.T) {
	cropper := NewWithSeed(42)
	top, left, err := cropper.Offsets(720, 960, 320, 480, false)
	require.NoError(t, err)
	assert.Equal(t, 200, top)
	assert.Equal(t, 240, left)

	// Odd differences round down.
	top, left = must.M2(cropper.Offsets(11, 10, 4, 3, false))
	assert.Equal(t, 3, top)
	assert.Equal(t, 3, left)

	// Same seed, same sequence of offsets.
	other := NewWithSeed(42)
	var seenTops = map[int]bool{}
	for range 100 {
		top0, left0 := must.M2(cropper.Offsets(720, 960, 320, 480, true))
		top1, left1 := must.M2(other.Offsets(720, 960, 320, 480, true))
		require.Equal(t, top0, top1)
		require.Equal(t, left0, left1)
		require.True(t, top0 >= 0 && top0 <= 400)
		require.True(t, left0 >= 0 && left0 <= 480)
		seenTops[top0] = true
	}
	assert.Greater(t, len(seenTops), 10, "training offsets should vary")

	// Target equal to the image has a single valid offset.
	top, left = must.M2(New(nil).Offsets(32, 48, 32, 48, true))
	assert.Zero(t, top)
	assert.Zero(t, left)

	for _, target := range [][2]int{{721, 480}, {320, 961}, {0, 480}, {320, -1}} {
		_, _, err = cropper.Offsets(720, 960, target[0], target[1], true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, shapes.ErrShape))
	}
}

func TestCrop(t *testing.T) {
	image, label := makePair(720, 960)
	labelColors := must.M1(masks.DistinctColors(label, images.RGB))
	cropper := NewWithSeed(7)
	for _, isTraining := range []bool{false, true, true} {
		imageCropped, labelCropped, err := cropper.Crop(image, label, 320, 480, isTraining)
		require.NoError(t, err)
		require.NoError(t, imageCropped.Shape().Check(dtypes.Uint8, 320, 480, 3))
		require.NoError(t, labelCropped.Shape().Check(dtypes.Uint8, 320, 480, 3))

		// The image pixels hold their position: recover the offset and check the label used the same.
		imageFlat := tensors.CopyFlatData[uint8](imageCropped)
		top, left := pixelPosition(imageFlat, 0)
		if !isTraining {
			assert.Equal(t, 200, top)
			assert.Equal(t, 240, left)
		}
		for _, pos := range [][2]int{{0, 0}, {319, 479}, {100, 7}} {
			base := (pos[0]*480 + pos[1]) * 3
			y, x := pixelPosition(imageFlat, base)
			require.Equal(t, top+pos[0], y)
			require.Equal(t, left+pos[1], x)
		}
		want := must.M1(CropAt(label, top, left, 320, 480))
		assert.True(t, want.Equal(labelCropped))

		croppedColors := must.M1(masks.DistinctColors(labelCropped, images.RGB))
		assert.True(t, croppedColors.IsSubsetOf(labelColors))

		// The 12 classes CamVid mask of the crop.
		mask := must.M1(masks.Encode(labelCropped, palette.CamVid(), images.RGB))
		require.NoError(t, mask.Shape().Check(dtypes.Uint8, 320, 480, 12))
		var notBinary int
		tensors.ConstFlatData(mask, func(flat []uint8) {
			for _, v := range flat {
				if v > 1 {
					notBinary++
				}
			}
		})
		require.Zero(t, notBinary)
	}
	// Inputs are not modified.
	freshImage, freshLabel := makePair(720, 960)
	assert.True(t, freshImage.Equal(image))
	assert.True(t, freshLabel.Equal(label))
}

func TestCropErrors(t *testing.T) {
	cropper := NewWithSeed(1)
	image, label := makePair(64, 96)
	_, smallLabel := makePair(64, 90)

	_, _, err := cropper.Crop(image, smallLabel, 32, 48, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = cropper.Crop(image, label, 65, 48, true)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = cropper.Crop(image, label, 32, 97, false)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	flat := tensors.FromShape(shapes.Make(dtypes.Uint8, 64, 96))
	_, _, err = cropper.Crop(flat, label, 32, 48, false)
	assert.True(t, errors.Is(err, shapes.ErrShape))
	_, _, err = cropper.Crop(nil, label, 32, 48, false)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	// Image and label must agree on channels and dtype.
	for _, labelShape := range []shapes.Shape{
		shapes.Make(dtypes.Float32, 64, 96, 1),
		shapes.Make(dtypes.Uint8, 64, 96, 4),
		shapes.Make(dtypes.Int32, 64, 96, 3),
	} {
		_, _, err = cropper.Crop(image, tensors.FromShape(labelShape), 32, 48, false)
		require.Error(t, err, "label shape %s", labelShape)
		assert.True(t, errors.Is(err, shapes.ErrShape))
	}
	fourChannels := tensors.FromShape(shapes.Make(dtypes.Uint8, 64, 96, 4))
	_, _, err = cropper.Crop(fourChannels, fourChannels, 32, 48, false)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	// CropAt works with any number of channels.
	mask := tensors.FromShape(shapes.Make(dtypes.Float32, 64, 96, 12))
	maskCropped := must.M1(CropAt(mask, 10, 20, 32, 48))
	assert.NoError(t, maskCropped.Shape().Check(dtypes.Float32, 32, 48, 12))

	_, err = CropAt(label, 40, 0, 32, 48)
	assert.True(t, errors.Is(err, shapes.ErrShape))
	_, err = CropAt(label, 0, -1, 32, 48)
	assert.True(t, errors.Is(err, shapes.ErrShape))
}
