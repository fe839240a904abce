// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/ml/segmentation/crop"
	"github.com/gomlx/camvid/pkg/ml/segmentation/masks"
	"github.com/gomlx/camvid/pkg/ml/segmentation/palette"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// makePairs creates numPairs random images and labels painted with blocks of CamVid colors.
func makePairs(numPairs, height, width int, seed uint64) (imagesList, labelsList []*tensors.Tensor) {
	rng := rand.New(rand.NewPCG(seed, 0))
	for range numPairs {
		imageFlat := make([]uint8, height*width*3)
		for ii := range imageFlat {
			imageFlat[ii] = uint8(rng.IntN(256))
		}
		labelFlat := make([]uint8, height*width*3)
		classOffset := rng.IntN(len(palette.CamVidClasses))
		for y := range height {
			for x := range width {
				c := palette.CamVidClasses[(classOffset+y/16+x/24)%len(palette.CamVidClasses)].Color
				copy(labelFlat[(y*width+x)*3:], c[:])
			}
		}
		imagesList = append(imagesList, tensors.FromFlatDataAndDimensions(imageFlat, height, width, 3))
		labelsList = append(labelsList, tensors.FromFlatDataAndDimensions(labelFlat, height, width, 3))
	}
	return
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, -1.0, Normalize(0))
	assert.Equal(t, 1.0, Normalize(255))
	assert.InDelta(t, 0.0, Normalize(127), 0.01)
	for v := range 256 {
		require.Equal(t, uint8(v), Denormalize(Normalize(uint8(v))))
	}
	assert.Equal(t, uint8(0), Denormalize(-3))
	assert.Equal(t, uint8(255), Denormalize(1.5))
}

func TestCamVidBatch(t *testing.T) {
	imagesList, labelsList := makePairs(2, 720, 960, 1)
	imagesT, labelsT, err := Batch(imagesList, labelsList, palette.CamVid(), 320, 480, true)
	require.NoError(t, err)
	require.NoError(t, imagesT.Shape().Check(dtypes.Float32, 2, 320, 480, 3))
	require.NoError(t, labelsT.Shape().Check(dtypes.Float32, 2, 320, 480, 12))

	tensors.ConstFlatData(imagesT, func(flat []float32) {
		var outOfRange int
		for _, v := range flat {
			if v < -1 || v > 1 {
				outOfRange++
			}
		}
		require.Zero(t, outOfRange)
	})
	tensors.ConstFlatData(labelsT, func(flat []float32) {
		var notOneHot int
		for pixel := range len(flat) / 12 {
			var sum float32
			for _, v := range flat[pixel*12 : (pixel+1)*12] {
				if v != 0 && v != 1 {
					notOneHot++
				}
				sum += v
			}
			if sum != 1 {
				notOneHot++
			}
		}
		require.Zero(t, notOneHot)
	})

	// Inputs are not modified.
	freshImages, freshLabels := makePairs(2, 720, 960, 1)
	for ii := range freshImages {
		require.True(t, freshImages[ii].Equal(imagesList[ii]))
		require.True(t, freshLabels[ii].Equal(labelsList[ii]))
	}
}

func TestProcessEvaluation(t *testing.T) {
	p := palette.CamVid()
	imagesList, labelsList := makePairs(3, 40, 64, 2)
	// Pairs may have different sizes.
	moreImages, moreLabels := makePairs(1, 50, 70, 3)
	imagesList = append(imagesList, moreImages...)
	labelsList = append(labelsList, moreLabels...)

	cfg := New(p, 32, 48).ImagesDType(dtypes.Float64).LabelsDType(dtypes.Uint8)
	assert.False(t, cfg.IsTraining())
	imagesT, labelsT, err := cfg.Process(imagesList, labelsList)
	require.NoError(t, err)
	require.NoError(t, imagesT.Shape().Check(dtypes.Float64, 4, 32, 48, 3))
	require.NoError(t, labelsT.Shape().Check(dtypes.Uint8, 4, 32, 48, 12))

	// Evaluation crops are centered: compare with the building blocks.
	imagesFlat := tensors.CopyFlatData[float64](imagesT)
	labelsFlat := tensors.CopyFlatData[uint8](labelsT)
	cropper := crop.New(nil)
	for ii := range imagesList {
		imageCropped, labelCropped := must.M2(cropper.Crop(imagesList[ii], labelsList[ii], 32, 48, false))
		for jj, v := range tensors.CopyFlatData[uint8](imageCropped) {
			require.Equal(t, Normalize(v), imagesFlat[ii*32*48*3+jj])
		}
		mask := must.M1(masks.Encode(labelCropped, p, images.RGB))
		require.Equal(t, tensors.CopyFlatData[uint8](mask), labelsFlat[ii*32*48*12:(ii+1)*32*48*12])
	}

	// Evaluation is deterministic.
	imagesT2, labelsT2 := must.M2(cfg.Process(imagesList, labelsList))
	assert.True(t, imagesT.Equal(imagesT2))
	assert.True(t, labelsT.Equal(labelsT2))
}

func TestProcessTrainingDeterminism(t *testing.T) {
	p := palette.CamVid()
	imagesList, labelsList := makePairs(8, 48, 64, 4)
	sequential := New(p, 24, 32).Training(true).WithSeed(17).Parallelism(0)
	parallel := New(p, 24, 32).Training(true).WithSeed(17).Parallelism(4)
	for range 3 {
		imagesSeq, labelsSeq := must.M2(sequential.Process(imagesList, labelsList))
		imagesPar, labelsPar := must.M2(parallel.Process(imagesList, labelsList))
		require.True(t, imagesSeq.Equal(imagesPar))
		require.True(t, labelsSeq.Equal(labelsPar))
	}

	// Different seeds, different crops.
	other := New(p, 24, 32).Training(true).WithSeed(18)
	imagesSeq, _ := must.M2(New(p, 24, 32).Training(true).WithSeed(17).Process(imagesList, labelsList))
	imagesOther, _ := must.M2(other.Process(imagesList, labelsList))
	assert.False(t, imagesSeq.Equal(imagesOther))
}

func TestProcessHalfPrecision(t *testing.T) {
	p := palette.CamVid()
	imagesList, labelsList := makePairs(2, 20, 30, 5)
	reference, referenceLabels := must.M2(New(p, 16, 24).Process(imagesList, labelsList))
	referenceFlat := tensors.CopyFlatData[float32](reference)

	imagesF16, labelsF16 := must.M2(New(p, 16, 24).ImagesDType(dtypes.Float16).LabelsDType(dtypes.Float16).
		Process(imagesList, labelsList))
	for ii, v := range tensors.CopyFlatData[float16.Float16](imagesF16) {
		require.InDelta(t, referenceFlat[ii], v.Float32(), 1e-3)
	}
	labelsF16Flat := tensors.CopyFlatData[float16.Float16](labelsF16)
	for ii, v := range tensors.CopyFlatData[float32](referenceLabels) {
		require.Equal(t, v, labelsF16Flat[ii].Float32())
	}

	imagesBF16, labelsI32 := must.M2(New(p, 16, 24).ImagesDType(dtypes.BFloat16).LabelsDType(dtypes.Int32).
		Process(imagesList, labelsList))
	for ii, v := range tensors.CopyFlatData[bfloat16.BFloat16](imagesBF16) {
		require.InDelta(t, referenceFlat[ii], v.Float32(), 1e-2)
	}
	require.NoError(t, labelsI32.Shape().Check(dtypes.Int32, 2, 16, 24, 12))
	labelsI32Flat := tensors.CopyFlatData[int32](labelsI32)
	var mismatches int
	for ii, v := range tensors.CopyFlatData[float32](referenceLabels) {
		if float32(labelsI32Flat[ii]) != v {
			mismatches++
		}
	}
	require.Zero(t, mismatches)
}

func TestProcessBGR(t *testing.T) {
	p := palette.CamVid()
	imagesList, labelsList := makePairs(2, 20, 30, 6)
	_, rgbLabels := must.M2(New(p, 20, 30).Process(imagesList, labelsList))
	bgrLabelsList := make([]*tensors.Tensor, len(labelsList))
	for ii, label := range labelsList {
		flat := tensors.CopyFlatData[uint8](label)
		for base := 0; base < len(flat); base += 3 {
			flat[base], flat[base+2] = flat[base+2], flat[base]
		}
		bgrLabelsList[ii] = tensors.FromFlatDataAndDimensions(flat, 20, 30, 3)
	}
	_, bgrLabels := must.M2(New(p, 20, 30).ChannelOrder(images.BGR).Process(imagesList, bgrLabelsList))
	assert.True(t, rgbLabels.Equal(bgrLabels))
}

func TestProcessErrors(t *testing.T) {
	p := palette.CamVid()
	cfg := New(p, 32, 48)
	imagesList, labelsList := makePairs(2, 40, 64, 7)

	_, _, err := cfg.Process(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = cfg.Process(imagesList, labelsList[:1])
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, otherLabels := makePairs(1, 40, 60, 8)
	_, _, err = cfg.Process(imagesList[:1], otherLabels)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	smallImages, smallLabels := makePairs(1, 20, 64, 9)
	_, _, err = cfg.Process(smallImages, smallLabels)
	assert.True(t, errors.Is(err, shapes.ErrShape))
	assert.Contains(t, err.Error(), "pair #0")

	floatImage := tensors.FromShape(shapes.Make(dtypes.Float32, 40, 64, 3))
	_, _, err = cfg.Process([]*tensors.Tensor{floatImage}, labelsList[:1])
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = New(p, 32, 48).ImagesDType(dtypes.Int32).Process(imagesList, labelsList)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = New(p, 32, 48).LabelsDType(dtypes.Bool).Process(imagesList, labelsList)
	assert.True(t, errors.Is(err, shapes.ErrShape))

	_, _, err = New(p, 0, 48).Process(imagesList, labelsList)
	assert.True(t, errors.Is(err, shapes.ErrShape))
}
