// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package crop extracts fixed-size windows from image/label pairs.
//
// For training, the window is placed at a random offset, drawn from the Cropper's random source.
// For evaluation, the window is centered, so results are reproducible.
// The same offset is used for the image and its label, so pixels and classes stay aligned.
package crop

import (
	"math/rand/v2"
	"time"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Cropper crops image/label pairs. Create it with New or NewWithSeed.
//
// It is not safe for concurrent use, since it owns its random source: parallel workers
// should each use their own Cropper.
type Cropper struct {
	rng *rand.Rand
}

// New creates a Cropper that draws training offsets from rng.
// If rng is nil, a new random source seeded from the clock is used.
func New(rng *rand.Rand) *Cropper {
	if rng == nil {
		rng = newRandFromSeed(uint64(time.Now().UnixNano()))
	}
	return &Cropper{rng: rng}
}

// NewWithSeed creates a Cropper with a random source initialized with the given seed: crops are
// reproducible for the same seed and the same sequence of calls.
func NewWithSeed(seed uint64) *Cropper {
	return New(newRandFromSeed(seed))
}

func newRandFromSeed(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Offsets returns the top-left corner of a `[targetHeight, targetWidth]` window in an image of
// `[height, width]`.
//
// If isTraining, the offset is drawn uniformly from `[0, height-targetHeight] x [0, width-targetWidth]`.
// Otherwise, it returns the centered offset `((height-targetHeight)/2, (width-targetWidth)/2)`.
//
// It returns an error wrapping shapes.ErrShape if the target doesn't fit the image.
func (c *Cropper) Offsets(height, width, targetHeight, targetWidth int, isTraining bool) (top, left int, err error) {
	if targetHeight <= 0 || targetWidth <= 0 {
		err = errors.Wrapf(shapes.ErrShape, "crop target [%d, %d] must be positive", targetHeight, targetWidth)
		return
	}
	if targetHeight > height || targetWidth > width {
		err = errors.Wrapf(shapes.ErrShape, "crop target [%d, %d] is larger than image [%d, %d]",
			targetHeight, targetWidth, height, width)
		return
	}
	if !isTraining {
		return (height - targetHeight) / 2, (width - targetWidth) / 2, nil
	}
	top = c.rng.IntN(height - targetHeight + 1)
	left = c.rng.IntN(width - targetWidth + 1)
	return
}

// Crop crops the image and its label to `[targetHeight, targetWidth]`, at the same offset.
//
// The image and label must have the same shape `[height, width, 3]` and the same dtype. The results keep
// the dtype of the inputs, which are not modified. Use CropAt to crop tensors with other channels.
//
// If isTraining, the offset is random, otherwise the crop is centered. See Offsets.
//
// It returns an error wrapping shapes.ErrShape if the shapes are invalid, or if the target doesn't fit.
func (c *Cropper) Crop(image, label *tensors.Tensor, targetHeight, targetWidth int, isTraining bool) (
	imageCropped, labelCropped *tensors.Tensor, err error) {
	if err = checkCroppable(image, "image"); err != nil {
		return
	}
	if err = checkCroppable(label, "label"); err != nil {
		return
	}
	imageShape, labelShape := image.Shape(), label.Shape()
	if imageShape.Dim(-1) != 3 {
		err = errors.Wrapf(shapes.ErrShape, "image %s must have 3 channels", imageShape)
		return
	}
	if !imageShape.Equal(labelShape) {
		err = errors.Wrapf(shapes.ErrShape, "image %s and label %s must have the same shape", imageShape, labelShape)
		return
	}
	top, left, err := c.Offsets(imageShape.Dim(0), imageShape.Dim(1), targetHeight, targetWidth, isTraining)
	if err != nil {
		return
	}
	imageCropped, err = CropAt(image, top, left, targetHeight, targetWidth)
	if err != nil {
		return
	}
	labelCropped, err = CropAt(label, top, left, targetHeight, targetWidth)
	if err != nil {
		imageCropped.FinalizeAll()
		imageCropped = nil
	}
	return
}

// CropAt returns a new tensor with the `[targetHeight, targetWidth]` window of t at the given offset.
// t must be shaped `[height, width, channels]`, and the result has the same channels and dtype.
func CropAt(t *tensors.Tensor, top, left, targetHeight, targetWidth int) (*tensors.Tensor, error) {
	if err := checkCroppable(t, "tensor"); err != nil {
		return nil, err
	}
	shape := t.Shape()
	height, width, channels := shape.Dim(0), shape.Dim(1), shape.Dim(2)
	if targetHeight <= 0 || targetWidth <= 0 || top < 0 || left < 0 ||
		top+targetHeight > height || left+targetWidth > width {
		return nil, errors.Wrapf(shapes.ErrShape, "crop window [%d:%d, %d:%d] doesn't fit in %s",
			top, top+targetHeight, left, left+targetWidth, shape)
	}

	cropped := tensors.FromShape(shapes.Make(shape.DType, targetHeight, targetWidth, channels))
	// Copy row by row, as bytes, so it works for any dtype.
	elementSize := int(shape.DType.Memory())
	rowBytes := targetWidth * channels * elementSize
	srcStride := width * channels * elementSize
	srcOffset := (top*width + left) * channels * elementSize
	t.ConstBytes(func(src []byte) {
		cropped.MutableBytes(func(dst []byte) {
			for row := range targetHeight {
				copy(dst[row*rowBytes:(row+1)*rowBytes], src[srcOffset+row*srcStride:])
			}
		})
	})
	return cropped, nil
}

func checkCroppable(t *tensors.Tensor, name string) error {
	if t == nil || !t.Ok() {
		return errors.Wrapf(shapes.ErrShape, "%s tensor is nil or finalized", name)
	}
	if err := shapes.CheckRank(t, 3); err != nil {
		return errors.WithMessagef(err, "%s must be shaped [height, width, channels]", name)
	}
	return nil
}
