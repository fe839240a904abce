// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package preprocess assembles batches for segmentation training from image/label pairs.
//
// Each pair is cropped to the target size (the same window for the image and its label), the image
// is normalized from [0, 255] to [-1, 1] and the label is encoded to a one-hot mask. The results are
// stacked in the order of the inputs.
//
// Example:
//
//	cfg := preprocess.New(palette.CamVid(), 320, 480).Training(true).WithSeed(42)
//	images, labels, err := cfg.Process(imagesList, labelsList)
//	// images: (Float32)[B 320 480 3], labels: (Float32)[B 320 480 12]
package preprocess

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/camvid/internal/workerspool"
	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/ml/segmentation/crop"
	"github.com/gomlx/camvid/pkg/ml/segmentation/masks"
	"github.com/gomlx/camvid/pkg/ml/segmentation/palette"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Config holds the configuration of the preprocessing. Create it with New, and then use the
// configuration methods, which can be cascaded.
//
// Once configured, Process can be called concurrently.
type Config struct {
	palette       *palette.Palette
	height, width int
	isTraining    bool
	order         images.ChannelOrder
	imagesDType   dtypes.DType
	labelsDType   dtypes.DType
	pool          *workerspool.Pool

	muRng sync.Mutex
	rng   *rand.Rand
}

// New creates a preprocessing configuration for the given palette and crop size.
//
// The defaults are: evaluation mode (centered crops), RGB inputs, Float32 images and labels,
// and parallelism equal to the number of cores.
func New(p *palette.Palette, height, width int) *Config {
	return &Config{
		palette:     p,
		height:      height,
		width:       width,
		order:       images.RGB,
		imagesDType: dtypes.Float32,
		labelsDType: dtypes.Float32,
		pool:        workerspool.New(),
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Training sets whether crops are taken at random offsets (training) or centered (evaluation).
func (c *Config) Training(isTraining bool) *Config {
	c.isTraining = isTraining
	return c
}

// ChannelOrder sets the channel order of the input images and labels. Images are kept in this order,
// and labels are converted to RGB before matching the palette colors.
func (c *Config) ChannelOrder(order images.ChannelOrder) *Config {
	c.order = order
	return c
}

// ImagesDType sets the dtype of the normalized images tensor: Float32 (default), Float64, Float16 or BFloat16.
func (c *Config) ImagesDType(dtype dtypes.DType) *Config {
	c.imagesDType = dtype
	return c
}

// LabelsDType sets the dtype of the one-hot labels tensor: Float32 (default), Float64, Float16, BFloat16,
// Uint8, Int32 or Int64.
func (c *Config) LabelsDType(dtype dtypes.DType) *Config {
	c.labelsDType = dtype
	return c
}

// WithRand sets the random source used to draw the training crops.
// The Config takes ownership of rng: it should not be used elsewhere.
func (c *Config) WithRand(rng *rand.Rand) *Config {
	c.muRng.Lock()
	defer c.muRng.Unlock()
	c.rng = rng
	return c
}

// WithSeed is a shortcut to WithRand with a new random source initialized with seed.
func (c *Config) WithSeed(seed uint64) *Config {
	return c.WithRand(rand.New(rand.NewPCG(seed, seed)))
}

// Parallelism sets the maximum number of pairs processed in parallel.
// 0 processes them sequentially, and -1 doesn't limit parallelism.
//
// Results don't depend on the parallelism: each pair gets its own random source, drawn in order
// from the Config's random source.
func (c *Config) Parallelism(n int) *Config {
	c.pool.SetMaxParallelism(n)
	return c
}

// Palette used to encode the labels.
func (c *Config) Palette() *palette.Palette { return c.palette }

// NumClasses is a shortcut to Palette().NumClasses().
func (c *Config) NumClasses() int { return c.palette.NumClasses() }

// Size returns the target height and width of the crops.
func (c *Config) Size() (height, width int) { return c.height, c.width }

// IsTraining returns whether crops are taken at random offsets.
func (c *Config) IsTraining() bool { return c.isTraining }

// Shapes returns the shapes of the images and labels tensors generated for a batch of the given size.
func (c *Config) Shapes(batchSize int) (imagesShape, labelsShape shapes.Shape) {
	imagesShape = shapes.Make(c.imagesDType, batchSize, c.height, c.width, 3)
	labelsShape = shapes.Make(c.labelsDType, batchSize, c.height, c.width, c.palette.NumClasses())
	return
}

// Process crops, normalizes and encodes the image/label pairs, and returns them stacked:
// images shaped `[B, height, width, 3]` with values in [-1, 1], and labels shaped `[B, height, width, numClasses]`
// with values in {0, 1}. The index of a pair in the output is the same as in the input.
//
// images and labels must be Uint8 tensors shaped `[H, W, 3]`, each label with the same H and W as its image,
// and at least as large as the target size. Different pairs may have different sizes.
// Otherwise, an error wrapping shapes.ErrShape is returned. The inputs are not modified.
func (c *Config) Process(imagesList, labelsList []*tensors.Tensor) (imagesT, labelsT *tensors.Tensor, err error) {
	batchSize := len(imagesList)
	if batchSize == 0 {
		err = errors.Wrapf(shapes.ErrShape, "preprocess: empty batch")
		return
	}
	if len(labelsList) != batchSize {
		err = errors.Wrapf(shapes.ErrShape, "preprocess: %d images but %d labels", batchSize, len(labelsList))
		return
	}
	if c.height <= 0 || c.width <= 0 {
		err = errors.Wrapf(shapes.ErrShape, "preprocess: invalid target size [%d, %d]", c.height, c.width)
		return
	}
	for ii := range batchSize {
		if err = c.checkPair(imagesList[ii], labelsList[ii]); err != nil {
			err = errors.WithMessagef(err, "preprocess: pair #%d", ii)
			return
		}
	}
	if !isSupportedImagesDType(c.imagesDType) {
		err = errors.Wrapf(shapes.ErrShape, "preprocess: images dtype %s not supported", c.imagesDType)
		return
	}

	// Draw the seeds in order, so results don't depend on the order pairs are processed.
	seeds := make([]uint64, batchSize)
	if c.isTraining {
		c.muRng.Lock()
		for ii := range seeds {
			seeds[ii] = c.rng.Uint64()
		}
		c.muRng.Unlock()
	}

	imagesShape, labelsShape := c.Shapes(batchSize)
	imagesT = tensors.FromShape(imagesShape)
	labelsT = tensors.FromShape(labelsShape)
	encoder := masks.NewEncoder(c.palette).ChannelOrder(c.order).DType(c.labelsDType)
	imageSize := c.height * c.width * 3
	labelBytes := int(labelsShape.Memory()) / batchSize
	errs := make([]error, batchSize)
	imagesT.MutableFlatData(func(imagesFlat any) {
		labelsT.MutableBytes(func(labelsData []byte) {
			c.pool.ForEach(batchSize, func(ii int) {
				var pairErr error
				exception := exceptions.TryCatch[error](func() {
					pairErr = c.processPair(crop.NewWithSeed(seeds[ii]), encoder, imagesList[ii], labelsList[ii],
						imagesFlat, ii*imageSize, labelsData[ii*labelBytes:(ii+1)*labelBytes])
				})
				if exception != nil {
					pairErr = exception
				}
				if pairErr != nil {
					errs[ii] = errors.WithMessagef(pairErr, "preprocess: pair #%d", ii)
				}
			})
		})
	})
	for _, pairErr := range errs {
		if pairErr != nil {
			imagesT.FinalizeAll()
			labelsT.FinalizeAll()
			return nil, nil, pairErr
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("preprocess: batch of %d pairs (max parallelism %d): images %s, labels %s (%s)",
			batchSize, c.pool.MaxParallelism(), imagesShape, labelsShape,
			humanize.Bytes(uint64(imagesShape.Memory()+labelsShape.Memory())))
	}
	return imagesT, labelsT, nil
}

func (c *Config) checkPair(image, label *tensors.Tensor) error {
	for _, t := range []*tensors.Tensor{image, label} {
		if t == nil || !t.Ok() {
			return errors.Wrapf(shapes.ErrShape, "image or label is nil or finalized")
		}
		if err := t.Shape().Check(dtypes.Uint8, shapes.UncheckedAxis, shapes.UncheckedAxis, 3); err != nil {
			return errors.WithMessagef(err, "images and labels must be Uint8 tensors shaped [height, width, 3]")
		}
	}
	if !image.Shape().Equal(label.Shape()) {
		return errors.Wrapf(shapes.ErrShape, "image %s and label %s have different shapes", image.Shape(), label.Shape())
	}
	if image.Shape().Dim(0) < c.height || image.Shape().Dim(1) < c.width {
		return errors.Wrapf(shapes.ErrShape, "image %s is smaller than the target size [%d, %d]",
			image.Shape(), c.height, c.width)
	}
	return nil
}

// processPair crops the pair, normalizes the image into imagesFlat at imageOffset, and encodes the
// label into labelData.
func (c *Config) processPair(cropper *crop.Cropper, encoder *masks.Encoder, image, label *tensors.Tensor,
	imagesFlat any, imageOffset int, labelData []byte) error {
	imageCropped, labelCropped, err := cropper.Crop(image, label, c.height, c.width, c.isTraining)
	if err != nil {
		return err
	}
	defer imageCropped.FinalizeAll()
	defer labelCropped.FinalizeAll()

	tensors.ConstFlatData(imageCropped, func(src []uint8) {
		switch dst := imagesFlat.(type) {
		case []float32:
			normalizeInto(dst[imageOffset:], src, func(v float64) float32 { return float32(v) })
		case []float64:
			normalizeInto(dst[imageOffset:], src, func(v float64) float64 { return v })
		case []float16.Float16:
			normalizeInto(dst[imageOffset:], src, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) })
		case []bfloat16.BFloat16:
			normalizeInto(dst[imageOffset:], src, func(v float64) bfloat16.BFloat16 { return bfloat16.FromFloat32(float32(v)) })
		default:
			exceptions.Panicf("preprocess: images dtype %s not supported", c.imagesDType)
		}
	})

	mask, err := encoder.Encode(labelCropped)
	if err != nil {
		return err
	}
	defer mask.FinalizeAll()
	mask.ConstBytes(func(maskData []byte) {
		if len(maskData) != len(labelData) {
			exceptions.Panicf("preprocess: encoded mask %s has %d bytes, expected %d", mask.Shape(),
				len(maskData), len(labelData))
		}
		copy(labelData, maskData)
	})
	return nil
}

func isSupportedImagesDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16, dtypes.BFloat16:
		return true
	}
	return false
}

func normalizeInto[T float32 | float64 | float16.Float16 | bfloat16.BFloat16](dst []T, src []uint8,
	convert func(v float64) T) {
	for ii, v := range src {
		dst[ii] = convert(Normalize(v))
	}
}

// Normalize maps a pixel value from [0, 255] to [-1, 1]: `v/127.5 - 1`.
func Normalize(v uint8) float64 {
	return float64(v)/127.5 - 1.0
}

// Denormalize is the inverse of Normalize: it maps a value from [-1, 1] to [0, 255], rounding to the
// nearest integer and clipping values out of range.
func Denormalize(v float64) uint8 {
	p := math.Round((v + 1.0) * 127.5)
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	if p >= 255 {
		return 255
	}
	return uint8(p)
}

// Batch is a shortcut to process one batch with a new configuration: crops are taken at random offsets if
// isTraining, and centered otherwise. Images and labels are returned as Float32.
//
// See Config.Process for details.
func Batch(imagesList, labelsList []*tensors.Tensor, p *palette.Palette, height, width int, isTraining bool) (
	imagesT, labelsT *tensors.Tensor, err error) {
	return New(p, height, width).Training(isTraining).Process(imagesList, labelsList)
}
