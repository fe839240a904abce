// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/gob"
	"os"
	"reflect"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// GobSerialize Tensor in binary format.
//
// It returns an error for I/O errors.
// It panics for invalid tensors.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	err = encoder.Encode(t.flat)
	if err != nil {
		err = errors.Wrapf(err, "failed to write tensor %s data", t.shape)
	}
	return
}

// GobDeserialize a Tensor from the reader.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		err = errors.WithMessagef(err, "failed to deserialize Tensor shape data")
		return
	}
	if !shape.Ok() {
		err = errors.Errorf("deserialized invalid Tensor shape %s", shape)
		return
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		err = errors.Wrapf(err, "failed to deserialize Tensor data")
		return
	}
	if flatPtrV.Elem().Len() != shape.Size() {
		err = errors.Errorf("deserialized Tensor data has %d elements, but shape %s requires %d",
			flatPtrV.Elem().Len(), shape, shape.Size())
		return
	}
	// Build new tensor from scratch, using the data returned by the decoder (to avoid a copy).
	t = newTensor(shape)
	t.flat = flatPtrV.Elem().Interface()
	return
}

// Save the tensor to the given file path, gob encoded and zstd compressed.
// One-hot masks and 8-bit images compress very well.
//
// It returns an error for I/O errors.
// It may panic if the tensor is invalid (`nil` or already finalized).
func (t *Tensor) Save(filePath string) (err error) {
	t.AssertValid()
	var f *os.File
	f, err = os.Create(filePath)
	if err != nil {
		err = errors.Wrapf(err, "creating %q to save tensor", filePath)
		return
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "creating compressor for %q", filePath)
	}
	err = t.GobSerialize(gob.NewEncoder(zw))
	if err != nil {
		_ = zw.Close()
		_ = f.Close()
		err = errors.WithMessagef(err, "saving Tensor to %q", filePath)
		return
	}
	err = zw.Close()
	if err != nil {
		_ = f.Close()
		err = errors.Wrapf(err, "flushing compressed tensor to %q", filePath)
		return
	}
	err = f.Close()
	if err != nil {
		err = errors.Wrapf(err, "close file %q, where tensor was saved", filePath)
		return
	}
	return
}

// Load a tensor from the file path given, saved with Tensor.Save.
func Load(filePath string) (t *Tensor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		err = errors.Wrapf(err, "opening %q to load Tensor", filePath)
		return
	}
	defer func() { _ = f.Close() }()
	zr, err := zstd.NewReader(f)
	if err != nil {
		err = errors.Wrapf(err, "creating decompressor for %q", filePath)
		return
	}
	defer zr.Close()
	t, err = GobDeserialize(gob.NewDecoder(zr))
	if err != nil {
		err = errors.WithMessagef(err, "loading Tensor from %q", filePath)
		return
	}
	return
}
