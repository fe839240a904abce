// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.True(t, tensor.Ok())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, 2, tensor.Rank())
	require.Equal(t, dtypes.Float32, tensor.DType())
	ConstFlatData(tensor, func(flat []float32) {
		require.Len(t, flat, 6)
		for _, v := range flat {
			require.Equal(t, float32(0), v)
		}
	})
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFlatData(t *testing.T) {
	data := []uint8{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(data, 1, 2, 3)
	data[0] = 100 // Tensor owns a copy.
	require.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, CopyFlatData[uint8](tensor))

	MutableFlatData(tensor, func(flat []uint8) { flat[5] = 60 })
	require.Equal(t, uint8(60), CopyFlatData[uint8](tensor)[5])

	require.Panics(t, func() { _ = CopyFlatData[float32](tensor) })
	require.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })

	filled := FromScalarAndDimensions(int32(7), 2, 2)
	require.Equal(t, []int32{7, 7, 7, 7}, CopyFlatData[int32](filled))
}

func TestBytes(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]uint16{0x0102, 0x0304}, 2)
	tensor.ConstBytes(func(data []byte) {
		require.Len(t, data, 4)
	})
	tensor.MutableBytes(func(data []byte) {
		for ii := range data {
			data[ii] = 0
		}
	})
	require.Equal(t, []uint16{0, 0}, CopyFlatData[uint16](tensor))
}

func TestCloneEqualFinalize(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	clone := tensor.Clone()
	require.True(t, tensor.Equal(clone))
	MutableFlatData(clone, func(flat []float64) { flat[0] = -1 })
	require.False(t, tensor.Equal(clone))
	require.False(t, tensor.Equal(FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 4)))
	assert.Contains(t, tensor.String(), "(Float64)[2 2]")

	clone.FinalizeAll()
	require.False(t, clone.Ok())
	require.Panics(t, func() { clone.AssertValid() })
	assert.Contains(t, clone.String(), "finalized")
}

func TestSerialization(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5, 6}, 3, 2)
	buf := &bytes.Buffer{}
	require.NoError(t, tensor.GobSerialize(gob.NewEncoder(buf)))
	loaded, err := GobDeserialize(gob.NewDecoder(buf))
	require.NoError(t, err)
	require.True(t, tensor.Equal(loaded))

	filePath := filepath.Join(t.TempDir(), "mask.tensor")
	mask := FromScalarAndDimensions(uint8(1), 32, 48, 12)
	require.NoError(t, mask.Save(filePath))
	loaded = must.M1(Load(filePath))
	require.True(t, mask.Equal(loaded))

	_, err = Load(filepath.Join(t.TempDir(), "missing.tensor"))
	require.Error(t, err)
}
