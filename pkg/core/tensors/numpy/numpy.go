// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy allows one to read/write tensors to Python's NumPy npy and npz file formats.
//
// It is used to hand preprocessed batches over to Python training code: a batch saved with
// ToNpzFile can be read with `numpy.load(path)["images"]`.
//
// Only C-order (row-major), little-endian arrays are supported.
package numpy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/camvid/pkg/core/shapes"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const npyMagic = "\x93NUMPY"

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	return FromNpyReader(file)
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrapf(err, "failed to read magic string")
	}
	if string(magic) != npyMagic {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}
	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrapf(err, "failed to read version")
	}

	var headerLen int
	switch version[0] {
	case 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes))
	case 2, 3:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v%d.0)", version[0])
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes))
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	dtypeStr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse .npy header")
	}
	if fortranOrder && len(dims) > 1 {
		return nil, errors.Errorf(".npy arrays in Fortran order are not supported")
	}
	if strings.HasPrefix(dtypeStr, ">") {
		return nil, errors.Errorf("big-endian .npy arrays (%q) are not supported", dtypeStr)
	}
	dtype, err := npyDTypeToGoMLX(dtypeStr)
	if err != nil {
		return nil, err
	}

	tensor := tensors.FromShape(shapes.Make(dtype, dims...))
	tensor.MutableBytes(func(data []byte) {
		_, err = io.ReadFull(r, data)
		if err != nil {
			err = errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", len(data))
		}
	})
	if err != nil {
		tensor.FinalizeAll()
		return nil, err
	}
	return tensor, nil
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header string, for instance
// "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 320, 480, 3), }".
func parseNpyHeader(header string) (dtype string, dims []int, fortranOrder bool, err error) {
	mDescr := reDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	dtype = mDescr[1]

	mFortran := reFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := reShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	dims = []int{}
	for _, p := range strings.Split(mShape[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" { // Trailing comma, like in (10,).
			continue
		}
		var dim int
		dim, err = strconv.Atoi(p)
		if err != nil {
			err = errors.Wrapf(err, "invalid shape value %q in header", p)
			return
		}
		dims = append(dims, dim)
	}
	return
}

var npyToDType = map[string]dtypes.DType{
	"b1": dtypes.Bool,
	"i1": dtypes.Int8,
	"u1": dtypes.Uint8,
	"i2": dtypes.Int16,
	"u2": dtypes.Uint16,
	"i4": dtypes.Int32,
	"u4": dtypes.Uint32,
	"i8": dtypes.Int64,
	"u8": dtypes.Uint64,
	"f2": dtypes.Float16,
	"f4": dtypes.Float32,
	"f8": dtypes.Float64,
}

// npyDTypeToGoMLX converts a NumPy dtype string to a dtypes.DType.
func npyDTypeToGoMLX(npyType string) (dtypes.DType, error) {
	if npyType == "?" {
		return dtypes.Bool, nil
	}
	key := strings.TrimLeft(npyType, "<>|=")
	if dtype, found := npyToDType[key]; found {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported NumPy dtype: %s", npyType)
}

// dtypeToNpy converts a dtypes.DType to a NumPy dtype string.
// It assumes little-endian ('<') for multi-byte types.
func dtypeToNpy(dtype dtypes.DType) (string, error) {
	for key, candidate := range npyToDType {
		if candidate != dtype {
			continue
		}
		if dtype.Memory() == 1 {
			return "|" + key, nil
		}
		return "<" + key, nil
	}
	return "", errors.Errorf("unsupported dtype %s for .npy (BFloat16 has no standard NumPy dtype)", dtype)
}

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy format (version 1.0).
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer) error {
	shape := tensor.Shape()
	dtype, err := dtypeToNpy(shape.DType)
	if err != nil {
		return err
	}

	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}

	// Preamble (magic, version, header length) is 10 bytes, and the total must be a multiple of 64,
	// with the header terminated by a newline.
	var headerBuf bytes.Buffer
	fmt.Fprintf(&headerBuf, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype, shapeTuple)
	for (10+headerBuf.Len()+1)%64 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')

	var preamble bytes.Buffer
	preamble.WriteString(npyMagic)
	preamble.Write([]byte{1, 0})
	_ = binary.Write(&preamble, binary.LittleEndian, uint16(headerBuf.Len()))
	if _, err := w.Write(preamble.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy preamble")
	}
	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}
	tensor.ConstBytes(func(data []byte) {
		_, err = w.Write(data)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write tensor data")
	}
	return nil
}

// ToNpyFile serializes a tensors.Tensor to a .npy file.
func ToNpyFile(tensor *tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file %q", filePath)
	}
	err = ToNpyWriter(tensor, file)
	if err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed to close .npy file %q", filePath)
}

// ToNpzFile serializes a map of tensors to a .npz file.
func ToNpzFile(tensorsMap map[string]*tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	err = ToNpzWriter(tensorsMap, file)
	if err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed to close .npz file %q", filePath)
}

// ToNpzWriter serializes a map of tensors to an io.Writer as a .npz archive.
// Entries are written in sorted order of their names.
func ToNpzWriter(tensorsMap map[string]*tensors.Tensor, w io.Writer) error {
	zipWriter := zip.NewWriter(w)
	for _, name := range slices.Sorted(maps.Keys(tensorsMap)) {
		npyName := name + ".npy"
		fileWriter, err := zipWriter.Create(npyName)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in .npz archive", npyName)
		}
		if err := ToNpyWriter(tensorsMap[name], fileWriter); err != nil {
			return errors.WithMessagef(err, "failed to write tensor %q to .npz archive", name)
		}
	}
	return errors.Wrapf(zipWriter.Close(), "failed to close zip archive")
}

// FromNpzFile reads a .npz file and returns a map of tensor names to tensors.Tensor.
func FromNpzFile(filePath string) (map[string]*tensors.Tensor, error) {
	zipReader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = zipReader.Close() }()

	results := make(map[string]*tensors.Tensor)
	for _, f := range zipReader.File {
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("invalid path in .npz archive: %q", f.Name)
		}
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within .npz", f.Name)
		}
		tensor, err := FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read tensor %q from .npz", f.Name)
		}
		results[strings.TrimSuffix(f.Name, ".npy")] = tensor
	}
	return results, nil
}
