// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package palette

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadCSV reads a palette from a CSV class dictionary, with a header and the columns
// `name,r,g,b` (in any order, case-insensitive), like CamVid's `class_dict.csv`.
// Other columns are ignored. Classes are indexed in the order of the rows.
func LoadCSV(r io.Reader) (*Palette, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DetectTypes(false))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "failed to parse palette CSV")
	}
	columns := make(map[string]string, df.Ncol())
	for _, colName := range df.Names() {
		columns[strings.ToLower(strings.TrimSpace(colName))] = colName
	}
	for _, required := range []string{"name", "r", "g", "b"} {
		if _, found := columns[required]; !found {
			return nil, errors.Wrapf(ErrPalette, "palette CSV missing column %q (columns found: %v)", required, df.Names())
		}
	}

	names := df.Col(columns["name"]).Records()
	var channels [3][]int
	for ii, colName := range []string{"r", "g", "b"} {
		values, err := df.Col(columns[colName]).Int()
		if err != nil {
			return nil, errors.Wrapf(err, "palette CSV column %q has non-integer values", colName)
		}
		channels[ii] = values
	}
	classes := make([]Class, len(names))
	for row, name := range names {
		classes[row].Name = strings.TrimSpace(name)
		for ch := range 3 {
			v := channels[ch][row]
			if v < 0 || v > 255 {
				return nil, errors.Wrapf(ErrPalette, "palette CSV row %d (%q) has channel value %d out of [0, 255]", row, name, v)
			}
			classes[row].Color[ch] = uint8(v)
		}
	}
	return New(classes...)
}

// LoadCSVFile is like LoadCSV, but reads from the given file.
func LoadCSVFile(filePath string) (*Palette, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open palette file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	p, err := LoadCSV(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading palette from %q", filePath)
	}
	klog.V(1).Infof("loaded palette with %d classes from %q", p.NumClasses(), filePath)
	return p, nil
}

// LoadLabelColors reads a palette in the format of CamVid's original `label_colors.txt`: one class
// per line, with the R, G and B values followed by the class name, separated by white spaces.
//
// If names is given, only those classes are kept, in the order they are given; otherwise all classes
// are kept in the order of the file. It returns an error if a requested name is not in the file.
func LoadLabelColors(r io.Reader, names ...string) (*Palette, error) {
	var classes []Class
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Wrapf(ErrPalette, "label colors line %d: expected \"R G B Name\", got %q", lineNum, line)
		}
		var class Class
		for ch := range 3 {
			v, err := strconv.ParseUint(fields[ch], 10, 8)
			if err != nil {
				return nil, errors.Wrapf(err, "label colors line %d: invalid channel value %q", lineNum, fields[ch])
			}
			class.Color[ch] = uint8(v)
		}
		class.Name = fields[3]
		classes = append(classes, class)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read label colors")
	}
	if len(names) == 0 {
		return New(classes...)
	}

	byName := make(map[string]Class, len(classes))
	for _, class := range classes {
		byName[class.Name] = class
	}
	selected := make([]Class, 0, len(names))
	for _, name := range names {
		class, found := byName[name]
		if !found {
			return nil, errors.Wrapf(ErrPalette, "class %q not found in label colors", name)
		}
		selected = append(selected, class)
	}
	return New(selected...)
}

// LoadLabelColorsFile is like LoadLabelColors, but reads from the given file.
func LoadLabelColorsFile(filePath string, names ...string) (*Palette, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open label colors file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	p, err := LoadLabelColors(f, names...)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading label colors from %q", filePath)
	}
	return p, nil
}
