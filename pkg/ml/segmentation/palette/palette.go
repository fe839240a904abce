// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package palette maps segmentation classes to the RGB colors used to paint them in label images.
//
// A Palette is an ordered list of classes: the position of a class in the list is its class index,
// used as the channel of one-hot masks and as the value of class-index maps.
//
// Example:
//
//	p := palette.CamVid()
//	idx, found := p.Index(palette.Color{128, 64, 128}) // 6 ("Road"), true
//	c, err := p.Color(11)                              // {0, 0, 0} ("Void")
package palette

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrPalette is wrapped by errors caused by an invalid palette: empty, or with repeated colors or names.
var ErrPalette = errors.New("invalid palette")

// Color is an RGB color, always in R, G, B order.
type Color [3]uint8

// String implements fmt.Stringer.
func (c Color) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// ColorFromRGBA converts any color.Color to a Color, dropping the alpha channel.
// Colors are converted to non-premultiplied values first.
func ColorFromRGBA(c color.Color) Color {
	nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	return Color{nrgba.R, nrgba.G, nrgba.B}
}

// Class is one entry of a Palette.
type Class struct {
	Name  string
	Color Color
}

// Palette is an immutable ordered list of classes, with a lookup from color to class index.
type Palette struct {
	classes []Class
	indices map[Color]int
}

// New creates a Palette from the given classes, in order.
//
// It returns an error wrapping ErrPalette if the list is empty, if a name is empty or
// if two classes share the same color or name.
func New(classes ...Class) (*Palette, error) {
	if len(classes) == 0 {
		return nil, errors.Wrap(ErrPalette, "palette has no classes")
	}
	p := &Palette{
		classes: make([]Class, len(classes)),
		indices: make(map[Color]int, len(classes)),
	}
	copy(p.classes, classes)
	names := make(map[string]int, len(classes))
	for idx, class := range p.classes {
		if class.Name == "" {
			return nil, errors.Wrapf(ErrPalette, "class #%d has an empty name", idx)
		}
		if prevIdx, found := names[class.Name]; found {
			return nil, errors.Wrapf(ErrPalette, "class name %q used by classes #%d and #%d", class.Name, prevIdx, idx)
		}
		names[class.Name] = idx
		if prevIdx, found := p.indices[class.Color]; found {
			return nil, errors.Wrapf(ErrPalette, "color %s used by classes %q (#%d) and %q (#%d)",
				class.Color, p.classes[prevIdx].Name, prevIdx, class.Name, idx)
		}
		p.indices[class.Color] = idx
	}
	return p, nil
}

// MustNew is like New, but panics on error.
func MustNew(classes ...Class) *Palette {
	p, err := New(classes...)
	if err != nil {
		exceptions.Panicf("palette.MustNew failed: %+v", err)
	}
	return p
}

// NumClasses returns the number of classes, the N of the one-hot masks.
func (p *Palette) NumClasses() int { return len(p.classes) }

// Index returns the class index of the given color.
// Colors not in the palette return (-1, false): they are not an error, label images often
// have anti-aliased pixels at the boundaries of objects.
func (p *Palette) Index(c Color) (int, bool) {
	idx, found := p.indices[c]
	if !found {
		return -1, false
	}
	return idx, true
}

// Color returns the color of the class with the given index.
func (p *Palette) Color(idx int) (Color, error) {
	if idx < 0 || idx >= len(p.classes) {
		return Color{}, errors.Errorf("class index %d out of range for palette with %d classes", idx, len(p.classes))
	}
	return p.classes[idx].Color, nil
}

// Name returns the name of the class with the given index, or an empty string if out of range.
func (p *Palette) Name(idx int) string {
	if idx < 0 || idx >= len(p.classes) {
		return ""
	}
	return p.classes[idx].Name
}

// Names returns the class names, in class index order.
func (p *Palette) Names() []string {
	names := make([]string, len(p.classes))
	for ii, class := range p.classes {
		names[ii] = class.Name
	}
	return names
}

// Colors returns the class colors, in class index order.
func (p *Palette) Colors() []Color {
	colors := make([]Color, len(p.classes))
	for ii, class := range p.classes {
		colors[ii] = class.Color
	}
	return colors
}

// Classes returns a copy of the list of classes.
func (p *Palette) Classes() []Class {
	classes := make([]Class, len(p.classes))
	copy(classes, p.classes)
	return classes
}

// String implements fmt.Stringer.
func (p *Palette) String() string {
	parts := make([]string, len(p.classes))
	for ii, class := range p.classes {
		parts[ii] = fmt.Sprintf("#%d %s%s", ii, class.Name, class.Color)
	}
	return fmt.Sprintf("Palette{%s}", strings.Join(parts, ", "))
}
