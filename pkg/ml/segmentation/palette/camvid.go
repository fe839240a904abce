// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package palette

// CamVidClasses is the 12 classes subset of CamVid commonly used for training, in class index order.
//
// The full dataset labels 32 classes, see LoadLabelColors to read them all.
var CamVidClasses = []Class{
	{"Bicyclist", Color{0, 128, 192}},
	{"Building", Color{128, 0, 0}},
	{"Car", Color{64, 0, 128}},
	{"Column_Pole", Color{192, 192, 128}},
	{"Fence", Color{64, 64, 128}},
	{"Pedestrian", Color{64, 64, 0}},
	{"Road", Color{128, 64, 128}},
	{"Sidewalk", Color{0, 0, 192}},
	{"SignSymbol", Color{192, 128, 128}},
	{"Sky", Color{128, 128, 128}},
	{"Tree", Color{128, 128, 0}},
	{"Void", Color{0, 0, 0}},
}

// CamVid returns the 12 classes CamVid palette: "Bicyclist" is class 0 and "Void" is class 11.
func CamVid() *Palette {
	return MustNew(CamVidClasses...)
}
