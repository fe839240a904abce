// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// camvid_prep summarizes a local copy of the CamVid dataset and prepares batches for training.
//
// It prints the number of pairs per split and the memory used by each preprocessed batch. Optionally, it
// pre-generates one epoch of batches of a split (-pregen), saves the decoded class map of the first label of
// the split as a PNG (-decode), exports the first batch to a NumPy .npz file (-npz) or to tensor files
// (-save, read back with -inspect) and measures the preprocessing throughput (-bench).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/camvid/examples/camvid"
	"github.com/gomlx/camvid/pkg/core/tensors"
	"github.com/gomlx/camvid/pkg/core/tensors/images"
	"github.com/gomlx/camvid/pkg/core/tensors/numpy"
	"github.com/gomlx/camvid/pkg/ml/segmentation/masks"
	"github.com/gomlx/camvid/pkg/ml/segmentation/preprocess"
	"github.com/gomlx/camvid/pkg/support/fsutil"
	"github.com/gomlx/camvid/pkg/support/xslices"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDataDir = flag.String("data", "~/work/camvid", "Directory with the CamVid data: it must contain "+
		camvid.ImagesDir+" and "+camvid.LabelsDir+".")
	flagSeed      = flag.Uint64("seed", 42, "Seed used to shuffle the pairs before splitting, and for the training crops.")
	flagSplit     = flag.String("split", "train", "Split to pre-generate, decode or export: train, validation or test.")
	flagBatchSize = flag.Int("batch", 8, "Batch size.")
	flagSize      = xslices.Flag("size", []int{320, 480}, "Crop size as height,width.", strconv.Atoi)
	flagTraining  = flag.Bool("train", false, "Use random training crops, instead of centered evaluation crops.")
	flagPreGen    = flag.String("pregen", "", "If set, pre-generate one epoch of batches of -split to this file.")
	flagDecode    = flag.String("decode", "", "If set, save the decoded class map of the first label of -split "+
		"to this PNG file.")
	flagNpz     = flag.String("npz", "", "If set, export the first batch of -split to this NumPy .npz file.")
	flagSave    = flag.String("save", "", "If set, save the first batch of -split as tensors, to the files "+
		"<save>images.bin and <save>labels.bin.")
	flagInspect = flag.String("inspect", "", "If set, load a tensor saved with -save and print its shape.")
	flagBench   = flag.Int("bench", 0, "If > 0, measure the throughput of preprocessing this many batches of -split, "+
		"looping over the data if needed.")
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerRowStyle    = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	tableBorderColor  = "#705090"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(*flagSize) != 2 {
		klog.Errorf("-size must be given as height,width, got %v", *flagSize)
		os.Exit(1)
	}
	split := must.M1(camvid.SplitString(*flagSplit))
	ds := must.M1(camvid.New(*flagDataDir, *flagSeed))

	height, width := (*flagSize)[0], (*flagSize)[1]
	config := preprocess.New(ds.Palette(), height, width).
		Training(*flagTraining).
		WithSeed(*flagSeed)

	fmt.Println(summaryTable(ds, config))

	if *flagDecode != "" {
		pair := must.M1(ds.First(split))
		must.M(fsutil.CreateParentDir(*flagDecode))
		must.M(decodeLabel(ds, pair, *flagDecode))
		fmt.Printf("Decoded class map of %q saved to %q\n", pair.Name, *flagDecode)
	}
	if *flagNpz != "" || *flagSave != "" {
		loader := must.M1(camvid.NewLoader(ds, split, config, *flagBatchSize))
		imagesT, labelsT := must.M2(loader.Yield())
		if *flagNpz != "" {
			must.M(fsutil.CreateParentDir(*flagNpz))
			must.M(numpy.ToNpzFile(map[string]*tensors.Tensor{"images": imagesT, "labels": labelsT}, *flagNpz))
			fmt.Printf("First batch of %s (images %s, labels %s) exported to %q\n",
				split, imagesT.Shape(), labelsT.Shape(), *flagNpz)
		}
		if *flagSave != "" {
			for name, t := range map[string]*tensors.Tensor{"images": imagesT, "labels": labelsT} {
				filePath := *flagSave + name + ".bin"
				must.M(fsutil.CreateParentDir(filePath))
				must.M(t.Save(filePath))
				fmt.Printf("First batch of %s %s %s saved to %q\n", split, name, t.Shape(), filePath)
			}
		}
		imagesT.FinalizeAll()
		labelsT.FinalizeAll()
	}
	if *flagInspect != "" {
		t := must.M1(tensors.Load(*flagInspect))
		fmt.Printf("%q: tensor %s (%s)\n", *flagInspect, t.Shape(), humanize.Bytes(uint64(t.Memory())))
		t.FinalizeAll()
	}
	if *flagBench > 0 {
		loader := must.M1(camvid.NewLoader(ds, split, config, *flagBatchSize))
		benchmark(camvid.NewParallel(loader.Infinite(true)).Start(), *flagBench)
	}
	if *flagPreGen != "" {
		loader := must.M1(camvid.NewLoader(ds, split, config, *flagBatchSize))
		must.M(loader.PreGenerate(*flagPreGen, true))
		if info, err := os.Stat(*flagPreGen); err == nil {
			fmt.Printf("Pre-generated %d batches of %s in %q (%s)\n",
				loader.NumBatches(), split, *flagPreGen, humanize.Bytes(uint64(info.Size())))
		}
	}
}

// summaryTable lists, for each split, the number of pairs, batches and the memory of one batch.
func summaryTable(ds *camvid.Dataset, config *preprocess.Config) *lgtable.Table {
	imagesShape, labelsShape := config.Shapes(*flagBatchSize)
	batchMemory := humanize.Bytes(uint64(imagesShape.Memory() + labelsShape.Memory()))
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			if col == 0 {
				return normalStyle
			}
			return rightAlignedStyle
		}).
		Headers("Split", "Pairs", "Batches", "Memory/Batch")
	var total int
	for _, split := range camvid.SplitValues() {
		n := ds.Len(split)
		total += n
		table.Row(split.String(), humanize.Comma(int64(n)),
			humanize.Comma(int64((n+*flagBatchSize-1) / *flagBatchSize)), batchMemory)
	}
	table.Row("total", humanize.Comma(int64(total)), "", "")
	table.Row("classes", strconv.Itoa(ds.NumClasses()), "", "")
	fmt.Printf("CamVid in %q, classes: %s\n", ds.BaseDir, strings.Join(ds.Palette().Names(), ", "))
	fmt.Printf("Batch shapes: images %s, labels %s\n", imagesShape, labelsShape)
	return table
}

// benchmark yields numBatches batches from source and reports the throughput.
func benchmark(source *camvid.Parallel, numBatches int) {
	defer source.Done()
	start := time.Now()
	var numExamples int
	var memory uint64
	for range numBatches {
		imagesT, labelsT := must.M2(source.Yield())
		numExamples += imagesT.Shape().Dim(0)
		memory += uint64(imagesT.Memory() + labelsT.Memory())
		imagesT.FinalizeAll()
		labelsT.FinalizeAll()
	}
	elapsed := time.Since(start)
	fmt.Printf("Preprocessed %s examples (%s) in %s: %.1f examples/s\n",
		humanize.Comma(int64(numExamples)), humanize.Bytes(memory), elapsed.Round(time.Millisecond),
		float64(numExamples)/elapsed.Seconds())
}

// decodeLabel encodes the label of pair, takes the argmax of the mask and paints it back
// with the palette colors, saving the result to filePath.
func decodeLabel(ds *camvid.Dataset, pair camvid.Pair, filePath string) error {
	label, err := camvid.LoadImage(pair.LabelPath)
	if err != nil {
		return err
	}
	defer label.FinalizeAll()
	mask, err := masks.Encode(label, ds.Palette(), images.RGB)
	if err != nil {
		return err
	}
	defer mask.FinalizeAll()
	if unmapped := must.M1(masks.Unmapped(mask)); unmapped > 0 {
		klog.Warningf("%d pixels of label %q have colors outside of the palette", unmapped, pair.LabelPath)
	}
	indices, err := masks.ArgMax(mask)
	if err != nil {
		return err
	}
	defer indices.FinalizeAll()
	decoded, err := masks.Decode(indices, ds.Palette(), images.RGB)
	if err != nil {
		return err
	}
	defer decoded.FinalizeAll()
	return exceptions.TryCatch[error](func() {
		img := images.ToImage().Single(decoded)
		must.M(imaging.Save(img, filePath))
	})
}
