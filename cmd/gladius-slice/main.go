// Command gladius-slice is the headless contour writer: it loads a
// beam-lattice scene description, discovers its bounding box, slices
// it layer by layer, and writes the result in the CLI 1.x ASCII
// format.
//
// Modeled on the teacher's single-purpose rt_main.go entry point
// (flag.Parse, then a single linear sequence of setup calls) rather
// than the interactive app's event loop, since slicing has no frame
// loop to drive.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gladius-go/slicer/internal/bbox"
	"github.com/gladius-go/slicer/internal/clog"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/scene"
	"github.com/gladius-go/slicer/internal/slicer"
	"github.com/gladius-go/slicer/internal/slicepyramid"
)

func main() {
	scenePath := flag.String("scene", "", "path to a scene JSON document (beams/balls)")
	outPath := flag.String("out", "", "output CLI file path (default: stdout)")
	layerHeight := flag.Float64("layer-height", 0.2, "slice layer height in model units")
	units := flag.Float64("units", 1.0, "CLI output units scale factor")
	gridCellSize := flag.Float64("grid-cell-size", 0.5, "slice pyramid coarsest grid cell size")
	superSample := flag.Float64("supersample", 0.25, "slice pyramid finest cell size, as a fraction of grid-cell-size")
	margin := flag.Float64("margin", 1.0, "clip-plane margin added around the discovered bounding box")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		clog.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *scenePath == "" {
		fmt.Fprintln(os.Stderr, "gladius-slice: -scene is required")
		os.Exit(2)
	}

	if err := run(*scenePath, *outPath, float32(*layerHeight), float32(*units), float32(*gridCellSize), float32(*superSample), float32(*margin)); err != nil {
		fmt.Fprintf(os.Stderr, "gladius-slice: %v\n", err)
		os.Exit(1)
	}
}

func run(scenePath, outPath string, layerHeight, units, gridCellSize, superSample, margin float32) error {
	f, err := os.Open(scenePath)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := scene.Decode(f)
	if err != nil {
		return err
	}

	eval := doc.Evaluator()
	discovery := bbox.Discover(eval)
	if discovery.PartialBoundingBox {
		clog.L().Warn("bounding box discovery failed on some faces", "faces", discovery.FailedFaces)
	}
	box := discovery.Box.Expand(margin)

	out := os.Stdout
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	params := slicepyramid.Params{
		ClipMin:      geom.Vec2{box.Min.X(), box.Min.Y()},
		ClipMax:      geom.Vec2{box.Max.X(), box.Max.Y()},
		GridCellSize: gridCellSize,
		SuperSample:  superSample,
		Iso:          0,
	}

	mp := slicer.ModelParams{
		Eval3:         eval,
		MinZ:          box.Min.Z(),
		MaxZ:          box.Max.Z(),
		LayerHeight:   layerHeight,
		ModelID:       1,
		PyramidParams: params,
	}

	clog.L().Info("slicing model", "minZ", mp.MinZ, "maxZ", mp.MaxZ, "layerHeight", layerHeight)
	return slicer.SliceModel(out, mp, units)
}
