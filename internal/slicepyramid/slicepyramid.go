// Package slicepyramid builds a mip-mapped 2D distance-to-isosurface
// pyramid for one Z slice, doing the bulk of the exact SDF evaluation
// at coarse resolution and refining only pixels near the iso contour,
// then seeds and propagates a Jump-Flood-Algorithm image to recover
// per-pixel distance to the nearest contour point.
//
// The mip-chain shape (four levels at 1/4, 1/3, 1/2 and full
// resolution, coarse-to-fine refinement driven by a branch flag) generalizes the teacher's GPU-resident Hi-Z
// depth pyramid (rt/gpu/manager_hiz.go) from occlusion depth to signed
// distance; JFA itself has no analogue in the teacher and is built
// directly from the stated algorithm.
package slicepyramid

import (
	"math"

	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
)

// Evaluator samples the model kernel's signed distance at a world-space
// XY point (Z is fixed by the caller for the whole build).
type Evaluator func(p geom.Vec2) float32

const verticesPerMM = 40

// Params configures a pyramid build, per spec.md §4.3.
type Params struct {
	ClipMin, ClipMax geom.Vec2
	SuperSample      float32 // default 1
	Iso              float32
	GridCellSize     float32
	BandLower, BandUpper float32 // JFA seeding band, relative to Iso
}

// Level is one mip level of the pyramid: coarsest is index 0, finest is
// the last index.
type Level struct {
	Width, Height int
	PixelSize     geom.Vec2
	Distance      []float32 // row-major, len = Width*Height
	Branch        []bool
}

func (l *Level) at(x, y int) int { return y*l.Width + x }

// Pyramid is the full output of Build: every mip level, the finest
// level's marching-squares corner codes, and the JFA-derived distance
// map (post min-union with the previous layer's negated distance, if
// supplied).
type Pyramid struct {
	Levels                []Level
	MarchingSquaresStates []uint8 // one 4-bit code per cell of the finest level, row-major over (Width-1)x(Height-1) cells
	JFADistance           []float32
	FinestWidth, FinestHeight int
}

// Finest returns the pyramid's highest-resolution level.
func (p *Pyramid) Finest() *Level { return &p.Levels[len(p.Levels)-1] }

// Build runs the full five-step algorithm of spec.md §4.3. previousLayerDistance,
// if non-nil, must be the finest distance map of the previous Z layer at the
// same resolution; it is unioned (min, negated) into the JFA distance per
// step 5's overhang-preservation rule.
func Build(eval Evaluator, params Params, previousLayerDistance []float32) (*Pyramid, error) {
	size := params.ClipMax.Sub(params.ClipMin)
	if size.X() <= 0 || size.Y() <= 0 {
		return nil, cerrors.New(cerrors.KindInvalidModel, "slicepyramid.Build", errInvalidClippingArea)
	}
	superSample := params.SuperSample
	if superSample <= 0 {
		superSample = 1
	}

	levelDivisors := []int{4, 3, 2, 1} // coarsest first
	levels := make([]Level, len(levelDivisors))
	for i, div := range levelDivisors {
		w := pixelsForAxis(size.X(), div, superSample)
		h := pixelsForAxis(size.Y(), div, superSample)
		levels[i] = Level{
			Width:  w,
			Height: h,
			PixelSize: geom.Vec2{size.X() / float32(w), size.Y() / float32(h)},
			Distance: make([]float32, w*h),
			Branch:   make([]bool, w*h),
		}
	}

	// Step 2: coarsest level, every pixel exact.
	evalLevelExact(&levels[0], eval, params)

	// Step 3: each finer level refines from its immediate coarser parent.
	for i := 1; i < len(levels); i++ {
		refineLevel(&levels[i], &levels[i-1], eval, params)
	}

	finest := &levels[len(levels)-1]

	// Step 4: marching-squares corner codes over the finest level's cells.
	msStates := marchingSquaresStates(finest, params.Iso)

	// Step 5: JFA seed + propagate.
	jfa := seedJFA(finest, params)
	propagateJFA(jfa, finest.Width, finest.Height)
	jfaDist := jfaToDistance(jfa, finest)

	if previousLayerDistance != nil && len(previousLayerDistance) == len(jfaDist) {
		for i := range jfaDist {
			neg := -previousLayerDistance[i]
			if neg < jfaDist[i] {
				jfaDist[i] = neg
			}
		}
	}

	return &Pyramid{
		Levels:                levels,
		MarchingSquaresStates: msStates,
		JFADistance:           jfaDist,
		FinestWidth:           finest.Width,
		FinestHeight:          finest.Height,
	}, nil
}

func pixelsForAxis(axisSize float32, divisor int, superSample float32) int {
	n := int(math.Ceil(float64(axisSize * verticesPerMM * superSample / float32(divisor))))
	if n < 2 {
		n = 2
	}
	return n
}

func branchThreshold(iso float32, pixelSize, gridCellSize float32) float32 {
	ps := pixelSize
	if gridCellSize > ps {
		ps = gridCellSize
	}
	absIso := iso
	if absIso < 0 {
		absIso = -absIso
	}
	return absIso + 2*ps
}

func pixelCenter(l *Level, x, y int, params Params) geom.Vec2 {
	return geom.Vec2{
		params.ClipMin.X() + (float32(x)+0.5)*l.PixelSize.X(),
		params.ClipMin.Y() + (float32(y)+0.5)*l.PixelSize.Y(),
	}
}

func evalLevelExact(l *Level, eval Evaluator, params Params) {
	maxPixel := l.PixelSize.X()
	if l.PixelSize.Y() > maxPixel {
		maxPixel = l.PixelSize.Y()
	}
	thr := branchThreshold(params.Iso, maxPixel, params.GridCellSize)
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			d := eval(pixelCenter(l, x, y, params))
			idx := l.at(x, y)
			l.Distance[idx] = d
			l.Branch[idx] = absf(d-params.Iso) <= thr
		}
	}
}

// refineLevel implements step 3: for each pixel of level `fine`, sample
// the (up to) four covering pixels of `coarse`; if any is a branch
// pixel, re-evaluate exactly, otherwise bilinearly interpolate.
func refineLevel(fine, coarse *Level, eval Evaluator, params Params) {
	maxPixel := fine.PixelSize.X()
	if fine.PixelSize.Y() > maxPixel {
		maxPixel = fine.PixelSize.Y()
	}
	thr := branchThreshold(params.Iso, maxPixel, params.GridCellSize)

	sx := float32(coarse.Width) / float32(fine.Width)
	sy := float32(coarse.Height) / float32(fine.Height)

	for y := 0; y < fine.Height; y++ {
		for x := 0; x < fine.Width; x++ {
			cx := (float32(x) + 0.5) * sx
			cy := (float32(y) + 0.5) * sy
			x0 := clampInt(int(math.Floor(float64(cx-0.5))), 0, coarse.Width-1)
			y0 := clampInt(int(math.Floor(float64(cy-0.5))), 0, coarse.Height-1)
			x1 := clampInt(x0+1, 0, coarse.Width-1)
			y1 := clampInt(y0+1, 0, coarse.Height-1)

			d00 := coarse.Distance[coarse.at(x0, y0)]
			d10 := coarse.Distance[coarse.at(x1, y0)]
			d01 := coarse.Distance[coarse.at(x0, y1)]
			d11 := coarse.Distance[coarse.at(x1, y1)]
			anyBranch := coarse.Branch[coarse.at(x0, y0)] || coarse.Branch[coarse.at(x1, y0)] ||
				coarse.Branch[coarse.at(x0, y1)] || coarse.Branch[coarse.at(x1, y1)]

			idx := fine.at(x, y)
			if anyBranch {
				d := eval(pixelCenter(fine, x, y, params))
				fine.Distance[idx] = d
				fine.Branch[idx] = absf(d-params.Iso) <= thr
				continue
			}

			fx := cx - 0.5 - float32(x0)
			fy := cy - 0.5 - float32(y0)
			fx = clampf(fx, 0, 1)
			fy = clampf(fy, 0, 1)
			top := d00 + (d10-d00)*fx
			bottom := d01 + (d11-d01)*fx
			d := top + (bottom-top)*fy
			fine.Distance[idx] = d
			fine.Branch[idx] = false
		}
	}
}

// marchingSquaresStates forms, for each 2x2 cell of the finest level, a
// 4-bit corner sign code against the iso value.
func marchingSquaresStates(l *Level, iso float32) []uint8 {
	if l.Width < 2 || l.Height < 2 {
		return nil
	}
	cw, ch := l.Width-1, l.Height-1
	states := make([]uint8, cw*ch)
	sign := func(v float32) uint8 {
		if v >= iso {
			return 1
		}
		return 0
	}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			c0 := sign(l.Distance[l.at(x, y)])
			c1 := sign(l.Distance[l.at(x+1, y)])
			c2 := sign(l.Distance[l.at(x+1, y+1)])
			c3 := sign(l.Distance[l.at(x, y+1)])
			states[y*cw+x] = c0 | c1<<1 | c2<<2 | c3<<3
		}
	}
	return states
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var errInvalidClippingArea = clipAreaErr{}

type clipAreaErr struct{}

func (clipAreaErr) Error() string { return "clipping area is empty or degenerate" }
