// Package precompsdf builds the low-resolution precomputed SDF volume
// spec.md §4.4 describes — a conservative cube grid of distance
// magnitudes over the build volume, sampled by the raymarcher as a
// cheap lower bound instead of evaluating the full model kernel at
// every step.
//
// Grounded on voxelrt/rt/gpu/manager_hiz.go's mip setup/dispatch/
// readback shape (a fixed-resolution grid filled by sampling a source
// function once, then consumed by trilinear-ish lookups during
// traversal), generalized from a 2D occlusion mip to a 3D signed-
// distance cube.
package precompsdf

import (
	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
)

// Evaluator is the model kernel sampled in fullModel mode to fill the
// grid, per spec.md §4.4's algorithm.
type Evaluator func(p geom.Vec3) float32

// DefaultResolution and MaxResolution are the two supported cube sizes
// spec.md §4.4 names (128³ default, optionally 256³).
const (
	DefaultResolution = 128
	MaxResolution     = 256
)

// Volume is the precomputed grid plus the bounding box every sampled
// point falls within, tracked separately so the raymarcher can fall
// back to direct evaluation outside it.
type Volume struct {
	BBox       geom.Box
	Resolution int
	Data       []float32 // Resolution^3 scalars, x-fastest, then y, then z
	Enabled    bool
}

// NewDummy returns the single-voxel placeholder volume kept when the
// feature is disabled, so callers can keep a uniform kernel signature
// (a Sample against it always falls through to the fallback value).
func NewDummy() *Volume {
	return &Volume{
		BBox:       geom.Box{Min: geom.Vec3{}, Max: geom.Vec3{}},
		Resolution: 1,
		Data:       []float32{0},
		Enabled:    false,
	}
}

var errDegenerateResolution = degenerateResolutionErr{}

type degenerateResolutionErr struct{}

func (degenerateResolutionErr) Error() string { return "precompsdf: resolution must be positive" }

// Precompute evaluates eval at every voxel center of a `resolution`-wide
// cube covering bbox and stores the result. The grid is always a cube:
// bbox is expanded uniformly to its largest extent before sampling so
// `BBox` (the invariant spec.md §4.4 names) encloses every sampled
// point.
func Precompute(eval Evaluator, bbox geom.Box, resolution int) (*Volume, error) {
	if resolution <= 0 {
		return nil, cerrors.New(cerrors.KindInvalidModel, "precompsdf.Precompute", errDegenerateResolution)
	}
	cube := cubify(bbox)
	v := &Volume{BBox: cube, Resolution: resolution, Data: make([]float32, resolution*resolution*resolution), Enabled: true}

	size := cube.Max.Sub(cube.Min)
	stepX := size.X() / float32(resolution)
	stepY := size.Y() / float32(resolution)
	stepZ := size.Z() / float32(resolution)
	for z := 0; z < resolution; z++ {
		wz := cube.Min.Z() + (float32(z)+0.5)*stepZ
		for y := 0; y < resolution; y++ {
			wy := cube.Min.Y() + (float32(y)+0.5)*stepY
			base := (z*resolution + y) * resolution
			for x := 0; x < resolution; x++ {
				wx := cube.Min.X() + (float32(x)+0.5)*stepX
				v.Data[base+x] = eval(geom.Vec3{wx, wy, wz})
			}
		}
	}
	return v, nil
}

// cubify expands bbox to a cube sharing its center, sized to the
// largest of its three extents, so the grid is always cube-shaped per
// spec.md §4.4's invariant.
func cubify(b geom.Box) geom.Box {
	size := b.Max.Sub(b.Min)
	extent := size.X()
	if size.Y() > extent {
		extent = size.Y()
	}
	if size.Z() > extent {
		extent = size.Z()
	}
	center := b.Min.Add(b.Max).Mul(0.5)
	half := extent / 2
	return geom.Box{
		Min: geom.Vec3{center.X() - half, center.Y() - half, center.Z() - half},
		Max: geom.Vec3{center.X() + half, center.Y() + half, center.Z() + half},
	}
}

// Sample reads the volume at a world point. With interpolate=true it
// trilinearly blends the 8 surrounding voxel centers (the raymarcher's
// onlyPrecompSdf path, unless disableInterpolation is set); with
// interpolate=false it returns the nearest voxel's value, matching
// spec.md §4.4's noted disableInterpolation escape hatch. Points
// outside BBox return ok=false so the caller can fall back to direct
// kernel evaluation.
func (v *Volume) Sample(p geom.Vec3, interpolate bool) (value float32, ok bool) {
	if !v.Enabled || v.Resolution <= 0 {
		return 0, false
	}
	size := v.BBox.Max.Sub(v.BBox.Min)
	if size.X() <= 0 || size.Y() <= 0 || size.Z() <= 0 {
		return 0, false
	}
	local := p.Sub(v.BBox.Min)
	if local.X() < 0 || local.Y() < 0 || local.Z() < 0 ||
		local.X() > size.X() || local.Y() > size.Y() || local.Z() > size.Z() {
		return 0, false
	}

	n := float32(v.Resolution)
	fx := local.X()/size.X()*n - 0.5
	fy := local.Y()/size.Y()*n - 0.5
	fz := local.Z()/size.Z()*n - 0.5

	if !interpolate {
		return v.at(clampIdx(roundNearest(fx), v.Resolution), clampIdx(roundNearest(fy), v.Resolution), clampIdx(roundNearest(fz), v.Resolution)), true
	}

	x0 := clampIdx(floorInt(fx), v.Resolution)
	y0 := clampIdx(floorInt(fy), v.Resolution)
	z0 := clampIdx(floorInt(fz), v.Resolution)
	x1 := clampIdx(x0+1, v.Resolution)
	y1 := clampIdx(y0+1, v.Resolution)
	z1 := clampIdx(z0+1, v.Resolution)

	tx := fx - float32(floorInt(fx))
	ty := fy - float32(floorInt(fy))
	tz := fz - float32(floorInt(fz))
	tx, ty, tz = clamp01(tx), clamp01(ty), clamp01(tz)

	c000 := v.at(x0, y0, z0)
	c100 := v.at(x1, y0, z0)
	c010 := v.at(x0, y1, z0)
	c110 := v.at(x1, y1, z0)
	c001 := v.at(x0, y0, z1)
	c101 := v.at(x1, y0, z1)
	c011 := v.at(x0, y1, z1)
	c111 := v.at(x1, y1, z1)

	c00 := lerp(c000, c100, tx)
	c10 := lerp(c010, c110, tx)
	c01 := lerp(c001, c101, tx)
	c11 := lerp(c011, c111, tx)
	c0 := lerp(c00, c10, ty)
	c1 := lerp(c01, c11, ty)
	return lerp(c0, c1, tz), true
}

func (v *Volume) at(x, y, z int) float32 {
	return v.Data[(z*v.Resolution+y)*v.Resolution+x]
}

func clampIdx(i, resolution int) int {
	if i < 0 {
		return 0
	}
	if i > resolution-1 {
		return resolution - 1
	}
	return i
}

func floorInt(f float32) int {
	i := int(f)
	if f < 0 && float32(i) != f {
		i--
	}
	return i
}

func roundNearest(f float32) int {
	return floorInt(f + 0.5)
}

func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
