// Package bbox discovers a tight axis-aligned bounding box around an
// opaque implicit model of unknown extent by projecting seed points
// onto its surface and growing a running box, per spec.md §4.5.
//
// The gradient-descent-to-surface step is grounded on the teacher
// pack's soypat-gsdf NormalsCentralDiff (central-difference gradient
// estimation over an SDF3 evaluator); the seeding/iteration loop
// itself is new code built to spec.md's stated algorithm.
package bbox

import (
	"math"

	"github.com/gladius-go/slicer/internal/geom"
)

// Evaluator samples the model kernel's signed distance at a world point.
type Evaluator func(p geom.Vec3) float32

const (
	gradEpsilon   = 1e-4
	seedGridN     = 10
	minIterations = 10
	initialExtent = 1000
)

// Result is the outcome of Discover: the grown AABB, and the set of
// faces (of the last iteration's search box) on which every seed failed to project,
// which flags PartialBoundingBox per spec.md §4.5's Failures clause.
type Result struct {
	Box              geom.Box
	PartialBoundingBox bool
	FailedFaces      []Face
}

// Face names one of the six faces of the search box.
type Face int

const (
	FaceMinX Face = iota
	FaceMaxX
	FaceMinY
	FaceMaxY
	FaceMinZ
	FaceMaxZ
)

// Discover runs spec.md §4.5's iterative surface-projection search.
func Discover(eval Evaluator) Result {
	box := geom.Box{
		Min: geom.Vec3{-initialExtent, -initialExtent, -initialExtent},
		Max: geom.Vec3{initialExtent, initialExtent, initialExtent},
	}

	var result geom.Box
	var failedFaces []Face
	iteration := 0
	const maxOuterIterations = 64

	for iteration < maxOuterIterations {
		grown := geom.EmptyBox()
		faceFailed := make(map[Face]bool)

		for face := FaceMinX; face <= FaceMaxZ; face++ {
			seeds := seedPointsOnFace(box, face)
			anySucceeded := false
			for _, seed := range seeds {
				p, ok := ProjectToSurface(eval, seed)
				if !ok {
					continue
				}
				anySucceeded = true
				grown = grown.UnionPoint(p)
			}
			if !anySucceeded {
				faceFailed[face] = true
			}
		}

		// Faces that produced no valid projection keep the previous box's
		// extent on that face, per spec.md §4.5's Failures clause.
		merged := mergeWithFallback(grown, box, faceFailed)

		iteration++
		if iteration >= minIterations && !grewSignificantly(result, merged) {
			result = merged
			failedFaces = facesFromMap(faceFailed)
			break
		}
		result = merged
		failedFaces = facesFromMap(faceFailed)
		box = merged
	}

	return Result{
		Box:                result,
		PartialBoundingBox: len(failedFaces) > 0,
		FailedFaces:        failedFaces,
	}
}

func facesFromMap(m map[Face]bool) []Face {
	if len(m) == 0 {
		return nil
	}
	out := make([]Face, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	return out
}

// mergeWithFallback substitutes the prior box's extent on any face that
// failed to project, so a disconnected model doesn't collapse that side
// to the grown box's opposite-side value.
func mergeWithFallback(grown, prior geom.Box, failed map[Face]bool) geom.Box {
	if grown.IsEmpty() {
		return prior
	}
	out := grown
	if failed[FaceMinX] {
		out.Min[0] = prior.Min.X()
	}
	if failed[FaceMaxX] {
		out.Max[0] = prior.Max.X()
	}
	if failed[FaceMinY] {
		out.Min[1] = prior.Min.Y()
	}
	if failed[FaceMaxY] {
		out.Max[1] = prior.Max.Y()
	}
	if failed[FaceMinZ] {
		out.Min[2] = prior.Min.Z()
	}
	if failed[FaceMaxZ] {
		out.Max[2] = prior.Max.Z()
	}
	return out
}

func grewSignificantly(prev, next geom.Box) bool {
	if prev.IsEmpty() {
		return true
	}
	const eps = gradEpsilon
	for i := 0; i < 3; i++ {
		if absf(next.Min[i]-prev.Min[i]) > eps || absf(next.Max[i]-prev.Max[i]) > eps {
			return true
		}
	}
	return false
}

// seedPointsOnFace places a seedGridN x seedGridN grid of points on the
// given face of box.
func seedPointsOnFace(box geom.Box, face Face) []geom.Vec3 {
	size := box.Size()
	seeds := make([]geom.Vec3, 0, seedGridN*seedGridN)

	for i := 0; i < seedGridN; i++ {
		for j := 0; j < seedGridN; j++ {
			u := (float32(i) + 0.5) / float32(seedGridN)
			v := (float32(j) + 0.5) / float32(seedGridN)
			var p geom.Vec3
			switch face {
			case FaceMinX:
				p = geom.Vec3{box.Min.X(), box.Min.Y() + u*size.Y(), box.Min.Z() + v*size.Z()}
			case FaceMaxX:
				p = geom.Vec3{box.Max.X(), box.Min.Y() + u*size.Y(), box.Min.Z() + v*size.Z()}
			case FaceMinY:
				p = geom.Vec3{box.Min.X() + u*size.X(), box.Min.Y(), box.Min.Z() + v*size.Z()}
			case FaceMaxY:
				p = geom.Vec3{box.Min.X() + u*size.X(), box.Max.Y(), box.Min.Z() + v*size.Z()}
			case FaceMinZ:
				p = geom.Vec3{box.Min.X() + u*size.X(), box.Min.Y() + v*size.Y(), box.Min.Z()}
			case FaceMaxZ:
				p = geom.Vec3{box.Min.X() + u*size.X(), box.Min.Y() + v*size.Y(), box.Max.Z()}
			}
			seeds = append(seeds, p)
		}
	}
	return seeds
}

const (
	maxProjectIterations = 64
	surfaceTolerance      = 1e-3
)

// ProjectToSurface implements spec.md §4.5: pos <- pos + f(pos)*d where
// d = -grad(f)/|grad(f)|, via central-difference gradient estimation.
// Returns ok=false if the gradient degenerates to zero at any step of
// the walk, or if the walk has not reached the surface within
// maxProjectIterations steps. Exported so slicer's vertex
// surface-snapping (movePointsToSurface, adoptVertexOfMeshToSurface)
// can reuse the same projection walk Discover uses for seed points.
func ProjectToSurface(eval Evaluator, start geom.Vec3) (geom.Vec3, bool) {
	p := start
	for i := 0; i < maxProjectIterations; i++ {
		d := eval(p)
		if absf(d) < surfaceTolerance {
			return p, true
		}
		grad := centralDiffGradient(eval, p)
		glen := float32(math.Sqrt(float64(grad.X()*grad.X() + grad.Y()*grad.Y() + grad.Z()*grad.Z())))
		if glen < 1e-8 {
			return geom.Vec3{}, false
		}
		dir := grad.Mul(-1.0 / glen)
		p = p.Add(dir.Mul(d))
	}
	return geom.Vec3{}, false
}

// centralDiffGradient estimates grad(f) at p using the four-point
// stencil spec.md §4.5 names: offsets {xyy, yyx, yxy, xxx}, generalizing
// soypat-gsdf's NormalsCentralDiff.
func centralDiffGradient(eval Evaluator, p geom.Vec3) geom.Vec3 {
	e := float32(gradEpsilon)
	xyy := geom.Vec3{e, -e, -e}
	yyx := geom.Vec3{-e, -e, e}
	yxy := geom.Vec3{-e, e, -e}
	xxx := geom.Vec3{e, e, e}

	fxyy := eval(p.Add(xyy))
	fyyx := eval(p.Add(yyx))
	fyxy := eval(p.Add(yxy))
	fxxx := eval(p.Add(xxx))

	return geom.Vec3{
		xyy.X()*fxyy + yyx.X()*fyyx + yxy.X()*fyxy + xxx.X()*fxxx,
		xyy.Y()*fxyy + yyx.Y()*fyyx + yxy.Y()*fyxy + xxx.Y()*fxxx,
		xyy.Z()*fxyy + yyx.Z()*fyyx + yxy.Z()*fyxy + xxx.Z()*fxxx,
	}.Mul(1.0 / (4 * e * e))
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
