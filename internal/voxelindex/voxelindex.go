// Package voxelindex builds a sparse 3D nearest-primitive index over a
// set of beam-lattice primitives, generalizing the teacher's sparse
// paged grid (Sector/Brick/XBrickMap in rt/volume/xbrickmap.go) from a
// painted-voxel occupancy store into a nearest-primitive distance
// index.
package voxelindex

import (
	"math"

	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

// Settings configures a Build call per spec.md §4.2.
type Settings struct {
	VoxelSize             float32
	MaxDistance            float32
	SeparateBeamBallGrids   bool
	EncodeTypeInIndex       bool
}

// Coord is an integer voxel grid coordinate.
type Coord struct{ X, Y, Z int }

// PrimType mirrors primitive.Kind for the type grid; -1 is the
// inactive-voxel background value spec.md §4.2 mandates.
type PrimType int32

const (
	TypeBeam PrimType = iota
	TypeBall
	TypeBackground PrimType = -1
)

// Grid is a sparse nearest-primitive index: Index maps an active
// voxel's coordinate to the winning primitive's index in the caller's
// beams/balls arrays (sign-bit-encoded when Settings.EncodeTypeInIndex
// collapses type into the same grid), Type is present only when
// SeparateBeamBallGrids requested a second grid.
type Grid struct {
	VoxelSize float32
	Origin    Coord // grid-space origin of voxel (0,0,0)
	Index     map[Coord]int32
	Type      map[Coord]PrimType // nil unless SeparateBeamBallGrids
}

// Result is the (indexGrid, typeGrid) pair spec.md §4.2 names as the
// builder's output; both are nil for empty input.
type Result struct {
	IndexGrid *Grid
	TypeGrid  *Grid
}

// EstimateCellCount returns the voxel count a Build call over the
// given world AABB and settings would need to visit, so a caller can
// guard the ≤10^7 memory-safety recommendation from spec.md §4.2
// before committing to a full build.
func EstimateCellCount(bounds geom.Box, s Settings) int64 {
	if bounds.IsEmpty() || s.VoxelSize <= 0 {
		return 0
	}
	margin := marginVoxels(s)
	lo, hi := worldBoundsToRange(bounds, s.VoxelSize, margin)
	dx := int64(hi.X - lo.X + 1)
	dy := int64(hi.Y - lo.Y + 1)
	dz := int64(hi.Z - lo.Z + 1)
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return 0
	}
	return dx * dy * dz
}

func marginVoxels(s Settings) int {
	if s.VoxelSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(s.MaxDistance/s.VoxelSize))) + 2
}

func worldBoundsToRange(bounds geom.Box, voxelSize float32, margin int) (lo, hi Coord) {
	lo = Coord{
		X: int(math.Floor(float64(bounds.Min.X()/voxelSize))) - margin,
		Y: int(math.Floor(float64(bounds.Min.Y()/voxelSize))) - margin,
		Z: int(math.Floor(float64(bounds.Min.Z()/voxelSize))) - margin,
	}
	hi = Coord{
		X: int(math.Ceil(float64(bounds.Max.X()/voxelSize))) + margin,
		Y: int(math.Ceil(float64(bounds.Max.Y()/voxelSize))) + margin,
		Z: int(math.Ceil(float64(bounds.Max.Z()/voxelSize))) + margin,
	}
	return lo, hi
}

// BuildSerial is the reference (phase-1) implementation: a serial,
// bounding-box-culled nearest-primitive search over every voxel in
// range. It is the ground truth BuildParallel is checked against.
func BuildSerial(beams []primitive.BeamData, balls []primitive.BallData, s Settings) (Result, error) {
	if s.VoxelSize <= 0 {
		return Result{}, cerrors.New(cerrors.KindInvalidModel, "voxelindex.BuildSerial", errInvalidVoxelSize)
	}
	if len(beams) == 0 && len(balls) == 0 {
		return Result{}, nil
	}

	bounds := geom.EmptyBox()
	beamBoxes := make([]geom.Box, len(beams))
	for i, b := range beams {
		beamBoxes[i] = b.Bounds()
		bounds = bounds.Union(beamBoxes[i])
	}
	ballBoxes := make([]geom.Box, len(balls))
	for i, b := range balls {
		ballBoxes[i] = b.Bounds()
		bounds = bounds.Union(ballBoxes[i])
	}
	if bounds.IsEmpty() {
		return Result{}, nil
	}

	margin := marginVoxels(s)
	lo, hi := worldBoundsToRange(bounds, s.VoxelSize, margin)

	idxGrid := &Grid{VoxelSize: s.VoxelSize, Origin: lo, Index: make(map[Coord]int32)}
	var typeGrid *Grid
	if s.SeparateBeamBallGrids {
		typeGrid = &Grid{VoxelSize: s.VoxelSize, Origin: lo, Type: make(map[Coord]PrimType)}
	}

	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				c := Coord{x, y, z}
				center := geom.Vec3{
					(float32(x) + 0.5) * s.VoxelSize,
					(float32(y) + 0.5) * s.VoxelSize,
					(float32(z) + 0.5) * s.VoxelSize,
				}
				kind, idx, dist, ok := closestPrimitive(center, beams, beamBoxes, balls, ballBoxes, s.MaxDistance)
				if !ok || dist > s.MaxDistance {
					continue
				}
				if s.SeparateBeamBallGrids {
					idxGrid.Index[c] = int32(idx)
					typeGrid.Type[c] = kindToType(kind)
				} else if s.EncodeTypeInIndex {
					v := int32(idx)
					if kind == primitive.KindBall {
						v = -(v + 1)
					}
					idxGrid.Index[c] = v
				} else {
					idxGrid.Index[c] = int32(idx)
				}
			}
		}
	}

	return Result{IndexGrid: idxGrid, TypeGrid: typeGrid}, nil
}

func kindToType(k primitive.Kind) PrimType {
	if k == primitive.KindBall {
		return TypeBall
	}
	return TypeBeam
}

// closestPrimitive implements spec.md §4.2 step 3's ordering contract:
// beams are examined before balls, each in caller order, and a
// strictly-smaller distance is required to replace the current best so
// ties resolve to the earlier primitive.
func closestPrimitive(p geom.Vec3, beams []primitive.BeamData, beamBoxes []geom.Box, balls []primitive.BallData, ballBoxes []geom.Box, maxDist float32) (kind primitive.Kind, index int, dist float32, ok bool) {
	best := float32(math.Inf(1))
	bestKind := primitive.KindBeam
	bestIdx := -1

	const marginWorldUnit = 1.0

	for i, b := range beams {
		if !boxMightContain(beamBoxes[i], p, best, marginWorldUnit) {
			continue
		}
		d := DistanceToBeam(p, b)
		if d < best {
			best = d
			bestKind = primitive.KindBeam
			bestIdx = i
		}
	}
	for i, b := range balls {
		if !boxMightContain(ballBoxes[i], p, best, marginWorldUnit) {
			continue
		}
		d := DistanceToBall(p, b)
		if d < best {
			best = d
			bestKind = primitive.KindBall
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return primitive.KindBeam, 0, 0, false
	}
	return bestKind, bestIdx, best, true
}

// boxMightContain reports whether p lies within box expanded by
// currentBest+margin, the cull spec.md §4.2 step 3 specifies to skip
// candidates that cannot possibly beat the running best.
func boxMightContain(box geom.Box, p geom.Vec3, currentBest, margin float32) bool {
	if math.IsInf(float64(currentBest), 1) {
		return true
	}
	expanded := box.Expand(currentBest + margin)
	return expanded.Contains(p)
}

// DistanceToBall returns the signed distance from p to a ball
// primitive's surface. Exported so host-side model evaluators
// (internal/scene's Evaluator) can reuse the same
// primitive math the voxel index builder uses.
func DistanceToBall(p geom.Vec3, b primitive.BallData) float32 {
	return p.Sub(b.Position).Len() - b.Radius
}

// DistanceToBeam implements spec.md §4.2 step 3's beam distance: project
// onto the segment, clamp t to [0, L], interpolate radius along t,
// subtract from the projected distance. Degenerate (L < 1e-6) beams
// fall back to a ball of MaxRadius at StartPos. Exported for the same
// reason as DistanceToBall.
func DistanceToBeam(p geom.Vec3, b primitive.BeamData) float32 {
	if b.IsDegenerate() {
		return p.Sub(b.StartPos).Len() - b.MaxRadius()
	}
	seg := b.EndPos.Sub(b.StartPos)
	length := seg.Len()
	dir := seg.Mul(1.0 / length)

	toP := p.Sub(b.StartPos)
	t := toP.Dot(dir)
	if t < 0 {
		t = 0
	} else if t > length {
		t = length
	}

	closest := b.StartPos.Add(dir.Mul(t))
	radius := b.StartRadius + (b.EndRadius-b.StartRadius)*(t/length)

	return p.Sub(closest).Len() - radius
}

var errInvalidVoxelSize = voxelSizeErr{}

type voxelSizeErr struct{}

func (voxelSizeErr) Error() string { return "voxelSize must be > 0" }
