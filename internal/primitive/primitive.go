// Package primitive holds the data-model types shared by every
// acceleration structure and payload packer: beams, balls, the
// primitive-type tag the kernel uses to decode a meta range, the
// rendering settings struct, and the VM-style command tape used when
// the compiled model is represented as a command stream rather than
// inline kernel source.
package primitive

import (
	"github.com/gladius-go/slicer/internal/geom"
)

// CapStyle is a beam endpoint cap shape.
type CapStyle int

const (
	CapHemisphere CapStyle = iota
	CapSphere
	CapButt
)

// BeamData is a conical-capsule primitive: two endpoints, two radii,
// two independent cap styles, and a material id.
type BeamData struct {
	StartPos, EndPos       geom.Vec3
	StartRadius, EndRadius float32
	StartCap, EndCap       CapStyle
	MaterialID             int32
}

// Length returns the Euclidean length of the beam's segment.
func (b BeamData) Length() float32 {
	return b.EndPos.Sub(b.StartPos).Len()
}

// IsDegenerate reports whether the beam's segment is shorter than the
// tolerance spec.md §4.2 uses to treat a beam as a ball.
func (b BeamData) IsDegenerate() bool {
	return b.Length() < 1e-6
}

// MaxRadius returns the larger of the two end radii.
func (b BeamData) MaxRadius() float32 {
	if b.StartRadius > b.EndRadius {
		return b.StartRadius
	}
	return b.EndRadius
}

// Bounds returns the Minkowski sum of the beam's segment with its max
// radius — the bounding invariant spec.md §3 requires for BeamData.
// A degenerate (zero-length) beam degenerates to a ball of radius
// MaxRadius at StartPos, per spec.md §3.
func (b BeamData) Bounds() geom.Box {
	r := b.MaxRadius()
	if b.IsDegenerate() {
		return geom.Box{Min: b.StartPos, Max: b.StartPos}.Expand(r)
	}
	box := geom.Box{Min: b.StartPos, Max: b.StartPos}
	box = box.UnionPoint(b.EndPos)
	return box.Expand(r)
}

// BallData is a sphere primitive.
type BallData struct {
	Position geom.Vec3
	Radius   float32
}

// Bounds returns the ball's AABB.
func (b BallData) Bounds() geom.Box {
	return geom.Box{Min: b.Position, Max: b.Position}.Expand(b.Radius)
}

// PrimitiveType enumerates how the kernel decodes a PrimitiveMeta
// range of the flat data array. Values match spec.md §3's enumeration
// order; callers must not rely on numeric stability across versions,
// only on the named constants.
type PrimitiveType int

const (
	TypePolygonOuter PrimitiveType = iota
	TypePolygonInner
	TypeBeams
	TypeMeshTriangles
	TypeMeshKDRoot
	TypeMeshKDInternal
	TypeLines2D
	TypeVDBFloat
	TypeVDBBinary
	TypeVDBFaceIndices
	TypeVDBGrayscale8
	TypeImageStack
	TypeBeamLatticeRoot
	TypeBeam
	TypeBall
	TypeBVHNode
	TypePrimitiveIndexMap
	TypeVoxelIndexGrid
	TypeVoxelTypeGrid
)

// Meta tags a [Start,End) slice of a Primitives payload's flat data
// array with a decoding type and auxiliary fields used by the
// renderer/slicer (center, scaling, bounding box, approximation caps).
type Meta struct {
	Type                             PrimitiveType
	Start, End                       int
	Center                           geom.Vec4
	Scaling                          float32
	BoundingBox                      geom.Box
	ApproximationTop, ApproximationBottom geom.Vec4
}

// Valid checks the one hard precondition spec.md §4.8 names for a
// meta entry: 0 <= Start <= End.
func (m Meta) Valid() bool {
	return m.Start >= 0 && m.Start <= m.End
}

// Flags is a bitset of RenderingSettings toggle flags.
type Flags uint32

const (
	ShowBuildPlate Flags = 1 << iota
	CutOffObject
	ShowField
	ShowStack
	ShowCoordinateSystem
)

// Approximation selects how the raymarcher combines the model kernel
// and the precomputed SDF volume, per spec.md §4.4.
type Approximation int

const (
	ApproxFullModel Approximation = iota
	ApproxHybrid
	ApproxOnlyPrecompSdf
	ApproxDisableInterpolation
)

// Settings mirrors spec.md's RenderingSettings.
type Settings struct {
	TimeS, ZMM       float32
	Flags            Flags
	Approximation    Approximation
	Quality          float32
	WeightDistToNb   float32
	WeightMidPoint   float32
	NormalOffset     float32
}

// ClampQuality clamps Quality to the [0.05, 2.0] range spec.md §7
// mandates for bounding numeric-overflow errors from user models.
func (s *Settings) ClampQuality() {
	if s.Quality < 0.05 {
		s.Quality = 0.05
	} else if s.Quality > 2.0 {
		s.Quality = 2.0
	}
}

// Command is a VM-style tape entry consumed when the compiled model
// is represented as a command stream rather than inline kernel
// source; see original_source/gladius/src/kernel/types.h.
type Command struct {
	Type        int32
	ID          int32
	Placeholder [2]int32
	Args        [32]int32
	Output      [32]int32
}

// BuildItem is a scene-graph placement instance: a named, transformed
// reference to a component that ultimately produces Meta ranges in
// the global Primitives payload.
type BuildItem struct {
	ID         int32
	Transform  [16]float32 // row-major 4x4, identity by default
	PartNumber string
	Name       string
	Components []Component
}

// Component is a single resource reference inside a BuildItem.
type Component struct {
	ResourceID int32
	Transform  [16]float32
}

// Identity4 returns a row-major identity transform.
func Identity4() [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// NewBuildItem returns a BuildItem with an identity transform.
func NewBuildItem(id int32, partNumber, name string) BuildItem {
	return BuildItem{ID: id, Transform: Identity4(), PartNumber: partNumber, Name: name}
}
