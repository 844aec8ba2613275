// Package payload packs the heterogeneous resource types spec.md §4.8
// names (STL/mesh, VDB grid, image stack, beam lattice) into the flat
// {meta, data} format the model kernel consumes, and implements the
// Primitives::add append contract every resource writer shares.
//
// Grounded on voxelrt/rt/volume/xbrickmap.go's atlas-slot bookkeeping
// (AllocateAtlasSlot/FreeAtlasSlot track a byte offset and length per
// slot, shifting later slots' offsets as the atlas grows) generalized
// from a fixed-size texture atlas to an append-only float array, and
// on internal/bvh's node serialization for the beam-lattice BVH block.
package payload

import (
	"github.com/gladius-go/slicer/internal/bvh"
	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

// Primitives is the flat kernel-consumable payload: a typed meta list
// describing [Start,End) ranges into a single shared data array.
type Primitives struct {
	Meta []primitive.Meta
	Data []float32
}

var errInvalidPrimitiveMeta = invalidMetaErr{}

type invalidMetaErr struct{}

func (invalidMetaErr) Error() string { return "payload: meta End-Start < 0" }

// Add implements the Primitives::add append contract spec.md §4.8
// defines: every incoming meta's [Start,End) is shifted by the current
// global data size, then appended; the only hard precondition is
// End-Start >= 0 for every incoming meta, checked before any mutation
// so a rejected Add leaves the receiver unchanged.
func (p *Primitives) Add(other Primitives) error {
	for _, m := range other.Meta {
		if m.End-m.Start < 0 {
			return cerrors.New(cerrors.KindInvalidModel, "payload.Primitives.Add", errInvalidPrimitiveMeta)
		}
	}

	offset := len(p.Data)
	shifted := make([]primitive.Meta, len(other.Meta))
	for i, m := range other.Meta {
		m.Start += offset
		m.End += offset
		shifted[i] = m
	}
	p.Meta = append(p.Meta, shifted...)
	p.Data = append(p.Data, other.Data...)
	return nil
}

// nodeFloats serializes one BVH node as the 10 floats spec.md §4.8
// names: (min.xyz, max.xyz, leftChild, rightChild, primitiveStart,
// primitiveCount). Indices are stored as their float32 value, not
// reinterpreted bit patterns, matching the "serialized... as floats"
// wording (as opposed to internal/bvh.Node.ToBytes's raw little-endian
// block for the GPU-resident tree).
func nodeFloats(n bvh.Node) []float32 {
	return []float32{
		n.Bounds.Min.X(), n.Bounds.Min.Y(), n.Bounds.Min.Z(),
		n.Bounds.Max.X(), n.Bounds.Max.Y(), n.Bounds.Max.Z(),
		float32(n.Left), float32(n.Right),
		float32(n.PrimitiveStart), float32(n.PrimitiveCount),
	}
}

const floatsPerBVHNode = 10

// PackBeamLattice serializes a built beam BVH plus its source beams and
// balls into the BEAM_LATTICE layout spec.md §4.8 describes: one root
// meta spanning the whole block, a BVH-node section, then separate BEAM
// and BALL sections with the raw primitive floats.
func PackBeamLattice(tree bvh.Tree, beams []primitive.BeamData, balls []primitive.BallData) Primitives {
	var data []float32
	var metas []primitive.Meta

	bvhStart := len(data)
	for _, n := range tree.Nodes {
		data = append(data, nodeFloats(n)...)
	}
	bvhEnd := len(data)
	if len(tree.Nodes) > 0 {
		metas = append(metas, primitive.Meta{Type: primitive.TypeBVHNode, Start: bvhStart, End: bvhEnd})
	}

	beamStart := len(data)
	for _, b := range beams {
		data = append(data,
			b.StartPos.X(), b.StartPos.Y(), b.StartPos.Z(),
			b.EndPos.X(), b.EndPos.Y(), b.EndPos.Z(),
			b.StartRadius, b.EndRadius,
			float32(b.StartCap), float32(b.EndCap),
			float32(b.MaterialID),
		)
	}
	beamEnd := len(data)
	if len(beams) > 0 {
		metas = append(metas, primitive.Meta{Type: primitive.TypeBeam, Start: beamStart, End: beamEnd})
	}

	ballStart := len(data)
	for _, b := range balls {
		data = append(data, b.Position.X(), b.Position.Y(), b.Position.Z(), b.Radius)
	}
	ballEnd := len(data)
	if len(balls) > 0 {
		metas = append(metas, primitive.Meta{Type: primitive.TypeBall, Start: ballStart, End: ballEnd})
	}

	root := primitive.Meta{Type: primitive.TypeBeamLatticeRoot, Start: bvhStart, End: ballEnd}
	metas = append([]primitive.Meta{root}, metas...)

	return Primitives{Meta: metas, Data: data}
}

// Triangle is the flat mesh primitive packed alongside its kd-tree.
type Triangle struct {
	V0, V1, V2 geom.Vec3
}

func triangleBounds(t Triangle) geom.Box {
	box := geom.Box{Min: t.V0, Max: t.V0}
	box = box.UnionPoint(t.V1)
	box = box.UnionPoint(t.V2)
	return box
}

func triangleCentroid(t Triangle) geom.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Mul(1.0 / 3.0)
}

type kdNode struct {
	Bounds                       geom.Box
	Left, Right                  int32
	PrimitiveStart, PrimitiveCount int32
}

const kdLeafThreshold = 4

// buildKD builds a simple median-split kd-tree over triangle
// centroids, splitting along the longest bounding-box axis each level
// — the mesh-indexing counterpart to internal/bvh's SAH beam builder,
// deliberately simpler since spec.md names no SAH requirement for
// mesh kd-trees, only that triangles are reachable via root-then-nodes.
//
// order is permuted in place during the build (the same sub-slices-
// share-one-backing-array trick internal/bvh.buildRecursive uses), so
// the returned order is the final triangle sequence the caller must
// append in; each leaf's PrimitiveStart is threaded through explicitly
// rather than recovered after the fact.
func buildKD(tris []Triangle) (nodes []kdNode, order []int) {
	if len(tris) == 0 {
		return nil, nil
	}
	order = make([]int, len(tris))
	for i := range order {
		order[i] = i
	}
	var build func(idx []int, start int) int32
	build = func(idx []int, start int) int32 {
		bounds := geom.EmptyBox()
		for _, i := range idx {
			bounds = bounds.Union(triangleBounds(tris[i]))
		}
		nodeIdx := int32(len(nodes))
		nodes = append(nodes, kdNode{})

		if len(idx) <= kdLeafThreshold {
			nodes[nodeIdx] = kdNode{Bounds: bounds, Left: -1, Right: -1, PrimitiveStart: int32(start), PrimitiveCount: int32(len(idx))}
			return nodeIdx
		}

		size := bounds.Max.Sub(bounds.Min)
		axis := 0
		if size.Y() > size.X() {
			axis = 1
		}
		if axis == 0 && size.Z() > size.X() {
			axis = 2
		}
		if axis == 1 && size.Z() > size.Y() {
			axis = 2
		}

		sortIdxByCentroidAxis(tris, idx, axis)
		mid := len(idx) / 2
		left := build(idx[:mid], start)
		right := build(idx[mid:], start+mid)
		nodes[nodeIdx] = kdNode{Bounds: bounds, Left: left, Right: right, PrimitiveStart: -1, PrimitiveCount: 0}
		return nodeIdx
	}
	build(order, 0)
	return nodes, order
}

func sortIdxByCentroidAxis(tris []Triangle, idx []int, axis int) {
	axisOf := func(v geom.Vec3) float32 {
		switch axis {
		case 1:
			return v.Y()
		case 2:
			return v.Z()
		default:
			return v.X()
		}
	}
	for i := 1; i < len(idx); i++ {
		key := idx[i]
		keyVal := axisOf(triangleCentroid(tris[key]))
		j := i - 1
		for j >= 0 && axisOf(triangleCentroid(tris[idx[j]])) > keyVal {
			idx[j+1] = idx[j]
			j--
		}
		idx[j+1] = key
	}
}

func kdNodeFloats(n kdNode) []float32 {
	return []float32{
		n.Bounds.Min.X(), n.Bounds.Min.Y(), n.Bounds.Min.Z(),
		n.Bounds.Max.X(), n.Bounds.Max.Y(), n.Bounds.Max.Z(),
		float32(n.Left), float32(n.Right),
		float32(n.PrimitiveStart), float32(n.PrimitiveCount),
	}
}

// PackMesh serializes triangles as a kd-tree root, its internal nodes,
// then the raw triangle floats, per spec.md §4.8's MESH_* layout.
func PackMesh(tris []Triangle) Primitives {
	nodes, order := buildKD(tris)

	var data []float32
	var metas []primitive.Meta

	if len(nodes) > 0 {
		rootStart := len(data)
		data = append(data, kdNodeFloats(nodes[0])...)
		rootEnd := len(data)
		metas = append(metas, primitive.Meta{Type: primitive.TypeMeshKDRoot, Start: rootStart, End: rootEnd})

		if len(nodes) > 1 {
			internalStart := len(data)
			for _, n := range nodes[1:] {
				data = append(data, kdNodeFloats(n)...)
			}
			internalEnd := len(data)
			metas = append(metas, primitive.Meta{Type: primitive.TypeMeshKDInternal, Start: internalStart, End: internalEnd})
		}
	}

	triStart := len(data)
	for _, i := range order {
		t := tris[i]
		data = append(data,
			t.V0.X(), t.V0.Y(), t.V0.Z(),
			t.V1.X(), t.V1.Y(), t.V1.Z(),
			t.V2.X(), t.V2.Y(), t.V2.Z(),
		)
	}
	triEnd := len(data)
	if len(tris) > 0 {
		metas = append(metas, primitive.Meta{Type: primitive.TypeMeshTriangles, Start: triStart, End: triEnd})
	}

	return Primitives{Meta: metas, Data: data}
}

// VDBClass selects which VDB meta subtype a packed grid represents,
// per spec.md §4.8's VDB/_BINARY/_FACE_INDICES/_GRAYSCALE_8BIT variants.
type VDBClass int

const (
	VDBFloat VDBClass = iota
	VDBBinary
	VDBFaceIndices
	VDBGrayscale8
)

func (c VDBClass) metaType() primitive.PrimitiveType {
	switch c {
	case VDBBinary:
		return primitive.TypeVDBBinary
	case VDBFaceIndices:
		return primitive.TypeVDBFaceIndices
	case VDBGrayscale8:
		return primitive.TypeVDBGrayscale8
	default:
		return primitive.TypeVDBFloat
	}
}

// PackVDB flattens an already narrow-banded grid of values into the
// payload, tagging it with the requested VDB subtype.
func PackVDB(values []float32, class VDBClass) Primitives {
	data := append([]float32(nil), values...)
	meta := primitive.Meta{Type: class.metaType(), Start: 0, End: len(data)}
	return Primitives{Meta: []primitive.Meta{meta}, Data: data}
}

// PackImageStack packs pre-decoded, row-reversed, normalized-float
// image layers (as internal/imagestack produces) into the payload as a
// single IMAGESTACK meta spanning every layer's pixels concatenated.
func PackImageStack(layers [][]float32) Primitives {
	var data []float32
	for _, layer := range layers {
		data = append(data, layer...)
	}
	meta := primitive.Meta{Type: primitive.TypeImageStack, Start: 0, End: len(data)}
	return Primitives{Meta: []primitive.Meta{meta}, Data: data}
}
