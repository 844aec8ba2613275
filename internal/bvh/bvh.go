// Package bvh builds a Surface-Area-Heuristic bounding-volume
// hierarchy over a mixed set of beams and balls, generalizing the
// teacher's rt/bvh.TLASBuilder (a median-split TLAS over object AABBs)
// into a full SAH builder over individual beam-lattice primitives, per
// spec.md §4.1.
package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

// Kind distinguishes a beam-lattice primitive's underlying data.
type Kind int

const (
	KindBeam Kind = iota
	KindBall
)

// buildPrimitive is the build-time record spec.md §3 calls
// BeamPrimitive: a kind tag, an index into the caller's beams/balls
// slices, its AABB and centroid.
type buildPrimitive struct {
	kind     Kind
	index    int
	bounds   geom.Box
	centroid geom.Vec3
}

// Node is a BeamBVHNode: leaves have Left=Right=-1 and reference a
// contiguous [PrimitiveStart, PrimitiveStart+PrimitiveCount) slice of
// the reordered primitive order; internal nodes have both children >= 0.
type Node struct {
	Bounds                         geom.Box
	Left, Right                    int32
	PrimitiveStart, PrimitiveCount int32
	Depth                          int32
}

// IsLeaf reports whether n is a leaf node.
func (n Node) IsLeaf() bool { return n.Left < 0 && n.Right < 0 }

// OrderedPrimitive is one entry of the BVH's reordered primitive
// array: the kind (beam/ball) and original index the caller supplied.
type OrderedPrimitive struct {
	Kind  Kind
	Index int
}

// Params configures the builder per spec.md §4.1.
type Params struct {
	MaxDepth            int
	MaxPrimitivesPerLeaf int
	TraversalCost       float32
	IntersectionCost    float32
}

// DefaultParams matches spec.md §4.1's stated defaults.
func DefaultParams() Params {
	return Params{
		MaxDepth:             20,
		MaxPrimitivesPerLeaf: 4,
		TraversalCost:        1.0,
		IntersectionCost:     2.0,
	}
}

// Stats summarizes a completed build.
type Stats struct {
	TotalNodes int
	LeafNodes  int
	MaxDepth   int
	AvgDepth   float64
}

// Tree is the output of Build: a contiguous node array (node 0 is the
// root) plus the reordered primitive order leaves index into.
type Tree struct {
	Nodes      []Node
	Order      []OrderedPrimitive
	Stats      Stats
}

const maxSAHCandidates = 32

// Build constructs a BVH over beams and balls. Empty input yields an
// empty Tree and zero Stats rather than an error, per spec.md §4.1's
// Failures clause.
func Build(beams []primitive.BeamData, balls []primitive.BallData, params Params) Tree {
	if params.MaxDepth <= 0 {
		params = DefaultParams()
	}
	n := len(beams) + len(balls)
	if n == 0 {
		return Tree{}
	}

	prims := make([]buildPrimitive, 0, n)
	for i, b := range beams {
		bb := b.Bounds()
		prims = append(prims, buildPrimitive{kind: KindBeam, index: i, bounds: bb, centroid: bb.Centroid()})
	}
	for i, b := range balls {
		bb := b.Bounds()
		prims = append(prims, buildPrimitive{kind: KindBall, index: i, bounds: bb, centroid: bb.Centroid()})
	}

	bld := &builder{params: params, nodes: make([]Node, 0, 2*n-1)}
	bld.buildRecursive(prims, 0, 0)

	order := make([]OrderedPrimitive, len(prims))
	for i, p := range prims {
		order[i] = OrderedPrimitive{Kind: p.kind, Index: p.index}
	}

	var depthSum int
	for _, nd := range bld.nodes {
		if nd.IsLeaf() {
			bld.stats.LeafNodes++
			depthSum += int(nd.Depth)
		}
	}
	bld.stats.TotalNodes = len(bld.nodes)
	if bld.stats.LeafNodes > 0 {
		bld.stats.AvgDepth = float64(depthSum) / float64(bld.stats.LeafNodes)
	}

	return Tree{Nodes: bld.nodes, Order: order, Stats: bld.stats}
}

type builder struct {
	params Params
	nodes  []Node
	stats  Stats
}

// buildRecursive mirrors spec.md §4.1's algorithm: compute node
// bounds, emit a leaf if below threshold, otherwise evaluate a binned
// SAH split per axis and partition. start is prims[0]'s offset into
// the build's backing array, threaded down explicitly so leaves can
// record a correct PrimitiveStart without relying on slice-pointer
// arithmetic.
func (bld *builder) buildRecursive(prims []buildPrimitive, depth, start int) int32 {
	idx := int32(len(bld.nodes))
	bld.nodes = append(bld.nodes, Node{})

	bounds := geom.EmptyBox()
	for _, p := range prims {
		bounds = bounds.Union(p.bounds)
	}

	if depth > bld.stats.MaxDepth {
		bld.stats.MaxDepth = depth
	}

	if len(prims) <= bld.params.MaxPrimitivesPerLeaf || depth >= bld.params.MaxDepth {
		bld.nodes[idx] = Node{
			Bounds:         bounds,
			Left:           -1,
			Right:          -1,
			PrimitiveStart: int32(start),
			PrimitiveCount: int32(len(prims)),
			Depth:          int32(depth),
		}
		return idx
	}

	axis, pos, found := bld.bestSAHSplit(prims, bounds)
	var mid int
	if !found {
		mid = len(prims) / 2
		sortByAxis(prims, bestAxisByExtent(bounds))
	} else {
		sortByAxis(prims, axis)
		mid = partitionIndex(prims, axis, pos)
		if mid <= 0 || mid >= len(prims) {
			mid = len(prims) / 2
		}
	}

	left := bld.buildRecursive(prims[:mid], depth+1, start)
	right := bld.buildRecursive(prims[mid:], depth+1, start+mid)

	bld.nodes[idx] = Node{
		Bounds: bounds,
		Left:   left,
		Right:  right,
		Depth:  int32(depth),
	}
	return idx
}

func bestAxisByExtent(b geom.Box) int {
	e := b.Size()
	axis := 0
	if e.Y() > e[axis] {
		axis = 1
	}
	if e.Z() > e[axis] {
		axis = 2
	}
	return axis
}

func sortByAxis(prims []buildPrimitive, axis int) {
	sort.Slice(prims, func(i, j int) bool {
		return prims[i].centroid[axis] < prims[j].centroid[axis]
	})
}

// partitionIndex finds the first index whose centroid >= pos along axis,
// assuming prims is already sorted by that axis (spec.md §4.1 step 3).
func partitionIndex(prims []buildPrimitive, axis int, pos float32) int {
	for i, p := range prims {
		if p.centroid[axis] >= pos {
			return i
		}
	}
	return len(prims)
}

// bestSAHSplit evaluates up to 32 candidate split positions per axis
// on a local (copied) centroid-sorted order, per spec.md §4.1 step 2.
// Returns found=false if every candidate yields an empty partition
// (degenerate/flat scene), signalling the caller to fall back to a
// midpoint split.
func (bld *builder) bestSAHSplit(prims []buildPrimitive, sceneBounds geom.Box) (axis int, pos float32, found bool) {
	sceneSA := sceneBounds.SurfaceArea()
	bestCost := float32(math.Inf(1))
	found = false

	for a := 0; a < 3; a++ {
		local := make([]buildPrimitive, len(prims))
		copy(local, prims)
		sortByAxis(local, a)

		nCandidates := maxSAHCandidates
		if nCandidates > len(local)-1 {
			nCandidates = len(local) - 1
		}
		if nCandidates < 1 {
			continue
		}

		for c := 1; c <= nCandidates; c++ {
			rank := c * len(local) / (nCandidates + 1)
			if rank <= 0 || rank >= len(local) {
				continue
			}
			splitPos := local[rank].centroid[a]

			var leftBounds, rightBounds geom.Box = geom.EmptyBox(), geom.EmptyBox()
			var nl, nr int
			for _, p := range local {
				if p.centroid[a] < splitPos {
					leftBounds = leftBounds.Union(p.bounds)
					nl++
				} else {
					rightBounds = rightBounds.Union(p.bounds)
					nr++
				}
			}

			var cost float32
			if nl == 0 || nr == 0 || sceneSA <= 0 {
				cost = float32(math.Inf(1))
			} else {
				cost = bld.params.TraversalCost + bld.params.IntersectionCost*
					(float32(nl)*leftBounds.SurfaceArea()+float32(nr)*rightBounds.SurfaceArea())/sceneSA
			}

			if cost < bestCost {
				bestCost = cost
				axis = a
				pos = splitPos
				found = true
			}
		}
	}

	if math.IsInf(float64(bestCost), 1) {
		return 0, 0, false
	}
	return axis, pos, found
}

// ToBytes serializes node n in the 64-byte little-endian layout
// consumed by the kernel, the same block shape as the teacher's
// BVHNode.ToBytes (min.xyz, max.xyz, left, right, primitiveStart,
// primitiveCount, 16 bytes padding).
func (n Node) ToBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = geom.PutVec4(buf, n.Bounds.Min, 0)
	buf = geom.PutVec4(buf, n.Bounds.Max, 0)
	buf = geom.PutInt32(buf, n.Left)
	buf = geom.PutInt32(buf, n.Right)
	buf = geom.PutInt32(buf, n.PrimitiveStart)
	buf = geom.PutInt32(buf, n.PrimitiveCount)
	buf = append(buf, make([]byte, 16)...)
	return buf
}

// EncodeNodes serializes every node of t in build order.
func EncodeNodes(nodes []Node) []byte {
	out := make([]byte, 0, 64*len(nodes))
	for _, n := range nodes {
		out = append(out, n.ToBytes()...)
	}
	return out
}

// DecodeLeftIndex reads the Left field back out of a serialized node,
// used by tests checking the wire format without re-parsing the whole
// struct (mirrors the teacher's builder_test.go byte-offset checks).
func DecodeLeftIndex(data []byte, nodeIdx int) int32 {
	off := nodeIdx*64 + 32
	return int32(binary.LittleEndian.Uint32(data[off : off+4]))
}
