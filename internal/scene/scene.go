// Package scene loads a beam-lattice model description and turns it
// into the two things the rest of the slicer needs from "the model":
// a host-side Evaluator closure (the CPU stand-in every other package
// in this port already treats as the kernel's role, per
// internal/bbox, internal/precompsdf and internal/slicepyramid) and
// the primitive lists the acceleration-structure builders and payload
// packer consume directly.
//
// Generalizes the teacher's core.Scene (voxelrt/rt/core/scene.go):
// there, a Scene owns a list of VoxelObjects and rebuilds a BVH over
// their world AABBs on Commit. Here a Scene owns one implicit model's
// beam/ball primitive lists, since this port's document model is a
// single beam lattice rather than a multi-object voxel world.
package scene

import (
	"encoding/json"
	"io"
	"math"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
	"github.com/gladius-go/slicer/internal/voxelindex"
)

// Beam is the JSON-facing beam description: two endpoints, two radii,
// and optional cap names (defaulting to "hemisphere").
type Beam struct {
	Start    [3]float32 `json:"start"`
	End      [3]float32 `json:"end"`
	StartR   float32    `json:"startRadius"`
	EndR     float32    `json:"endRadius"`
	StartCap string     `json:"startCap,omitempty"`
	EndCap   string     `json:"endCap,omitempty"`
}

// Ball is the JSON-facing ball description.
type Ball struct {
	Center [3]float32 `json:"center"`
	Radius float32    `json:"radius"`
}

// Document is the on-disk scene description gladius-slice and
// gladius-preview both accept: a flat list of beams and balls. This is
// deliberately not a 3MF or mesh format — both remain out of scope —
// just enough structure to hand the slicer a real implicit model.
type Document struct {
	Beams []Beam `json:"beams"`
	Balls []Ball `json:"balls"`
}

// Decode reads a Document from r.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func capStyle(name string) primitive.CapStyle {
	switch name {
	case "sphere":
		return primitive.CapSphere
	case "butt":
		return primitive.CapButt
	default:
		return primitive.CapHemisphere
	}
}

// Primitives converts the document into the BeamData/BallData slices
// every acceleration-structure builder and the payload packer expect.
func (d Document) Primitives() ([]primitive.BeamData, []primitive.BallData) {
	beams := make([]primitive.BeamData, len(d.Beams))
	for i, b := range d.Beams {
		beams[i] = primitive.BeamData{
			StartPos:    geom.Vec3{b.Start[0], b.Start[1], b.Start[2]},
			EndPos:      geom.Vec3{b.End[0], b.End[1], b.End[2]},
			StartRadius: b.StartR,
			EndRadius:   b.EndR,
			StartCap:    capStyle(b.StartCap),
			EndCap:      capStyle(b.EndCap),
		}
	}
	balls := make([]primitive.BallData, len(d.Balls))
	for i, b := range d.Balls {
		balls[i] = primitive.BallData{
			Position: geom.Vec3{b.Center[0], b.Center[1], b.Center[2]},
			Radius:   b.Radius,
		}
	}
	return beams, balls
}

// Evaluator builds a host-side signed-distance function over the
// document's beams and balls: the union (minimum) of
// voxelindex.DistanceToBeam/DistanceToBall across every primitive,
// the same per-primitive math the voxel-index builder uses to decide
// nearest-primitive occupancy. A linear scan is appropriate here since
// this evaluator exists for the CLI/preview entry points, not the
// accelerated builders, which already have their own BVH/voxel-index
// fast paths.
func (d Document) Evaluator() func(geom.Vec3) float32 {
	beams, balls := d.Primitives()
	return func(p geom.Vec3) float32 {
		best := float32(math.Inf(1))
		for _, b := range beams {
			if d := voxelindex.DistanceToBeam(p, b); d < best {
				best = d
			}
		}
		for _, b := range balls {
			if d := voxelindex.DistanceToBall(p, b); d < best {
				best = d
			}
		}
		return best
	}
}

// Bounds returns a conservative bounding box from the primitives'
// own Bounds(), used to seed a search before bbox.Discover narrows it
// against the Evaluator directly.
func (d Document) Bounds() geom.Box {
	beams, balls := d.Primitives()
	box := geom.EmptyBox()
	for _, b := range beams {
		box = unionBox(box, b.Bounds())
	}
	for _, b := range balls {
		box = unionBox(box, b.Bounds())
	}
	return box
}

func unionBox(a, b geom.Box) geom.Box {
	if b.IsEmpty() {
		return a
	}
	out := a
	out = out.UnionPoint(b.Min)
	out = out.UnionPoint(b.Max)
	return out
}
