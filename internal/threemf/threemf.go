// Package threemf maps beam-lattice primitives onto the 3MF beam
// lattice extension's vertex/beam/ball schema and serializes that
// block as XML. It does not read or write a 3MF package (zip
// container, model relationships, thumbnails): that remains an
// external collaborator's job. What lives here is the vertex
// canonicalization and beam/ball construction spec.md §6 describes,
// plus the XML element shapes that block serializes to.
package threemf

import (
	"encoding/xml"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

// BallMode selects which ball primitives get an explicit <ball>
// entry in the exported lattice.
type BallMode int

const (
	// BallModeNone emits no ball entries at all.
	BallModeNone BallMode = iota
	// BallModeMixed emits a ball entry only for balls whose position
	// already coincides with a vertex introduced by a beam endpoint;
	// it never inserts a new vertex for a ball.
	BallModeMixed
	// BallModeAll inserts-or-finds a vertex for every ball and always
	// emits an entry.
	BallModeAll
)

// vertexTolerance is the distance below which two endpoints are
// folded into the same shared vertex, matching the round-trip
// property spec.md §8 requires of the lattice exporter.
const vertexTolerance = 1e-6

// BeamEntry is one <beam> element: a pair of vertex indices, their
// radii, and their cap styles. CapModes reuses primitive.CapStyle's
// numbering directly (Hemisphere=0, Sphere=1, Butt=2), which already
// matches the 3MF beam lattice cap-mode mapping.
type BeamEntry struct {
	Indices  [2]int
	Radii    [2]float32
	CapModes [2]primitive.CapStyle
}

// BallEntry is one <ball> element.
type BallEntry struct {
	Index  int
	Radius float32
}

// BeamLattice is the canonicalized, index-based form of a set of beam
// and ball primitives, ready to serialize.
type BeamLattice struct {
	Vertices []geom.Vec3
	Beams    []BeamEntry
	Balls    []BallEntry
}

// vertexSet deduplicates positions within vertexTolerance, preserving
// first-seen order so output is stable across calls with the same
// input.
type vertexSet struct {
	positions []geom.Vec3
}

func (s *vertexSet) indexOf(p geom.Vec3) (int, bool) {
	for i, v := range s.positions {
		if v.Sub(p).Len() <= vertexTolerance {
			return i, true
		}
	}
	return 0, false
}

func (s *vertexSet) add(p geom.Vec3) int {
	if i, ok := s.indexOf(p); ok {
		return i
	}
	s.positions = append(s.positions, p)
	return len(s.positions) - 1
}

// BuildBeamLattice canonicalizes beams and balls into a shared vertex
// list and the index-based beam/ball entries the 3MF beam lattice
// extension expects.
func BuildBeamLattice(beams []primitive.BeamData, balls []primitive.BallData, ballMode BallMode) BeamLattice {
	vs := &vertexSet{}

	beamEntries := make([]BeamEntry, 0, len(beams))
	for _, b := range beams {
		i0 := vs.add(b.StartPos)
		i1 := vs.add(b.EndPos)
		beamEntries = append(beamEntries, BeamEntry{
			Indices:  [2]int{i0, i1},
			Radii:    [2]float32{b.StartRadius, b.EndRadius},
			CapModes: [2]primitive.CapStyle{b.StartCap, b.EndCap},
		})
	}

	var ballEntries []BallEntry
	switch ballMode {
	case BallModeNone:
		// No ball entries, ever.
	case BallModeMixed:
		for _, ball := range balls {
			if idx, ok := vs.indexOf(ball.Position); ok {
				ballEntries = append(ballEntries, BallEntry{Index: idx, Radius: ball.Radius})
			}
		}
	case BallModeAll:
		for _, ball := range balls {
			idx := vs.add(ball.Position)
			ballEntries = append(ballEntries, BallEntry{Index: idx, Radius: ball.Radius})
		}
	}

	return BeamLattice{Vertices: vs.positions, Beams: beamEntries, Balls: ballEntries}
}

// XML element shapes for the beam lattice block. Field tags follow
// the declarative, one-struct-per-element style gltf.go uses for its
// JSON schema, generalized here to XML attributes since 3MF is a
// zipped-XML format rather than JSON.

type xmlVertex struct {
	X float32 `xml:"x,attr"`
	Y float32 `xml:"y,attr"`
	Z float32 `xml:"z,attr"`
}

type xmlVertices struct {
	Vertex []xmlVertex `xml:"vertex"`
}

type xmlBeam struct {
	V1    int `xml:"v1,attr"`
	V2    int `xml:"v2,attr"`
	R1    float32 `xml:"r1,attr"`
	R2    float32 `xml:"r2,attr"`
	Cap1  int `xml:"cap1,attr"`
	Cap2  int `xml:"cap2,attr"`
}

type xmlBeams struct {
	Beam []xmlBeam `xml:"beam"`
}

type xmlBall struct {
	VIndex int     `xml:"vindex,attr"`
	R      float32 `xml:"r,attr"`
}

type xmlBalls struct {
	Ball []xmlBall `xml:"ball"`
}

// xmlBeamLattice is the <beamlattice> element attached to a 3MF mesh
// object. ballMode is recorded as an attribute so a downstream
// container writer can place this block without re-deriving it.
type xmlBeamLattice struct {
	XMLName  xml.Name    `xml:"beamlattice"`
	BallMode string      `xml:"ballmode,attr,omitempty"`
	Vertices xmlVertices `xml:"vertices"`
	Beams    xmlBeams    `xml:"beams"`
	Balls    *xmlBalls   `xml:"balls,omitempty"`
}

func (m BallMode) String() string {
	switch m {
	case BallModeMixed:
		return "mixed"
	case BallModeAll:
		return "all"
	default:
		return "none"
	}
}

// Marshal renders l as the <beamlattice> XML block 3MF attaches to a
// mesh object. It does not wrap the block in a 3MF package, model, or
// mesh element: that composition happens outside this package.
func Marshal(l BeamLattice, ballMode BallMode) ([]byte, error) {
	elem := xmlBeamLattice{
		BallMode: ballMode.String(),
	}
	for _, v := range l.Vertices {
		elem.Vertices.Vertex = append(elem.Vertices.Vertex, xmlVertex{X: v.X(), Y: v.Y(), Z: v.Z()})
	}
	for _, b := range l.Beams {
		elem.Beams.Beam = append(elem.Beams.Beam, xmlBeam{
			V1: b.Indices[0], V2: b.Indices[1],
			R1: b.Radii[0], R2: b.Radii[1],
			Cap1: int(b.CapModes[0]), Cap2: int(b.CapModes[1]),
		})
	}
	if len(l.Balls) > 0 {
		balls := &xmlBalls{}
		for _, b := range l.Balls {
			balls.Ball = append(balls.Ball, xmlBall{VIndex: b.Index, R: b.Radius})
		}
		elem.Balls = balls
	}
	return xml.MarshalIndent(elem, "", "  ")
}
