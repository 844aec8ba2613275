package threemf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

func v3(x, y, z float32) geom.Vec3 { return geom.Vec3{x, y, z} }

func TestBuildBeamLatticeSharesVertexBetweenConnectedBeams(t *testing.T) {
	beams := []primitive.BeamData{
		{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0), StartRadius: 0.5, EndRadius: 0.5},
		{StartPos: v3(1, 0, 0), EndPos: v3(2, 0, 0), StartRadius: 0.5, EndRadius: 0.5},
	}
	lat := BuildBeamLattice(beams, nil, BallModeNone)

	require.Len(t, lat.Vertices, 3)
	require.Equal(t, lat.Beams[0].Indices[1], lat.Beams[1].Indices[0])
}

func TestBuildBeamLatticeDedupesWithinTolerance(t *testing.T) {
	beams := []primitive.BeamData{
		{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0)},
		{StartPos: v3(1e-9, 0, 0), EndPos: v3(2, 0, 0)},
	}
	lat := BuildBeamLattice(beams, nil, BallModeNone)
	require.Len(t, lat.Vertices, 3)
}

func TestCapModesMapDirectlyFromPrimitiveCapStyle(t *testing.T) {
	beams := []primitive.BeamData{
		{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0), StartCap: primitive.CapHemisphere, EndCap: primitive.CapButt},
	}
	lat := BuildBeamLattice(beams, nil, BallModeNone)
	require.Equal(t, primitive.CapHemisphere, lat.Beams[0].CapModes[0])
	require.Equal(t, primitive.CapButt, lat.Beams[0].CapModes[1])

	out, err := Marshal(lat, BallModeNone)
	require.NoError(t, err)
	require.Contains(t, string(out), `cap1="0"`)
	require.Contains(t, string(out), `cap2="2"`)
}

func TestBallModeNoneEmitsNoBalls(t *testing.T) {
	beams := []primitive.BeamData{{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0)}}
	balls := []primitive.BallData{{Position: v3(0, 0, 0), Radius: 1}}
	lat := BuildBeamLattice(beams, balls, BallModeNone)
	require.Empty(t, lat.Balls)
}

func TestBallModeMixedOnlyKeepsBallsAtExistingVertices(t *testing.T) {
	beams := []primitive.BeamData{{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0)}}
	balls := []primitive.BallData{
		{Position: v3(0, 0, 0), Radius: 1},  // coincides with beam endpoint
		{Position: v3(5, 5, 5), Radius: 2}, // does not
	}
	lat := BuildBeamLattice(beams, balls, BallModeMixed)
	require.Len(t, lat.Balls, 1)
	require.Len(t, lat.Vertices, 2, "mixed mode must never insert a new vertex for a ball")
	require.Equal(t, float32(1), lat.Balls[0].Radius)
}

func TestBallModeAllInsertsNewVertexForEveryBall(t *testing.T) {
	beams := []primitive.BeamData{{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0)}}
	balls := []primitive.BallData{
		{Position: v3(0, 0, 0), Radius: 1},
		{Position: v3(5, 5, 5), Radius: 2},
	}
	lat := BuildBeamLattice(beams, balls, BallModeAll)
	require.Len(t, lat.Balls, 2)
	require.Len(t, lat.Vertices, 3, "the off-beam ball must introduce a new vertex")
}

func TestMarshalProducesWellFormedBeamLatticeElement(t *testing.T) {
	beams := []primitive.BeamData{{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0), StartRadius: 0.5, EndRadius: 0.5}}
	lat := BuildBeamLattice(beams, nil, BallModeNone)
	out, err := Marshal(lat, BallModeNone)
	require.NoError(t, err)
	s := string(out)
	require.True(t, strings.HasPrefix(s, "<beamlattice"))
	require.Contains(t, s, `ballmode="none"`)
	require.Contains(t, s, "<vertex ")
	require.Contains(t, s, "<beam ")
	require.NotContains(t, s, "<balls>")
}

func TestMarshalOmitsBallsElementWhenNoBallsPresent(t *testing.T) {
	lat := BuildBeamLattice(nil, nil, BallModeNone)
	out, err := Marshal(lat, BallModeNone)
	require.NoError(t, err)
	require.NotContains(t, string(out), "balls")
}

func TestBallModeStringValues(t *testing.T) {
	require.Equal(t, "none", BallModeNone.String())
	require.Equal(t, "mixed", BallModeMixed.String())
	require.Equal(t, "all", BallModeAll.String())
}
