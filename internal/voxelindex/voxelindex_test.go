package voxelindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

func defaultSettings() Settings {
	return Settings{VoxelSize: 1.0, MaxDistance: 3.0}
}

func TestEmptyInputYieldsNilGrids(t *testing.T) {
	res, err := BuildSerial(nil, nil, defaultSettings())
	require.NoError(t, err)
	require.Nil(t, res.IndexGrid)
	require.Nil(t, res.TypeGrid)
}

func TestInvalidVoxelSizeIsRejected(t *testing.T) {
	_, err := BuildSerial([]primitive.BeamData{{EndPos: geom.Vec3{1, 0, 0}}}, nil, Settings{VoxelSize: 0})
	require.Error(t, err)
}

func TestSingleBallProducesActiveVoxelsNearCenter(t *testing.T) {
	balls := []primitive.BallData{{Position: geom.Vec3{0, 0, 0}, Radius: 1}}
	res, err := BuildSerial(nil, balls, defaultSettings())
	require.NoError(t, err)
	require.NotNil(t, res.IndexGrid)
	require.NotEmpty(t, res.IndexGrid.Index)

	center := Coord{X: 0, Y: 0, Z: 0}
	_, ok := res.IndexGrid.Index[center]
	require.True(t, ok, "voxel at the ball center must be active")
}

func TestInactiveVoxelsBeyondMaxDistanceAreAbsent(t *testing.T) {
	balls := []primitive.BallData{{Position: geom.Vec3{0, 0, 0}, Radius: 1}}
	s := Settings{VoxelSize: 1.0, MaxDistance: 0.5}
	res, err := BuildSerial(nil, balls, s)
	require.NoError(t, err)

	far := Coord{X: 100, Y: 100, Z: 100}
	_, ok := res.IndexGrid.Index[far]
	require.False(t, ok)
}

func TestSeparateGridsPopulateBothMaps(t *testing.T) {
	beams := []primitive.BeamData{{StartPos: geom.Vec3{-5, 0, 0}, EndPos: geom.Vec3{-4, 0, 0}, StartRadius: 0.5, EndRadius: 0.5}}
	balls := []primitive.BallData{{Position: geom.Vec3{5, 0, 0}, Radius: 0.5}}
	s := Settings{VoxelSize: 1.0, MaxDistance: 1.0, SeparateBeamBallGrids: true}
	res, err := BuildSerial(beams, balls, s)
	require.NoError(t, err)
	require.NotNil(t, res.TypeGrid)

	var sawBeam, sawBall bool
	for _, v := range res.TypeGrid.Type {
		if v == TypeBeam {
			sawBeam = true
		}
		if v == TypeBall {
			sawBall = true
		}
	}
	require.True(t, sawBeam)
	require.True(t, sawBall)
}

func TestEncodeTypeInIndexUsesSignBit(t *testing.T) {
	balls := []primitive.BallData{{Position: geom.Vec3{0, 0, 0}, Radius: 1}}
	s := Settings{VoxelSize: 1.0, MaxDistance: 3.0, EncodeTypeInIndex: true}
	res, err := BuildSerial(nil, balls, s)
	require.NoError(t, err)

	for _, v := range res.IndexGrid.Index {
		require.Less(t, v, int32(0), "ball-only scene with EncodeTypeInIndex must write negative indices")
	}
}

func TestTieBreakPrefersBeamsThenCallerOrder(t *testing.T) {
	// Two beams exactly equidistant from a query point placed between them;
	// the earlier beam (index 0) must win.
	beams := []primitive.BeamData{
		{StartPos: geom.Vec3{-1, 0, 0}, EndPos: geom.Vec3{-1, 1, 0}, StartRadius: 0.1, EndRadius: 0.1},
		{StartPos: geom.Vec3{1, 0, 0}, EndPos: geom.Vec3{1, 1, 0}, StartRadius: 0.1, EndRadius: 0.1},
	}
	kind, idx, _, ok := closestPrimitive(geom.Vec3{0, 0.5, 0}, beams, []geom.Box{beams[0].Bounds(), beams[1].Bounds()}, nil, nil, 10)
	require.True(t, ok)
	require.Equal(t, primitive.KindBeam, kind)
	require.Equal(t, 0, idx)
}

func TestEstimateCellCountMatchesActualRange(t *testing.T) {
	b := geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{10, 10, 10}}
	s := Settings{VoxelSize: 1.0, MaxDistance: 0}
	n := EstimateCellCount(b, s)
	require.Greater(t, n, int64(0))
}

func TestDistanceToBeamMidSegment(t *testing.T) {
	b := primitive.BeamData{StartPos: geom.Vec3{0, 0, 0}, EndPos: geom.Vec3{10, 0, 0}, StartRadius: 1, EndRadius: 1}
	d := DistanceToBeam(geom.Vec3{5, 3, 0}, b)
	require.InDelta(t, 2.0, d, 1e-5)
}

func TestDistanceToBeamDegenerateIsBall(t *testing.T) {
	b := primitive.BeamData{StartPos: geom.Vec3{0, 0, 0}, EndPos: geom.Vec3{0, 0, 0}, StartRadius: 1, EndRadius: 2}
	d := DistanceToBeam(geom.Vec3{5, 0, 0}, b)
	require.InDelta(t, 3.0, d, 1e-5)
}

func TestBuildParallelAgreesWithSerialWithinTolerance(t *testing.T) {
	beams := []primitive.BeamData{
		{StartPos: geom.Vec3{-5, 0, 0}, EndPos: geom.Vec3{5, 0, 0}, StartRadius: 0.5, EndRadius: 1.0},
		{StartPos: geom.Vec3{0, -5, 2}, EndPos: geom.Vec3{0, 5, 2}, StartRadius: 0.3, EndRadius: 0.3},
	}
	balls := []primitive.BallData{
		{Position: geom.Vec3{3, 3, 3}, Radius: 1.2},
	}
	s := Settings{VoxelSize: 1.0, MaxDistance: 2.0}

	serial, err := BuildSerial(beams, balls, s)
	require.NoError(t, err)
	parallel, err := BuildParallel(beams, balls, s)
	require.NoError(t, err)

	require.Equal(t, len(serial.IndexGrid.Index), len(parallel.IndexGrid.Index))
	for c, v := range serial.IndexGrid.Index {
		pv, ok := parallel.IndexGrid.Index[c]
		require.True(t, ok, "parallel builder missing voxel %+v present in serial", c)
		require.Equal(t, v, pv, "mismatched winning primitive at %+v", c)
	}
}
