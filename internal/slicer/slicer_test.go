package slicer

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/cliformat"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/slicepyramid"
)

func sphereEval(radius float32) func(geom.Vec3) float32 {
	return func(p geom.Vec3) float32 {
		return float32(math.Sqrt(float64(p.X()*p.X()+p.Y()*p.Y()+p.Z()*p.Z()))) - radius
	}
}

func sphereParams() slicepyramid.Params {
	return slicepyramid.Params{
		ClipMin:      geom.Vec2{-6, -6},
		ClipMax:      geom.Vec2{6, 6},
		SuperSample:  0.3,
		Iso:          0,
		GridCellSize: 0.5,
	}
}

func TestSliceLayerOnEquatorProducesOneOuterContour(t *testing.T) {
	eval := sphereEval(5)
	result, err := SliceLayer(eval, 0, 1, sphereParams(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Polylines)

	foundOuter := false
	for _, pl := range result.Polylines {
		if pl.Direction != cliformat.DirectionOuter {
			continue
		}
		foundOuter = true
		for _, p := range pl.Points {
			r := float32(math.Sqrt(float64(p.X()*p.X() + p.Y()*p.Y())))
			require.InDelta(t, 5.0, r, 1.0)
		}
	}
	require.True(t, foundOuter, "slicing a sphere's equator must yield at least one outer contour")
}

func TestSliceLayerOutsideSphereProducesNoContour(t *testing.T) {
	eval := sphereEval(5)
	result, err := SliceLayer(eval, 10, 1, sphereParams(), nil)
	require.NoError(t, err)
	require.Empty(t, result.Polylines)
}

func TestSliceLayerFeedsForwardPreviousDistanceForUnion(t *testing.T) {
	eval := sphereEval(5)
	first, err := SliceLayer(eval, 0, 1, sphereParams(), nil)
	require.NoError(t, err)

	second, err := SliceLayer(eval, 0.1, 1, sphereParams(), first.Pyramid.JFADistance)
	require.NoError(t, err)
	require.NotEmpty(t, second.Polylines)
}

func TestDownSkinAndUpSkinDistanceAgreeForSphereAtCenter(t *testing.T) {
	eval := sphereEval(5)
	clipMin := geom.Vec2{-0.5, -0.5}
	pixelSize := geom.Vec2{1, 1}

	down := DownSkinDistance(eval, 0, clipMin, pixelSize, 1, 1, 0, 0.05, 20)
	up := UpSkinDistance(eval, 0, clipMin, pixelSize, 1, 1, 0, 0.05, 20)
	require.InDelta(t, 5.0, down[0], 0.2)
	require.InDelta(t, 5.0, up[0], 0.2)
}

func TestDownSkinDistanceReportsMaxWhenNoSurfaceWithinRange(t *testing.T) {
	eval := sphereEval(5)
	clipMin := geom.Vec2{-0.5, -0.5}
	pixelSize := geom.Vec2{1, 1}
	down := DownSkinDistance(eval, 100, clipMin, pixelSize, 1, 1, 0, 0.1, 2)
	require.Equal(t, float32(2), down[0])
}

func TestMovePointsToSurfaceConvergesOntoSphere(t *testing.T) {
	eval := sphereEval(5)
	pts := []geom.Vec3{{7, 0, 0}, {0, 3, 0}}
	out := MovePointsToSurface(eval, pts)
	for _, p := range out {
		r := float32(math.Sqrt(float64(p.X()*p.X() + p.Y()*p.Y() + p.Z()*p.Z())))
		require.InDelta(t, 5.0, r, 0.05)
	}
}

func TestAdoptVertexOfMeshToSurfaceDelegatesToMovePointsToSurface(t *testing.T) {
	eval := sphereEval(5)
	pts := []geom.Vec3{{7, 0, 0}}
	require.Equal(t, MovePointsToSurface(eval, pts), AdoptVertexOfMeshToSurface(eval, pts))
}

func TestAdoptVertexPositions2dMovesPointsTowardCircle(t *testing.T) {
	circleEval := func(p geom.Vec2) float32 {
		return float32(math.Sqrt(float64(p.X()*p.X()+p.Y()*p.Y()))) - 3
	}
	pts := []geom.Vec2{{5, 0}, {0, 4}}
	out := AdoptVertexPositions2d(circleEval, pts, 0)
	for i, p := range out {
		r := float32(math.Sqrt(float64(p.X()*p.X() + p.Y()*p.Y())))
		before := float32(math.Sqrt(float64(pts[i].X()*pts[i].X() + pts[i].Y()*pts[i].Y())))
		require.Less(t, absDiff(r, 3), absDiff(before, 3), "smoothing must move points closer to the iso circle")
	}
}

func absDiff(a, b float32) float32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestSliceModelRejectsNonPositiveLayerHeight(t *testing.T) {
	var buf bytes.Buffer
	err := SliceModel(&buf, ModelParams{Eval3: sphereEval(5), MinZ: -5, MaxZ: 5, LayerHeight: 0}, 1)
	require.Error(t, err)
}

func TestSliceModelProducesWellFormedMultiLayerFile(t *testing.T) {
	var buf bytes.Buffer
	mp := ModelParams{
		Eval3:         sphereEval(5),
		MinZ:          -4,
		MaxZ:          4,
		LayerHeight:   2,
		ModelID:       1,
		PyramidParams: sphereParams(),
	}
	require.NoError(t, SliceModel(&buf, mp, 1))
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "$$HEADERSTART"))
	require.Contains(t, out, "$$GEOMETRYSTART")
	require.Contains(t, out, "$$LAYER/")
	require.Contains(t, out, "$$GEOMETRYEND")
}
