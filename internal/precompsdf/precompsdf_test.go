package precompsdf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/geom"
)

func sphereEval(radius float32) Evaluator {
	return func(p geom.Vec3) float32 {
		return p.Len() - radius
	}
}

func TestNewDummyIsDisabledSingleVoxel(t *testing.T) {
	v := NewDummy()
	require.False(t, v.Enabled)
	require.Equal(t, 1, v.Resolution)
	require.Len(t, v.Data, 1)
}

func TestPrecomputeRejectsNonPositiveResolution(t *testing.T) {
	_, err := Precompute(sphereEval(1), geom.Box{Min: geom.Vec3{-1, -1, -1}, Max: geom.Vec3{1, 1, 1}}, 0)
	require.Error(t, err)
}

func TestPrecomputeCubifiesBBox(t *testing.T) {
	box := geom.Box{Min: geom.Vec3{-1, -2, -1}, Max: geom.Vec3{1, 2, 1}}
	v, err := Precompute(sphereEval(1), box, 8)
	require.NoError(t, err)
	size := v.BBox.Max.Sub(v.BBox.Min)
	require.InDelta(t, size.X(), size.Y(), 1e-5)
	require.InDelta(t, size.Y(), size.Z(), 1e-5)
}

func TestPrecomputeEnclosesSampledVolume(t *testing.T) {
	box := geom.Box{Min: geom.Vec3{-2, -2, -2}, Max: geom.Vec3{2, 2, 2}}
	v, err := Precompute(sphereEval(1.5), box, 16)
	require.NoError(t, err)
	require.True(t, v.BBox.Min.X() <= box.Min.X())
	require.True(t, v.BBox.Max.X() >= box.Max.X())
}

func TestSampleOutsideBBoxReportsNotOk(t *testing.T) {
	box := geom.Box{Min: geom.Vec3{-1, -1, -1}, Max: geom.Vec3{1, 1, 1}}
	v, err := Precompute(sphereEval(1), box, 8)
	require.NoError(t, err)
	_, ok := v.Sample(geom.Vec3{100, 100, 100}, true)
	require.False(t, ok)
}

func TestSampleNearSurfaceApproximatesZero(t *testing.T) {
	box := geom.Box{Min: geom.Vec3{-2, -2, -2}, Max: geom.Vec3{2, 2, 2}}
	v, err := Precompute(sphereEval(1), box, 64)
	require.NoError(t, err)
	value, ok := v.Sample(geom.Vec3{1, 0, 0}, true)
	require.True(t, ok)
	require.InDelta(t, 0, value, 0.1)
}

func TestSampleNearestVsInterpolatedDiffer(t *testing.T) {
	box := geom.Box{Min: geom.Vec3{-2, -2, -2}, Max: geom.Vec3{2, 2, 2}}
	v, err := Precompute(sphereEval(1), box, 8)
	require.NoError(t, err)
	p := geom.Vec3{0.37, 0.11, -0.22}
	nearest, ok1 := v.Sample(p, false)
	interp, ok2 := v.Sample(p, true)
	require.True(t, ok1)
	require.True(t, ok2)
	require.NotEqual(t, nearest, interp)
}

func TestDummyVolumeNeverReturnsOk(t *testing.T) {
	v := NewDummy()
	_, ok := v.Sample(geom.Vec3{0, 0, 0}, true)
	require.False(t, ok)
}
