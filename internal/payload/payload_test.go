package payload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/bvh"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

func TestAddRejectsInvertedMeta(t *testing.T) {
	p := &Primitives{}
	bad := Primitives{Meta: []primitive.Meta{{Type: primitive.TypeBeam, Start: 5, End: 2}}, Data: []float32{1, 2, 3}}
	err := p.Add(bad)
	require.Error(t, err)
	require.Empty(t, p.Data)
	require.Empty(t, p.Meta)
}

func TestAddShiftsMetaByCurrentDataSize(t *testing.T) {
	p := &Primitives{Data: []float32{1, 2, 3, 4}}
	incoming := Primitives{Meta: []primitive.Meta{{Type: primitive.TypeBall, Start: 0, End: 2}}, Data: []float32{5, 6}}
	require.NoError(t, p.Add(incoming))
	require.Equal(t, 4, p.Meta[0].Start)
	require.Equal(t, 6, p.Meta[0].End)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, p.Data)
}

func TestAddPreservesDataSizeSum(t *testing.T) {
	p := &Primitives{}
	a := Primitives{Meta: []primitive.Meta{{Type: primitive.TypeBeam, Start: 0, End: 3}}, Data: []float32{1, 2, 3}}
	b := Primitives{Meta: []primitive.Meta{{Type: primitive.TypeBall, Start: 0, End: 2}}, Data: []float32{4, 5}}
	require.NoError(t, p.Add(a))
	require.NoError(t, p.Add(b))
	require.Len(t, p.Data, 5)
	for _, m := range p.Meta {
		require.True(t, m.Start >= 0 && m.End <= len(p.Data))
	}
}

func TestPackBeamLatticeProducesRootThenSections(t *testing.T) {
	beams := []primitive.BeamData{
		{StartPos: v3(0, 0, 0), EndPos: v3(1, 0, 0), StartRadius: 0.5, EndRadius: 0.5},
	}
	balls := []primitive.BallData{{Position: v3(2, 0, 0), Radius: 0.3}}
	tree := bvh.Build(beams, balls, bvh.DefaultParams())

	p := PackBeamLattice(tree, beams, balls)
	require.Equal(t, primitive.TypeBeamLatticeRoot, p.Meta[0].Type)
	require.Equal(t, 0, p.Meta[0].Start)
	require.Equal(t, len(p.Data), p.Meta[0].End)

	var sawBeam, sawBall bool
	for _, m := range p.Meta {
		if m.Type == primitive.TypeBeam {
			sawBeam = true
		}
		if m.Type == primitive.TypeBall {
			sawBall = true
		}
	}
	require.True(t, sawBeam)
	require.True(t, sawBall)
}

func TestPackMeshSingleTriangleIsLeafRoot(t *testing.T) {
	tris := []Triangle{{V0: v3(0, 0, 0), V1: v3(1, 0, 0), V2: v3(0, 1, 0)}}
	p := PackMesh(tris)
	require.Equal(t, primitive.TypeMeshKDRoot, p.Meta[0].Type)

	var sawTriangles bool
	for _, m := range p.Meta {
		if m.Type == primitive.TypeMeshTriangles {
			sawTriangles = true
			require.Equal(t, 9, m.End-m.Start)
		}
	}
	require.True(t, sawTriangles)
}

func TestPackMeshManyTrianglesSplitsIntoInternalNodes(t *testing.T) {
	var tris []Triangle
	for i := 0; i < 20; i++ {
		off := float32(i)
		tris = append(tris, Triangle{V0: v3(off, 0, 0), V1: v3(off+1, 0, 0), V2: v3(off, 1, 0)})
	}
	p := PackMesh(tris)

	var sawInternal bool
	triCount := 0
	for _, m := range p.Meta {
		if m.Type == primitive.TypeMeshKDInternal {
			sawInternal = true
		}
		if m.Type == primitive.TypeMeshTriangles {
			triCount = (m.End - m.Start) / 9
		}
	}
	require.True(t, sawInternal)
	require.Equal(t, 20, triCount)
}

func TestPackVDBTagsRequestedClass(t *testing.T) {
	p := PackVDB([]float32{1, 2, 3}, VDBGrayscale8)
	require.Equal(t, primitive.TypeVDBGrayscale8, p.Meta[0].Type)
	require.Equal(t, []float32{1, 2, 3}, p.Data)
}

func TestPackImageStackConcatenatesLayers(t *testing.T) {
	p := PackImageStack([][]float32{{1, 2}, {3, 4, 5}})
	require.Equal(t, primitive.TypeImageStack, p.Meta[0].Type)
	require.Equal(t, []float32{1, 2, 3, 4, 5}, p.Data)
}

func v3(x, y, z float32) geom.Vec3 {
	return geom.Vec3{x, y, z}
}
