package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/payload"
	"github.com/gladius-go/slicer/internal/primitive"
)

func constSource(data []float32) Source {
	return func() (payload.Primitives, error) {
		return payload.Primitives{
			Meta: []primitive.Meta{{Type: primitive.TypeBall, Start: 0, End: len(data)}},
			Data: data,
		}, nil
	}
}

func TestAddResourceIsNoopWhenKeyExists(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	calls := 0
	m.AddResource(key, func() (payload.Primitives, error) { calls++; return payload.Primitives{}, nil })
	m.AddResource(key, func() (payload.Primitives, error) { calls++; return payload.Primitives{}, nil })
	require.NoError(t, m.LoadResources())
	require.Equal(t, 1, calls)
}

func TestLoadResourcesIsIdempotent(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	calls := 0
	m.AddResource(key, func() (payload.Primitives, error) {
		calls++
		return payload.Primitives{Data: []float32{1}}, nil
	})
	require.NoError(t, m.LoadResources())
	require.NoError(t, m.LoadResources())
	require.Equal(t, 1, calls)
}

func TestLoadResourcesSkipsNotInUse(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	calls := 0
	m.AddResource(key, func() (payload.Primitives, error) { calls++; return payload.Primitives{}, nil })
	m.SetInUse(key, false)
	require.NoError(t, m.LoadResources())
	require.Equal(t, 0, calls)
}

func TestLoadResourcesPropagatesSourceError(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, func() (payload.Primitives, error) { return payload.Primitives{}, errors.New("boom") })
	err := m.LoadResources()
	require.Error(t, err)
}

func TestWriteResourcesSplicesInInsertionOrderAndRecordsRange(t *testing.T) {
	m := NewManager()
	k1, k2 := NewResourceKey(), NewResourceKey()
	m.AddResource(k1, constSource([]float32{1, 2}))
	m.AddResource(k2, constSource([]float32{3, 4, 5}))
	require.NoError(t, m.LoadResources())

	var p payload.Primitives
	require.NoError(t, m.WriteResources(&p))
	require.Equal(t, []float32{1, 2, 3, 4, 5}, p.Data)

	s1, e1, ok1 := m.Range(k1)
	require.True(t, ok1)
	require.Equal(t, 0, s1)
	require.Equal(t, 2, e1)

	s2, e2, ok2 := m.Range(k2)
	require.True(t, ok2)
	require.Equal(t, 2, s2)
	require.Equal(t, 5, e2)
}

func TestWriteResourcesClearsDirtyFlag(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	require.True(t, m.Dirty())
	require.NoError(t, m.LoadResources())
	var p payload.Primitives
	require.NoError(t, m.WriteResources(&p))
	require.False(t, m.Dirty())
}

func TestDeleteResourceMarksDirtyAndRemovesEntry(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	require.NoError(t, m.LoadResources())
	var p payload.Primitives
	require.NoError(t, m.WriteResources(&p))
	require.False(t, m.Dirty())

	require.NoError(t, m.DeleteResource(key))
	require.True(t, m.Dirty())
	_, _, ok := m.Range(key)
	require.False(t, ok)
}

func TestDeleteResourceUnknownKeyErrors(t *testing.T) {
	m := NewManager()
	err := m.DeleteResource(NewResourceKey())
	require.Error(t, err)
}

func TestClearResetsEverything(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	m.Clear()
	require.NoError(t, m.LoadResources())
	var p payload.Primitives
	require.NoError(t, m.WriteResources(&p))
	require.Empty(t, p.Data)
}

func TestSafeToDeleteReportsBuildItemBlocker(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	m.ReferenceBuildItem(key)

	safe, blockers := m.SafeToDelete(key)
	require.False(t, safe)
	require.Contains(t, blockers, key)
}

func TestSafeToDeleteReportsDependentResourceBlocker(t *testing.T) {
	m := NewManager()
	base := NewResourceKey()
	dependent := NewResourceKey()
	m.AddResource(base, constSource([]float32{1}))
	m.AddResource(dependent, constSource([]float32{2}))
	m.AddReference(dependent, base)

	safe, blockers := m.SafeToDelete(base)
	require.False(t, safe)
	require.Contains(t, blockers, dependent)
}

func TestSafeToDeleteTrueWithNoBlockers(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	safe, blockers := m.SafeToDelete(key)
	require.True(t, safe)
	require.Empty(t, blockers)
}

func TestReleaseBuildItemUnblocksDeletion(t *testing.T) {
	m := NewManager()
	key := NewResourceKey()
	m.AddResource(key, constSource([]float32{1}))
	m.ReferenceBuildItem(key)
	m.ReleaseBuildItem(key)
	safe, _ := m.SafeToDelete(key)
	require.True(t, safe)
}
