package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	compiles int
	fail     bool
}

func (f *fakeCompiler) Compile(ctx context.Context, fullSource string, mode Mode) (Binary, error) {
	f.compiles++
	if f.fail {
		return nil, errors.New("boom")
	}
	return fullSource, nil
}

func baseSource() Source {
	return Source{
		LibrarySources: []string{"lib A", "lib B"},
		DynamicSource:  "dyn",
		Device:         "cpu-test",
	}
}

func TestNewProgramStartsIdle(t *testing.T) {
	p := NewProgram(&fakeCompiler{})
	require.Equal(t, StateIdle, p.State())
	require.False(t, p.Valid())
}

func TestRecompileTransitionsToValid(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	err := p.Recompile(context.Background(), baseSource(), ModeFull)
	require.NoError(t, err)
	require.True(t, p.Valid())
	require.Equal(t, 1, c.compiles)
}

func TestRecompileWithSameKeySkipsCompile(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	src := baseSource()
	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))
	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))
	require.Equal(t, 1, c.compiles)
}

func TestRecompileWithDifferentSourceRecompiles(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	src := baseSource()
	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))

	src2 := src
	src2.DynamicSource = "dyn2"
	require.NoError(t, p.Recompile(context.Background(), src2, ModeFull))
	require.Equal(t, 2, c.compiles)
}

func TestRecompileFailureGoesInvalid(t *testing.T) {
	c := &fakeCompiler{fail: true}
	p := NewProgram(c)
	err := p.Recompile(context.Background(), baseSource(), ModeFull)
	require.Error(t, err)
	require.Equal(t, StateInvalid, p.State())
}

func TestInvalidateForcesRecompileEvenWithSameKey(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	src := baseSource()
	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))
	p.Invalidate()
	require.Equal(t, StateInvalid, p.State())

	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))
	require.Equal(t, 2, c.compiles)
}

func TestHistoryReturnsToPriorSourceWithoutRecompiling(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	srcA := baseSource()
	srcB := srcA
	srcB.DynamicSource = "dynB"

	require.NoError(t, p.Recompile(context.Background(), srcA, ModeFull))
	require.NoError(t, p.Recompile(context.Background(), srcB, ModeFull))
	require.Equal(t, 2, c.compiles)

	require.NoError(t, p.Recompile(context.Background(), srcA, ModeFull))
	require.Equal(t, 2, c.compiles, "returning to a previously compiled source should hit the history cache")
}

func TestDispatchIsNoopWhenNotValid(t *testing.T) {
	p := NewProgram(&fakeCompiler{})
	called := false
	err := p.Dispatch(context.Background(), "evaluate", [3]int{0, 0, 0}, [3]int{1, 1, 1}, func(k *Kernel, origin, rangeSize [3]int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}

func TestDispatchRunsAndCachesKernelObjectWhenValid(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	require.NoError(t, p.Recompile(context.Background(), baseSource(), ModeFull))

	var seen []*Kernel
	run := func(k *Kernel, origin, rangeSize [3]int) error {
		seen = append(seen, k)
		return nil
	}
	require.NoError(t, p.Dispatch(context.Background(), "evaluate", [3]int{}, [3]int{8, 8, 8}, run))
	require.NoError(t, p.Dispatch(context.Background(), "evaluate", [3]int{}, [3]int{8, 8, 8}, run))
	require.Len(t, seen, 2)
	require.Same(t, seen[0], seen[1], "same kernel name should reuse the cached kernel object")
}

func TestRecompileClearsKernelCache(t *testing.T) {
	c := &fakeCompiler{}
	p := NewProgram(c)
	src := baseSource()
	require.NoError(t, p.Recompile(context.Background(), src, ModeFull))

	var first *Kernel
	require.NoError(t, p.Dispatch(context.Background(), "evaluate", [3]int{}, [3]int{1, 1, 1}, func(k *Kernel, o, r [3]int) error {
		first = k
		return nil
	}))

	src2 := src
	src2.DynamicSource = "changed"
	require.NoError(t, p.Recompile(context.Background(), src2, ModeFull))

	var second *Kernel
	require.NoError(t, p.Dispatch(context.Background(), "evaluate", [3]int{}, [3]int{1, 1, 1}, func(k *Kernel, o, r [3]int) error {
		second = k
		return nil
	}))
	require.NotSame(t, first, second)
}

func TestRecompileAsyncAndFinishCompilation(t *testing.T) {
	p := NewProgram(&fakeCompiler{})
	done := p.RecompileAsync(context.Background(), baseSource(), ModeFull)
	err := FinishCompilation(context.Background(), done)
	require.NoError(t, err)
	require.True(t, p.Valid())
}

func TestFinishCompilationRespectsCancellation(t *testing.T) {
	done := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FinishCompilation(ctx, done)
	require.Error(t, err)
}

func TestFullSourceAppliesReplacementsDeterministically(t *testing.T) {
	src := Source{
		LibrarySources: []string{"float evaluate(vec3 p) { return __BODY__; }"},
		DynamicSource:  "",
		Replacements:   map[string]string{"__BODY__": "length(p) - 1.0"},
	}
	full := src.FullSource()
	require.Contains(t, full, "length(p) - 1.0")
	require.NotContains(t, full, "__BODY__")
}

func TestHashKeyChangesWithDevice(t *testing.T) {
	a := baseSource()
	b := baseSource()
	b.Device = "gpu-test"
	require.NotEqual(t, hashKey(a), hashKey(b))
}

func TestHashKeyStableAcrossReplacementMapOrdering(t *testing.T) {
	a := baseSource()
	a.Replacements = map[string]string{"X": "1", "Y": "2"}
	b := baseSource()
	b.Replacements = map[string]string{"Y": "2", "X": "1"}
	require.Equal(t, hashKey(a), hashKey(b))
}
