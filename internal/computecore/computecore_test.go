package computecore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/kernel"
	"github.com/gladius-go/slicer/internal/resource"
)

type fakeCompiler struct{ fail bool }

func (f *fakeCompiler) Compile(ctx context.Context, fullSource string, mode kernel.Mode) (kernel.Binary, error) {
	if f.fail {
		return nil, errors.New("boom")
	}
	return fullSource, nil
}

type fakeFinisher struct {
	mu     sync.Mutex
	calls  int
	failOn bool
}

func (f *fakeFinisher) Finish() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn {
		return errors.New("device lost")
	}
	return nil
}

func newTestCore() (*Core, *fakeFinisher) {
	front := kernel.NewProgram(&fakeCompiler{})
	back := kernel.NewProgram(&fakeCompiler{})
	fin := &fakeFinisher{}
	return NewCore(fin, front, back, resource.NewManager()), fin
}

func TestRequestComputeTokenReturnsNilWhenAlreadyHeld(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	require.NotNil(t, tok)
	require.Nil(t, c.RequestComputeToken())
	tok.Release()
	require.NotNil(t, c.RequestComputeToken())
}

func TestWaitForComputeTokenBlocksUntilReleased(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	require.NotNil(t, tok)

	acquired := make(chan struct{})
	go func() {
		t2, err := c.WaitForComputeToken(context.Background())
		require.NoError(t, err)
		t2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("WaitForComputeToken returned before the held token was released")
	case <-time.After(30 * time.Millisecond):
	}

	tok.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("WaitForComputeToken never unblocked after release")
	}
}

func TestWaitForComputeTokenRespectsCancellation(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	require.NotNil(t, tok)
	defer tok.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.WaitForComputeToken(ctx)
	require.Error(t, err)
}

func TestNestedTokenSharesHoldAndReleasesOnlyOnLastRelease(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	nested := tok.Nested()

	tok.Release()
	require.Nil(t, c.RequestComputeToken(), "core must still be held after only the outer release")

	nested.Release()
	require.NotNil(t, c.RequestComputeToken())
}

func TestDispatchAndResourcesRequireAToken(t *testing.T) {
	c, _ := newTestCore()
	err := c.Dispatch(context.Background(), nil, "k", [3]int{}, [3]int{}, nil)
	require.Error(t, err)

	_, err = c.Resources(nil)
	require.Error(t, err)
}

func TestDispatchRejectsTokenFromAnotherCore(t *testing.T) {
	c1, _ := newTestCore()
	c2, _ := newTestCore()
	tok := c1.RequestComputeToken()
	defer tok.Release()

	_, err := c2.FrontProgram(tok)
	require.Error(t, err)
}

func TestSwapProgramsFinishesQueueBeforeSwapping(t *testing.T) {
	c, fin := newTestCore()
	tok := c.RequestComputeToken()
	defer tok.Release()

	before, err := c.FrontProgram(tok)
	require.NoError(t, err)

	require.NoError(t, c.SwapPrograms(tok))
	require.Equal(t, 1, fin.calls)

	after, err := c.FrontProgram(tok)
	require.NoError(t, err)
	require.NotSame(t, before, after)
}

func TestSwapProgramsPropagatesFinishError(t *testing.T) {
	c, fin := newTestCore()
	fin.failOn = true
	tok := c.RequestComputeToken()
	defer tok.Release()
	require.Error(t, c.SwapPrograms(tok))
}

func TestSetAndGetDirtyNeedsTokenOnlyToSet(t *testing.T) {
	c, _ := newTestCore()
	require.False(t, c.Dirty())

	tok := c.RequestComputeToken()
	require.NoError(t, c.SetDirty(tok, true))
	tok.Release()

	require.True(t, c.Dirty())
	require.Error(t, c.SetDirty(nil, false))
}

func TestRenderProgressRoundTrips(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	defer tok.Release()

	require.NoError(t, c.SetRenderProgress(tok, RenderProgress{CurrentLine: 42, RenderingStepSize: 4, IsMoving: true}))
	p := c.RenderProgress()
	require.Equal(t, 42, p.CurrentLine)
	require.Equal(t, 4, p.RenderingStepSize)
	require.True(t, p.IsMoving)
}

func TestPreCompSdfVolumeStartsAsDummyAndCanBeReplaced(t *testing.T) {
	c, _ := newTestCore()
	tok := c.RequestComputeToken()
	defer tok.Release()

	vol, err := c.PreCompSdfVolume(tok)
	require.NoError(t, err)
	require.False(t, vol.Enabled)

	require.NoError(t, c.SetPreCompSdfVolume(tok, nil))
	vol2, err := c.PreCompSdfVolume(tok)
	require.NoError(t, err)
	require.Nil(t, vol2)
}
