// Package computecore implements the ComputeCore façade spec.md §5
// describes: a single coordination point that gates every GPU
// dispatch, front/back program swap, and resource-manager mutation
// behind a compute token, and owns the render-loop state the token
// protects.
package computecore

import (
	"context"
	"sync"

	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/kernel"
	"github.com/gladius-go/slicer/internal/precompsdf"
	"github.com/gladius-go/slicer/internal/resource"
)

// Finisher blocks until every command previously submitted to the
// device queue has completed. *gpucore.Context implements this via
// Device.Poll(true, nil); tests substitute a fake.
type Finisher interface {
	Finish() error
}

// Token represents exclusive access to the compute pipeline. Go has
// no native recursive mutex, and tracking reentrancy by goroutine
// identity is fragile and not idiomatic Go, so recursion is made
// explicit instead: a function already holding a Token passes it down
// to nested calls, and a nested call that needs its own releasable
// handle asks for one via Nested rather than re-acquiring through
// WaitForComputeToken. Exactly one call path (WaitForComputeToken or
// RequestComputeToken) performs the real acquisition; every Token
// descended from it via Nested shares the same underlying hold and
// must still be Released exactly once.
type Token struct {
	core *Core
}

// Nested returns a child Token sharing this Token's hold on core,
// for code that wants its own defer Release() without re-blocking on
// an already-held Core.
func (t *Token) Nested() *Token {
	c := t.core
	c.mu.Lock()
	c.depth++
	c.mu.Unlock()
	return &Token{core: c}
}

// Release gives up this Token's share of the hold. The underlying
// Core becomes available to other callers only once every Token
// descended from the original acquisition has been released.
func (t *Token) Release() {
	c := t.core
	c.mu.Lock()
	c.depth--
	drained := c.depth <= 0
	c.mu.Unlock()
	if drained {
		<-c.sem
	}
}

// Core is the compute-pipeline façade: front/back kernel programs,
// the resource manager, the precomputed SDF volume, and the render
// loop's suspend state, all mediated by the compute token.
type Core struct {
	sem chan struct{}
	mu  sync.Mutex
	depth int

	gpu       Finisher
	front     *kernel.Program
	back      *kernel.Program
	resources *resource.Manager
	sdfVolume *precompsdf.Volume

	renderMu          sync.Mutex
	dirty             bool
	currentLine       int
	renderingStepSize int
	isMoving          bool
}

// NewCore wires a Core around an already-constructed front/back
// program pair and resource manager. The SDF volume starts as
// precompsdf.NewDummy, matching the "always a usable volume, even
// before the first precompute" invariant that package documents.
func NewCore(gpu Finisher, front, back *kernel.Program, resources *resource.Manager) *Core {
	return &Core{
		sem:               make(chan struct{}, 1),
		gpu:               gpu,
		front:             front,
		back:              back,
		resources:         resources,
		sdfVolume:         precompsdf.NewDummy(),
		renderingStepSize: 1,
	}
}

var errTokenRequired = tokenRequiredErr{}

type tokenRequiredErr struct{}

func (tokenRequiredErr) Error() string {
	return "operation requires a compute token held on this Core"
}

func (c *Core) checkToken(tok *Token) error {
	if tok == nil || tok.core != c {
		return cerrors.New(cerrors.KindOther, "computecore.Core", errTokenRequired)
	}
	return nil
}

// WaitForComputeToken blocks until the token is free (or ctx is
// canceled) and returns it held.
func (c *Core) WaitForComputeToken(ctx context.Context) (*Token, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, cerrors.New(cerrors.KindCanceled, "computecore.Core.WaitForComputeToken", ctx.Err())
	}
	c.mu.Lock()
	c.depth = 1
	c.mu.Unlock()
	return &Token{core: c}, nil
}

// RequestComputeToken returns a held Token, or nil if another caller
// already holds one. It never blocks.
func (c *Core) RequestComputeToken() *Token {
	select {
	case c.sem <- struct{}{}:
	default:
		return nil
	}
	c.mu.Lock()
	c.depth = 1
	c.mu.Unlock()
	return &Token{core: c}
}

// Dispatch runs a kernel dispatch against the front program. Requires
// a held Token, since a dispatch must not race a program swap, buffer
// resize, or resource-manager mutation.
func (c *Core) Dispatch(ctx context.Context, tok *Token, name string, origin, rangeSize [3]int,
	run func(*kernel.Kernel, [3]int, [3]int) error, args ...any) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	return c.front.Dispatch(ctx, name, origin, rangeSize, run, args...)
}

// RecompileBack recompiles the back program while the front program
// stays valid and dispatchable, the standard way to prepare a new
// kernel without interrupting in-flight rendering.
func (c *Core) RecompileBack(ctx context.Context, tok *Token, src kernel.Source, mode kernel.Mode) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	return c.back.Recompile(ctx, src, mode)
}

// SwapPrograms finishes the device queue, then exchanges the front
// and back programs, so outputs of the prior front program are
// safely readable before it stops being the dispatch target and the
// newly promoted program becomes one.
func (c *Core) SwapPrograms(tok *Token) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	if err := c.gpu.Finish(); err != nil {
		return err
	}
	c.front, c.back = c.back, c.front
	return nil
}

// FrontProgram returns the program dispatches currently target.
func (c *Core) FrontProgram(tok *Token) (*kernel.Program, error) {
	if err := c.checkToken(tok); err != nil {
		return nil, err
	}
	return c.front, nil
}

// BackProgram returns the program being prepared for the next swap.
func (c *Core) BackProgram(tok *Token) (*kernel.Program, error) {
	if err := c.checkToken(tok); err != nil {
		return nil, err
	}
	return c.back, nil
}

// Resources returns the resource manager. Requires a held Token,
// since writeResources is single-writer and must not race a dispatch
// reading the payload it produces.
func (c *Core) Resources(tok *Token) (*resource.Manager, error) {
	if err := c.checkToken(tok); err != nil {
		return nil, err
	}
	return c.resources, nil
}

// SetPreCompSdfVolume installs a newly precomputed SDF volume,
// replacing whatever the raymarcher was sampling. Requires a held
// Token: the next dispatch must see either the old volume in full or
// the new one, never a half-written one.
func (c *Core) SetPreCompSdfVolume(tok *Token, vol *precompsdf.Volume) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	c.sdfVolume = vol
	return nil
}

// PreCompSdfVolume returns the currently installed SDF volume.
// Requires a held Token for the same reason SetPreCompSdfVolume does.
func (c *Core) PreCompSdfVolume(tok *Token) (*precompsdf.Volume, error) {
	if err := c.checkToken(tok); err != nil {
		return nil, err
	}
	return c.sdfVolume, nil
}

// SetDirty marks (or clears) the render loop's suspend flag. Requires
// a held Token, matching "the render state is mutated only while a
// token is held".
func (c *Core) SetDirty(tok *Token, dirty bool) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	c.renderMu.Lock()
	c.dirty = dirty
	c.renderMu.Unlock()
	return nil
}

// Dirty reports the render loop's suspend flag. No token is required
// to read it: a progressive raymarch pass polls this between scanline
// batches to decide whether to keep going, without itself holding the
// token across the whole pass.
func (c *Core) Dirty() bool {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	return c.dirty
}

// RenderProgress is the progressive-raymarch suspend state: the next
// scanline to resume at, the batch size, and whether the camera is
// currently moving (which shrinks the batch size for responsiveness).
type RenderProgress struct {
	CurrentLine       int
	RenderingStepSize int
	IsMoving          bool
}

// SetRenderProgress updates the render loop's suspend state. Requires
// a held Token.
func (c *Core) SetRenderProgress(tok *Token, p RenderProgress) error {
	if err := c.checkToken(tok); err != nil {
		return err
	}
	c.renderMu.Lock()
	c.currentLine = p.CurrentLine
	c.renderingStepSize = p.RenderingStepSize
	c.isMoving = p.IsMoving
	c.renderMu.Unlock()
	return nil
}

// RenderProgress reports the render loop's suspend state.
func (c *Core) RenderProgress() RenderProgress {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	return RenderProgress{
		CurrentLine:       c.currentLine,
		RenderingStepSize: c.renderingStepSize,
		IsMoving:          c.isMoving,
	}
}
