// Package gpucore owns the compute device, a byte-accounted allocation
// ledger, and the typed Buffer[T]/Image[T] wrappers device memory is
// allocated through. cmd/gladius-preview is their only caller; kernel,
// precompsdf and payload work on host memory and do not import gpucore.
//
// Grounded on the teacher's rt/gpu.GpuBufferManager: device ownership,
// the ensureBuffer recreate-on-resize helper, and the SlotAllocator
// free-list pattern, generalized from dozens of named raw *wgpu.Buffer
// fields into a generic, reusable Buffer[T]/Image[T] pair plus a byte
// counter the teacher never tracked explicitly.
package gpucore

import (
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gladius-go/slicer/internal/cerrors"
)

// Context owns the device command queue, the running byte-allocation
// total, and an invalidation flag that must be cleared by Rebuild
// before further submits are accepted, per spec.md §4.6.
type Context struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	bytesAllocated atomic.Int64

	mu          sync.Mutex
	invalidated bool
}

// NewContext wraps an already-created device/queue pair. Device
// creation itself (adapter request, surface configuration) belongs to
// the caller — cmd/gladius-preview, which sets up the window surface it
// presents to; cmd/gladius-slice slices on the CPU and creates no device.
func NewContext(device *wgpu.Device, queue *wgpu.Queue) *Context {
	return &Context{Device: device, Queue: queue}
}

// BytesAllocated returns the current aggregate device-byte count.
func (c *Context) BytesAllocated() int64 {
	return c.bytesAllocated.Load()
}

func (c *Context) addBytes(n int64) {
	c.bytesAllocated.Add(n)
}

func (c *Context) subBytes(n int64) {
	c.bytesAllocated.Add(-n)
}

// Invalidate marks the context unusable following a device-lost,
// allocation-failure, or kernel-build error. Every subsequent
// CreateBuffer/CreateImage call fails with cerrors.KindDeviceFault
// until Rebuild is called.
func (c *Context) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = true
}

// Invalidated reports whether the context currently rejects new
// allocations.
func (c *Context) Invalidated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

// Rebuild clears the invalidation flag after the caller has
// reestablished the device/queue (or accepted a fresh one via
// device/queue swap — Rebuild takes the replacements directly so the
// context never holds a stale handle in between).
func (c *Context) Rebuild(device *wgpu.Device, queue *wgpu.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Device = device
	c.Queue = queue
	c.invalidated = false
}

// Finish blocks until every command previously submitted to Queue has
// completed, the precondition computecore.Core.SwapPrograms relies on
// before making the old program's outputs safely readable.
func (c *Context) Finish() error {
	if err := c.checkUsable("gpucore.Context.Finish"); err != nil {
		return err
	}
	c.Device.Poll(true, nil)
	return nil
}

func (c *Context) checkUsable(op string) error {
	if c.Invalidated() {
		return cerrors.New(cerrors.KindDeviceFault, op, errContextInvalidated)
	}
	return nil
}

var errContextInvalidated = ctxInvalidError{}

type ctxInvalidError struct{}

func (ctxInvalidError) Error() string { return "compute context is invalidated; call Rebuild first" }
