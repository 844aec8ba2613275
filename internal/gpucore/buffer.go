package gpucore

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gladius-go/slicer/internal/cerrors"
)

// Buffer is a scoped, typed device memory block: one live device
// allocation at a time, released on Release. Per spec.md §4.6, Buffer
// values must not be copied after Create — copy via Copy() instead,
// which allocates an independent device block of equal size. There is
// no move; a Buffer's zero value is only valid before Create.
type Buffer[T any] struct {
	ctx   *Context
	buf   *wgpu.Buffer
	count int
	usage wgpu.BufferUsage
	label string
}

func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// NewBuffer allocates a device block sized for count elements of T.
func NewBuffer[T any](ctx *Context, label string, count int, usage wgpu.BufferUsage) (*Buffer[T], error) {
	b := &Buffer[T]{ctx: ctx, label: label, usage: usage}
	if err := b.Create(count); err != nil {
		return nil, err
	}
	return b, nil
}

// Create (re)allocates the device block for count elements, releasing
// any prior allocation first so at most one device block is ever live.
func (b *Buffer[T]) Create(count int) error {
	if err := b.ctx.checkUsable("gpucore.Buffer.Create"); err != nil {
		return err
	}
	b.releaseDevice()

	size := uint64(count * elemSize[T]())
	if size == 0 {
		size = uint64(elemSize[T]()) // never request a zero-size device buffer
	}
	desc := &wgpu.BufferDescriptor{
		Label:            b.label,
		Size:             size,
		Usage:            b.usage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		MappedAtCreation: false,
	}
	buf, err := b.ctx.Device.CreateBuffer(desc)
	if err != nil {
		b.ctx.Invalidate()
		return cerrors.New(cerrors.KindDeviceFault, "gpucore.Buffer.Create", err)
	}
	b.buf = buf
	b.count = count
	b.ctx.addBytes(int64(size))
	return nil
}

// Clear zero-fills the buffer's entire device block.
func (b *Buffer[T]) Clear() error {
	if err := b.ctx.checkUsable("gpucore.Buffer.Clear"); err != nil {
		return err
	}
	zeros := make([]byte, b.count*elemSize[T]())
	b.ctx.Queue.WriteBuffer(b.buf, 0, zeros)
	return nil
}

// Write uploads data, transparently recreating the device block first
// if its element count changed, per spec.md §4.6's Buffer invariant.
func (b *Buffer[T]) Write(data []T) error {
	if err := b.ctx.checkUsable("gpucore.Buffer.Write"); err != nil {
		return err
	}
	if len(data) != b.count {
		if err := b.Create(len(data)); err != nil {
			return err
		}
	}
	raw := elemSliceToBytes(data)
	b.ctx.Queue.WriteBuffer(b.buf, 0, raw)
	return nil
}

// Read blocks on device-queue completion and copies the buffer's
// current contents back to a freshly allocated []T.
func (b *Buffer[T]) Read() ([]T, error) {
	if err := b.ctx.checkUsable("gpucore.Buffer.Read"); err != nil {
		return nil, err
	}
	size := uint64(b.count * elemSize[T]())
	staging, err := b.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label + ".readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Buffer.Read", err)
	}
	defer staging.Release()

	encoder, err := b.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Buffer.Read", err)
	}
	encoder.CopyBufferToBuffer(b.buf, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Buffer.Read", err)
	}
	b.ctx.Queue.Submit(cmd)

	var mapErr error
	mapped := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			mapErr = fmt.Errorf("map status %d", status)
		}
	})
	for !mapped && mapErr == nil {
		b.ctx.Device.Poll(true, nil)
	}
	if mapErr != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Buffer.Read", mapErr)
	}

	raw := staging.GetMappedRange(0, uint(size))
	out := make([]T, b.count)
	bytesToElemSlice(raw, out)
	staging.Unmap()
	return out, nil
}

// Print formats the buffer's live contents for diagnostics, matching
// spec.md §4.6's named Buffer operation.
func (b *Buffer[T]) Print() (string, error) {
	data, err := b.Read()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", data), nil
}

// Size returns the element count of the buffer's current allocation.
func (b *Buffer[T]) Size() int { return b.count }

// GetBuffer exposes the underlying device handle for kernel binding.
func (b *Buffer[T]) GetBuffer() *wgpu.Buffer { return b.buf }

// Copy constructs a new device block of equal size with the same
// contents; moves are forbidden per spec.md §4.6.
func (b *Buffer[T]) Copy() (*Buffer[T], error) {
	data, err := b.Read()
	if err != nil {
		return nil, err
	}
	dup, err := NewBuffer[T](b.ctx, b.label+".copy", b.count, b.usage)
	if err != nil {
		return nil, err
	}
	if err := dup.Write(data); err != nil {
		dup.Release()
		return nil, err
	}
	return dup, nil
}

// Release frees the device allocation and updates the context's byte
// counter. Safe to call multiple times.
func (b *Buffer[T]) Release() {
	b.releaseDevice()
}

func (b *Buffer[T]) releaseDevice() {
	if b.buf == nil {
		return
	}
	size := int64(b.count * elemSize[T]())
	b.buf.Release()
	b.buf = nil
	b.ctx.subBytes(size)
}

func elemSliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	sz := elemSize[T]()
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*sz)
}

func bytesToElemSlice[T any](raw []byte, out []T) {
	if len(out) == 0 {
		return
	}
	sz := elemSize[T]()
	n := len(raw) / sz
	if n > len(out) {
		n = len(out)
	}
	src := unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
	copy(out, src)
}
