package gpucore

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gladius-go/slicer/internal/cerrors"
)

// PixelFormat names the formats an Image[T] can be created with
// (passed explicitly, not inferred from T), per spec.md §4.6:
// float/float2/float4/int/int2/uchar/char4/char.
type PixelFormat int

const (
	FormatFloat PixelFormat = iota
	FormatFloat2
	FormatFloat4
	FormatInt
	FormatInt2
	FormatUChar
	FormatChar4
	FormatChar
)

func (f PixelFormat) wgpuFormat() wgpu.TextureFormat {
	switch f {
	case FormatFloat:
		return wgpu.TextureFormatR32Float
	case FormatFloat2:
		return wgpu.TextureFormatRG32Float
	case FormatFloat4:
		return wgpu.TextureFormatRGBA32Float
	case FormatInt:
		return wgpu.TextureFormatR32Sint
	case FormatInt2:
		return wgpu.TextureFormatRG32Sint
	case FormatUChar:
		return wgpu.TextureFormatR8Unorm
	case FormatChar4:
		return wgpu.TextureFormatRGBA8Unorm
	case FormatChar:
		return wgpu.TextureFormatR8Snorm
	default:
		return wgpu.TextureFormatR32Float
	}
}

func (f PixelFormat) bytesPerPixel() int {
	switch f {
	case FormatFloat:
		return 4
	case FormatFloat2:
		return 8
	case FormatFloat4:
		return 16
	case FormatInt:
		return 4
	case FormatInt2:
		return 8
	case FormatUChar, FormatChar:
		return 1
	case FormatChar4:
		return 4
	default:
		return 4
	}
}

// Image is a 2D/3D typed device image; format is fixed at creation
// rather than inferred via generics parameter constraints (Go's type
// system cannot dispatch a wgpu format purely from T), so callers pass
// it explicitly alongside the element type used for CPU-side Read/Write.
type Image[T any] struct {
	ctx    *Context
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	format PixelFormat
	label  string

	Width, Height, Depth uint32

	// interop records the caller's interop-vs-readpixel choice from
	// spec.md §4.6. Image only stores and reports it; it does not share
	// the texture with a GL surface, and ReadPixels works either way.
	interop bool
}

// NewImage2D allocates a 2D image of the given format.
func NewImage2D[T any](ctx *Context, label string, width, height uint32, format PixelFormat, interop bool) (*Image[T], error) {
	img := &Image[T]{ctx: ctx, label: label, format: format, Width: width, Height: height, Depth: 1, interop: interop}
	if err := img.create(); err != nil {
		return nil, err
	}
	return img, nil
}

// NewImage3D allocates a 3D image of the given format.
func NewImage3D[T any](ctx *Context, label string, width, height, depth uint32, format PixelFormat, interop bool) (*Image[T], error) {
	img := &Image[T]{ctx: ctx, label: label, format: format, Width: width, Height: height, Depth: depth, interop: interop}
	if err := img.create(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image[T]) create() error {
	if err := img.ctx.checkUsable("gpucore.Image.create"); err != nil {
		return err
	}
	dim := wgpu.TextureDimension2D
	viewDim := wgpu.TextureViewDimension2D
	if img.Depth > 1 {
		dim = wgpu.TextureDimension3D
		viewDim = wgpu.TextureViewDimension3D
	}
	tex, err := img.ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         img.label,
		Size:          wgpu.Extent3D{Width: img.Width, Height: img.Height, DepthOrArrayLayers: img.Depth},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        img.format.wgpuFormat(),
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		img.ctx.Invalidate()
		return cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.create", err)
	}
	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           img.label + ".view",
		Format:          img.format.wgpuFormat(),
		Dimension:       viewDim,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
	})
	if err != nil {
		img.ctx.Invalidate()
		return cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.create", err)
	}
	img.tex = tex
	img.view = view
	img.ctx.addBytes(int64(img.Width) * int64(img.Height) * int64(maxu32(img.Depth, 1)) * int64(img.format.bytesPerPixel()))
	return nil
}

// View returns the default texture view, used by the kernel dispatcher
// to bind this image.
func (img *Image[T]) View() *wgpu.TextureView { return img.view }

// Texture returns the underlying device texture.
func (img *Image[T]) Texture() *wgpu.Texture { return img.tex }

// Interop reports the interop flag the image was created with. No GL
// sharing is performed for either value.
func (img *Image[T]) Interop() bool { return img.interop }

// ReadPixels copies the image's current contents back to the CPU via a
// staging buffer — the path used when Interop() is false.
func (img *Image[T]) ReadPixels() ([]byte, error) {
	if err := img.ctx.checkUsable("gpucore.Image.ReadPixels"); err != nil {
		return nil, err
	}
	bpp := uint32(img.format.bytesPerPixel())
	bytesPerRow := (img.Width*bpp + 255) &^ 255
	size := uint64(bytesPerRow) * uint64(img.Height) * uint64(maxu32(img.Depth, 1))

	staging, err := img.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: img.label + ".readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.ReadPixels", err)
	}
	defer staging.Release()

	encoder, err := img.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.ReadPixels", err)
	}
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: img.tex},
		&wgpu.ImageCopyBuffer{Buffer: staging, Layout: wgpu.TextureDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: img.Height}},
		&wgpu.Extent3D{Width: img.Width, Height: img.Height, DepthOrArrayLayers: maxu32(img.Depth, 1)},
	)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.ReadPixels", err)
	}
	img.ctx.Queue.Submit(cmd)

	mapped := false
	var mapErr error
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			mapErr = cerrors.New(cerrors.KindDeviceFault, "gpucore.Image.ReadPixels", errMapFailed)
		}
	})
	for !mapped && mapErr == nil {
		img.ctx.Device.Poll(true, nil)
	}
	if mapErr != nil {
		return nil, mapErr
	}
	raw := staging.GetMappedRange(0, uint(size))
	out := make([]byte, len(raw))
	copy(out, raw)
	staging.Unmap()
	return out, nil
}

// Release frees the device texture/view and updates the byte counter.
func (img *Image[T]) Release() {
	if img.tex == nil {
		return
	}
	size := int64(img.Width) * int64(img.Height) * int64(maxu32(img.Depth, 1)) * int64(img.format.bytesPerPixel())
	if img.view != nil {
		img.view.Release()
		img.view = nil
	}
	img.tex.Release()
	img.tex = nil
	img.ctx.subBytes(size)
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

var errMapFailed = mapFailedErr{}

type mapFailedErr struct{}

func (mapFailedErr) Error() string { return "texture readback map failed" }
