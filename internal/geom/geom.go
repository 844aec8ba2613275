// Package geom defines the fixed-size numeric tuples and bounding-box
// type shared by every device-facing payload in the slicer. All types
// here are laid out so their packed, little-endian byte form matches
// the 16-byte-aligned block the model kernel expects on device.
package geom

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Vec2, Vec3 and Vec4 alias the teacher's vector types directly rather
// than re-deriving arithmetic the ecosystem already provides.
type (
	Vec2 = mgl32.Vec2
	Vec3 = mgl32.Vec3
	Vec4 = mgl32.Vec4
)

// Half is a float16 placeholder used only for on-device payload sizing;
// the CPU side always computes in float32 and narrows at pack time.
type Half = uint16

// PutFloat32 appends the little-endian bytes of f to dst.
func PutFloat32(dst []byte, f float32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
	return append(dst, buf[:]...)
}

// PutInt32 appends the little-endian bytes of i to dst.
func PutInt32(dst []byte, i int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	return append(dst, buf[:]...)
}

// PutVec4 appends v as a 16-byte little-endian vec4 whose fourth
// component is the caller-supplied w.
func PutVec4(dst []byte, v Vec3, w float32) []byte {
	dst = PutFloat32(dst, v.X())
	dst = PutFloat32(dst, v.Y())
	dst = PutFloat32(dst, v.Z())
	dst = PutFloat32(dst, w)
	return dst
}

// PutVec4Raw appends a full Vec4 in its 16-byte little-endian form.
func PutVec4Raw(dst []byte, v Vec4) []byte {
	dst = PutFloat32(dst, v.X())
	dst = PutFloat32(dst, v.Y())
	dst = PutFloat32(dst, v.Z())
	dst = PutFloat32(dst, v.W())
	return dst
}

// Box is an axis-aligned bounding box. An empty box has Min = +Inf,
// Max = -Inf componentwise, matching spec.md's BoundingBox invariant.
type Box struct {
	Min, Max Vec3
}

// EmptyBox returns a box satisfying the "empty" invariant: min = +Inf,
// max = -Inf, so that any Union with a real point grows it correctly.
func EmptyBox() Box {
	inf := float32(math.Inf(1))
	return Box{
		Min: Vec3{inf, inf, inf},
		Max: Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether the box carries no extent, per the
// min=+Inf/max=-Inf convention.
func (b Box) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

// Valid reports whether all six components are finite and min <= max,
// the validity invariant from spec.md §3.
func (b Box) Valid() bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(float64(b.Min[i])) || math.IsInf(float64(b.Min[i]), 0) {
			return false
		}
		if math.IsNaN(float64(b.Max[i])) || math.IsInf(float64(b.Max[i]), 0) {
			return false
		}
	}
	return b.Min.X() <= b.Max.X() && b.Min.Y() <= b.Max.Y() && b.Min.Z() <= b.Max.Z()
}

// Union returns the componentwise min/max of b and o.
func (b Box) Union(o Box) Box {
	return Box{
		Min: Vec3{min32(b.Min.X(), o.Min.X()), min32(b.Min.Y(), o.Min.Y()), min32(b.Min.Z(), o.Min.Z())},
		Max: Vec3{max32(b.Max.X(), o.Max.X()), max32(b.Max.Y(), o.Max.Y()), max32(b.Max.Z(), o.Max.Z())},
	}
}

// UnionPoint grows b so that it also encloses p.
func (b Box) UnionPoint(p Vec3) Box {
	return Box{
		Min: Vec3{min32(b.Min.X(), p.X()), min32(b.Min.Y(), p.Y()), min32(b.Min.Z(), p.Z())},
		Max: Vec3{max32(b.Max.X(), p.X()), max32(b.Max.Y(), p.Y()), max32(b.Max.Z(), p.Z())},
	}
}

// Expand grows b by r on every side (used for ball/beam radius padding).
func (b Box) Expand(r float32) Box {
	if b.IsEmpty() {
		return b
	}
	return Box{
		Min: b.Min.Sub(Vec3{r, r, r}),
		Max: b.Max.Add(Vec3{r, r, r}),
	}
}

// Size returns Max-Min, undefined for an empty box.
func (b Box) Size() Vec3 {
	return b.Max.Sub(b.Min)
}

// Centroid returns the midpoint of Min and Max.
func (b Box) Centroid() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// SurfaceArea returns the surface area of b, used by the SAH cost
// function in package bvh. Empty boxes return 0.
func (b Box) SurfaceArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	e := b.Size()
	if e.X() < 0 || e.Y() < 0 || e.Z() < 0 {
		return 0
	}
	return 2 * (e.X()*e.Y() + e.Y()*e.Z() + e.Z()*e.X())
}

// Contains reports whether p lies within b (inclusive).
func (b Box) Contains(p Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
