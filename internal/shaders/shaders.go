// Package shaders embeds the preview app's WGSL sources, following the
// teacher's voxelrt/rt/shaders package: one //go:embed var per shader
// file rather than string literals inline in Go source.
package shaders

import (
	_ "embed"
)

// RaymarchWGSL is the model-kernel stand-in compute shader: it
// raymarches the union of a beam-lattice's capsule and sphere
// primitives (packed the way internal/payload.PackBeamLattice lays
// them out) and writes a shaded hit color into a storage texture.
//
//go:embed raymarch.wgsl
var RaymarchWGSL string

// BlitWGSL is the fullscreen-triangle vertex/fragment pair that
// samples the storage texture onto the swapchain, the same shape as
// the teacher's fullscreen.wgsl blit.
//
//go:embed blit.wgsl
var BlitWGSL string
