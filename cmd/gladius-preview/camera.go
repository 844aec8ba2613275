package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// flyCamera is a free-flying camera over the implicit model, adapted
// from the teacher's core.CameraState: the Z-up forward/right/view
// derivation is kept verbatim, while the frustum-extraction method
// (ExtractFrustum, used there for multi-object occlusion culling) is
// dropped since a single implicit model has no scene graph to cull.
type flyCamera struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32
	FovYRadians float32
}

func newFlyCamera() *flyCamera {
	return &flyCamera{
		Position:    mgl32.Vec3{0, -20, 8},
		Speed:       10,
		Sensitivity: 0.003,
		FovYRadians: mgl32.DegToRad(60),
	}
}

func (c *flyCamera) forward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *flyCamera) right() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(-math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Yaw))),
		0,
	}
}

func (c *flyCamera) up() mgl32.Vec3 {
	return c.right().Cross(c.forward()).Normalize()
}

// move applies WASD/space/control input accumulated into moveInput
// (x=right, y=up, z=forward) scaled by Speed*dt, the same move-vector
// composition as the teacher's FlyingCameraControlSystem.
func (c *flyCamera) move(moveInput mgl32.Vec3, dt float32) {
	if moveInput.Len() == 0 || dt <= 0 {
		return
	}
	dir := c.right().Mul(moveInput.X()).
		Add(c.up().Mul(moveInput.Y())).
		Add(c.forward().Mul(moveInput.Z()))
	if dir.Len() == 0 {
		return
	}
	c.Position = c.Position.Add(dir.Normalize().Mul(c.Speed * dt))
}

func (c *flyCamera) look(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch -= dy * c.Sensitivity
	const limit = 1.55
	if c.Pitch > limit {
		c.Pitch = limit
	}
	if c.Pitch < -limit {
		c.Pitch = -limit
	}
}
