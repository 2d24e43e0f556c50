package core

import "time"

// MotionModel reports a node's kinematic state at a simulated time offset
// from the start of the run.
type MotionModel interface {
	PositionAt(t time.Duration) Vec3
	VelocityAt(t time.Duration) Vec3
}

// ConstantPositionModel keeps a node fixed for the whole run.
type ConstantPositionModel struct {
	Position Vec3
}

// PositionAt returns the fixed position.
func (m *ConstantPositionModel) PositionAt(time.Duration) Vec3 { return m.Position }

// VelocityAt is always zero.
func (m *ConstantPositionModel) VelocityAt(time.Duration) Vec3 { return Vec3{} }

// ConstantVelocityModel moves a node in a straight line: Origin + Velocity*t.
type ConstantVelocityModel struct {
	Origin   Vec3
	Velocity Vec3
}

// PositionAt propagates the origin along the velocity vector.
func (m *ConstantVelocityModel) PositionAt(t time.Duration) Vec3 {
	return m.Origin.Add(m.Velocity.Scale(t.Seconds()))
}

// VelocityAt returns the constant velocity.
func (m *ConstantVelocityModel) VelocityAt(time.Duration) Vec3 { return m.Velocity }
