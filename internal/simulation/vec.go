package simulation

import "math"

// Vec3 is a position or displacement in simulation space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Dist2 returns the squared Euclidean distance between v and o.
func (v Vec3) Dist2(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// withinBox reports whether o lies strictly inside the axis-aligned cube of
// half-size r centred at v.
func (v Vec3) withinBox(o Vec3, r float64) bool {
	return math.Abs(o.X-v.X) < r && math.Abs(o.Y-v.Y) < r && math.Abs(o.Z-v.Z) < r
}
