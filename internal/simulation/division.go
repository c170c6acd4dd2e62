package simulation

import (
	"math"

	"github.com/nvandessel/cellsim/internal/naming"
)

// divisionOffset returns the displacement of the second daughter from the
// mother's staged position; the first daughter sits at the opposite side.
//
// The axis is the mother's last displacement turned by 90 degrees in the xy
// plane and jittered by a Gaussian angle. In 3D a random out-of-plane
// component is added while keeping the offset length at half of
// DaughtersInitialDistance.
func (a *Agent) divisionOffset() Vec3 {
	cfg := a.cfg
	half := cfg.DaughtersInitialDistance / 2

	dz := 0.0
	planar := half
	if !cfg.Do2DOnly {
		dz = a.rng.Float64()
		planar = half / math.Sqrt(1+dz*dz)
	}

	azimuth := math.Atan2(a.lastDisplacement.Y, a.lastDisplacement.X)
	azimuth += math.Pi / 2
	azimuth += a.rng.NormFloat64() * cfg.MaxPerpendicularVariability / 3

	return Vec3{
		X: planar * math.Cos(azimuth),
		Y: planar * math.Sin(azimuth),
		Z: dz * planar,
	}
}

// divide creates the two daughters of mother. The caller stages them and
// retires the mother in the same step.
func (s *Simulator) divide(mother *Agent) (*Agent, *Agent) {
	offset := mother.divisionOffset()
	labelA, labelB := naming.DaughterLabels(mother.baseLabel)
	born := mother.time + 1

	d1 := s.newAgent(s.pop.AllocateID(), mother.id, labelA, mother.staged.Sub(offset), mother.radius, born)
	d2 := s.newAgent(s.pop.AllocateID(), mother.id, labelB, mother.staged.Add(offset), mother.radius, born)

	// Both daughters link from the mother's last pushed node.
	d1.handle = mother.handle
	d2.handle = mother.handle
	return d1, d2
}
