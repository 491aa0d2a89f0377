// Package gesture converts pointer drags into physics inputs.
package gesture

import (
	"math"
	"time"

	"github.com/emberwall/emberwall/internal/physics"
)

const (
	// ScaleFactor amplifies the raw drag speed so a short flick launches
	// the object rather than nudging it.
	ScaleFactor = 5.0

	// MinDragDistance is the displacement in percentage units below which a
	// drag is treated as a tap, not a throw.
	MinDragDistance = 2.0
)

// Point is a position in percentage coordinates.
type Point struct {
	X, Y float64
}

// Velocity is a launch vector in percentage units per second.
type Velocity struct {
	VX, VY float64
}

// IsZero reports whether the velocity carries no motion.
func (v Velocity) IsZero() bool { return v.VX == 0 && v.VY == 0 }

// Throw converts a drag from p0 at t0 to p1 at t1 into a launch velocity:
// displacement over duration, scaled by ScaleFactor and clamped to the
// maximum speed preserving direction.
//
// Degenerate drags resolve to a zero velocity rather than an error: a
// non-positive duration or a displacement under MinDragDistance is a tap,
// and the result is never NaN or Inf.
func Throw(p0 Point, t0 time.Time, p1 Point, t1 time.Time) Velocity {
	dt := t1.Sub(t0).Seconds()
	if dt <= 0 {
		return Velocity{}
	}

	dx := p1.X - p0.X
	dy := p1.Y - p0.Y
	if math.Hypot(dx, dy) < MinDragDistance {
		return Velocity{}
	}

	vx, vy := physics.ClampSpeed(dx/dt*ScaleFactor, dy/dt*ScaleFactor)
	return Velocity{VX: vx, VY: vy}
}
