package physics

import (
	"math"

	"github.com/google/uuid"

	"github.com/emberwall/emberwall/internal/canvas"
)

// Params are the material properties of a body. Zero values are replaced by
// the package defaults when the body is added.
type Params struct {
	Mass        float64
	Friction    float64
	Restitution float64
}

// Body is the id-keyed physics shadow of a bouncing canvas object. Position
// is the object's center in percentage coordinates; HalfW/HalfH are the
// half-extents used for boundary and stroke tests.
type Body struct {
	ID          uuid.UUID
	X, Y        float64
	VX, VY      float64
	HalfW       float64
	HalfH       float64
	Mass        float64
	Friction    float64
	Restitution float64
	Bouncing    bool
}

// AABB returns the body's current bounding box.
func (b *Body) AABB() canvas.AABB {
	return canvas.AABB{
		MinX: b.X - b.HalfW,
		MinY: b.Y - b.HalfH,
		MaxX: b.X + b.HalfW,
		MaxY: b.Y + b.HalfH,
	}
}

// Speed returns the magnitude of the body's velocity.
func (b *Body) Speed() float64 {
	return math.Hypot(b.VX, b.VY)
}

// CollisionEvent describes a boundary or stroke hit. Consumed by external
// audio/particle layers; the simulation itself does not depend on it.
type CollisionEvent struct {
	BodyID uuid.UUID
	X, Y   float64
	Speed  float64
}
