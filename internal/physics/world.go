package physics

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/canvas"
)

// Simulation constants. Velocities are in percentage units per second.
const (
	// CanvasExtent is the width and height of the canonical coordinate space.
	CanvasExtent = 100.0

	// MinVelocity is the rest threshold: once both velocity components fall
	// below it, the body stops bouncing.
	MinVelocity = 0.5

	// MaxSpeed caps injected velocities so a wild throw cannot cross the
	// whole canvas in a single tick.
	MaxSpeed = 200.0

	DefaultFriction    = 0.98
	DefaultRestitution = 0.7
	DefaultMass        = 1.0
)

// BoundsSource supplies stroke bounding boxes for coarse collision tests.
// Implemented by strokes.Index.
type BoundsSource interface {
	VisitBounds(func(canvas.AABB) bool)
}

// World owns the registry of physics bodies for one canvas session and
// advances them tick by tick. It is not safe for concurrent use; the owning
// session serializes all mutations through its tick loop.
//
// Advancing is deterministic: identical body sets and identical sequences of
// Advance calls produce bit-identical positions. Bodies are iterated in
// insertion order and nothing reads the wall clock.
type World struct {
	bodies map[uuid.UUID]*Body
	order  []uuid.UUID

	onCollision func(CollisionEvent)
}

// NewWorld creates an empty world covering the canonical 100x100 canvas.
func NewWorld() *World {
	return &World{bodies: make(map[uuid.UUID]*Body)}
}

// SetCollisionHandler registers a callback invoked synchronously for every
// boundary or stroke hit. The handler must not call back into the world.
func (w *World) SetCollisionHandler(fn func(CollisionEvent)) {
	w.onCollision = fn
}

// AddBody registers a body for the given object. Re-adding an existing id
// replaces the body in place, keeping its iteration slot.
func (w *World) AddBody(id uuid.UUID, x, y, width, height float64, params Params) *Body {
	if params.Friction == 0 {
		params.Friction = DefaultFriction
	}
	if params.Restitution == 0 {
		params.Restitution = DefaultRestitution
	}
	if params.Mass == 0 {
		params.Mass = DefaultMass
	}
	body := &Body{
		ID:          id,
		X:           canvas.ClampPct(x),
		Y:           canvas.ClampPct(y),
		HalfW:       width / 2,
		HalfH:       height / 2,
		Mass:        params.Mass,
		Friction:    params.Friction,
		Restitution: params.Restitution,
		Bouncing:    true,
	}
	if _, exists := w.bodies[id]; !exists {
		w.order = append(w.order, id)
	}
	w.bodies[id] = body
	log.Debug().Str("body_id", id.String()).Msg("physics body added")
	return body
}

// RemoveBody drops a body from the registry. Unknown ids are a no-op.
func (w *World) RemoveBody(id uuid.UUID) {
	if _, exists := w.bodies[id]; !exists {
		return
	}
	delete(w.bodies, id)
	for i, bid := range w.order {
		if bid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Body returns the body for id, or nil if none exists.
func (w *World) Body(id uuid.UUID) *Body {
	return w.bodies[id]
}

// Bodies returns all registered bodies in insertion order.
func (w *World) Bodies() []*Body {
	out := make([]*Body, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.bodies[id])
	}
	return out
}

// Len returns the number of registered bodies.
func (w *World) Len() int { return len(w.bodies) }

// Advance integrates every bouncing body by dt: position += velocity*dt,
// then the friction factor is applied and the four canvas boundaries are
// enforced. A body penetrating a wall is clamped to it and the violated
// velocity component is reflected scaled by restitution.
//
// Bodies whose velocity components both fall below MinVelocity come to rest:
// velocity zeroed, Bouncing cleared. Advance returns the ids of bodies that
// came to rest during this step so the owner can retire them.
func (w *World) Advance(dt time.Duration) []uuid.UUID {
	secs := dt.Seconds()
	var settled []uuid.UUID

	for _, id := range w.order {
		b := w.bodies[id]
		if !b.Bouncing {
			continue
		}

		b.X += b.VX * secs
		b.Y += b.VY * secs
		b.VX *= b.Friction
		b.VY *= b.Friction

		w.collideBoundaries(b)

		if math.Abs(b.VX) < MinVelocity && math.Abs(b.VY) < MinVelocity {
			b.VX = 0
			b.VY = 0
			b.Bouncing = false
			settled = append(settled, id)
		}
	}
	return settled
}

// collideBoundaries clamps b inside the canvas, reflecting velocity on hit.
func (w *World) collideBoundaries(b *Body) {
	hit := false

	if b.X-b.HalfW < 0 {
		b.X = b.HalfW
		b.VX = -b.VX * b.Restitution
		hit = true
	} else if b.X+b.HalfW > CanvasExtent {
		b.X = CanvasExtent - b.HalfW
		b.VX = -b.VX * b.Restitution
		hit = true
	}

	if b.Y-b.HalfH < 0 {
		b.Y = b.HalfH
		b.VY = -b.VY * b.Restitution
		hit = true
	} else if b.Y+b.HalfH > CanvasExtent {
		b.Y = CanvasExtent - b.HalfH
		b.VY = -b.VY * b.Restitution
		hit = true
	}

	if hit {
		w.emit(CollisionEvent{BodyID: b.ID, X: b.X, Y: b.Y, Speed: b.Speed()})
	}
}

// ResolveStrokeCollisions tests every bouncing body against every stroke
// bound and, on overlap, reverses both velocity components scaled by the
// body's restitution. This is a deliberate simplification: there is no
// positional correction, so a fast body can tunnel through a thin stroke.
func (w *World) ResolveStrokeCollisions(src BoundsSource) {
	if src == nil {
		return
	}
	for _, id := range w.order {
		b := w.bodies[id]
		if !b.Bouncing {
			continue
		}
		box := b.AABB()
		src.VisitBounds(func(bounds canvas.AABB) bool {
			if !box.Overlaps(bounds) {
				return true
			}
			b.VX = -b.VX * b.Restitution
			b.VY = -b.VY * b.Restitution
			w.emit(CollisionEvent{BodyID: b.ID, X: b.X, Y: b.Y, Speed: b.Speed()})
			return false
		})
	}
}

func (w *World) emit(ev CollisionEvent) {
	if w.onCollision != nil {
		w.onCollision(ev)
	}
}

// ClampSpeed scales (vx, vy) down to MaxSpeed preserving direction.
func ClampSpeed(vx, vy float64) (float64, float64) {
	speed := math.Hypot(vx, vy)
	if speed <= MaxSpeed || speed == 0 {
		return vx, vy
	}
	scale := MaxSpeed / speed
	return vx * scale, vy * scale
}
