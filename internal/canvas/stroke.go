package canvas

import (
	"time"

	"github.com/google/uuid"
)

// StrokePoint is a single sampled point of a freehand stroke. Pressure is
// optional; zero means the input device did not report it.
type StrokePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure,omitempty"`
}

// Stroke is a finished freehand drawing. Strokes are immutable once created;
// Bounds is computed exactly once at finalization time.
type Stroke struct {
	ID        uuid.UUID     `json:"id"`
	Tool      string        `json:"tool"`
	Color     string        `json:"color"`
	Size      float64       `json:"size"`
	Points    []StrokePoint `json:"points"`
	CreatedAt time.Time     `json:"created_at"`
	ExpireAt  *time.Time    `json:"expire_at,omitempty"`
	Bounds    AABB          `json:"bounds"`
}

// Expired reports whether the stroke's TTL has elapsed at the given instant.
func (s *Stroke) Expired(now time.Time) bool {
	return s.ExpireAt != nil && !s.ExpireAt.After(now)
}
