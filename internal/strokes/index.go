package strokes

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/canvas"
)

// MaxStrokes caps the number of retained strokes. Oldest strokes are evicted
// first once the cap is exceeded, independent of TTL.
const MaxStrokes = 1000

// ComputeBounds returns the AABB covering all points, expanded by
// strokeWidth/2 in every direction. Called once, at stroke finalization.
func ComputeBounds(points []canvas.StrokePoint, strokeWidth float64) canvas.AABB {
	if len(points) == 0 {
		return canvas.AABB{}
	}
	b := canvas.AABB{
		MinX: points[0].X, MinY: points[0].Y,
		MaxX: points[0].X, MaxY: points[0].Y,
	}
	for _, p := range points[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
	}
	pad := strokeWidth / 2
	b.MinX -= pad
	b.MinY -= pad
	b.MaxX += pad
	b.MaxY += pad
	return b
}

// Index stores finished strokes in insertion order along with their bounding
// boxes for coarse collision queries. Not safe for concurrent use; owned and
// serialized by the session.
type Index struct {
	strokes []*canvas.Stroke
	cap     int
}

// NewIndex returns an index capped at MaxStrokes.
func NewIndex() *Index {
	return &Index{cap: MaxStrokes}
}

// NewIndexWithCap returns an index with a custom stroke cap; values below 1
// fall back to MaxStrokes.
func NewIndexWithCap(max int) *Index {
	if max < 1 {
		max = MaxStrokes
	}
	return &Index{cap: max}
}

// Add appends a finished stroke, computing its bounds if the caller has not
// already done so. If the cap is exceeded the oldest stroke is evicted.
func (idx *Index) Add(s *canvas.Stroke) {
	if s.Bounds == (canvas.AABB{}) && len(s.Points) > 0 {
		s.Bounds = ComputeBounds(s.Points, s.Size)
	}
	idx.strokes = append(idx.strokes, s)
	if evicted := len(idx.strokes) - idx.cap; evicted > 0 {
		idx.strokes = idx.strokes[evicted:]
		log.Debug().Int("evicted", evicted).Msg("stroke cap exceeded, oldest evicted")
	}
}

// Remove drops the stroke with the given id; unknown ids are a no-op.
func (idx *Index) Remove(id uuid.UUID) {
	for i, s := range idx.strokes {
		if s.ID == id {
			idx.strokes = append(idx.strokes[:i], idx.strokes[i+1:]...)
			return
		}
	}
}

// Clear drops every stroke.
func (idx *Index) Clear() {
	idx.strokes = nil
}

// Replace swaps the entire stroke list, applying the cap to the tail of the
// incoming slice. Used when a snapshot overwrites local state.
func (idx *Index) Replace(strokes []*canvas.Stroke) {
	if len(strokes) > idx.cap {
		strokes = strokes[len(strokes)-idx.cap:]
	}
	idx.strokes = append([]*canvas.Stroke(nil), strokes...)
	for _, s := range idx.strokes {
		if s.Bounds == (canvas.AABB{}) && len(s.Points) > 0 {
			s.Bounds = ComputeBounds(s.Points, s.Size)
		}
	}
}

// Strokes returns the retained strokes in insertion order.
func (idx *Index) Strokes() []*canvas.Stroke {
	return idx.strokes
}

// Len returns the number of retained strokes.
func (idx *Index) Len() int { return len(idx.strokes) }

// VisitBounds calls fn for each stroke's bounds, oldest first, stopping if fn
// returns false. Implements the physics BoundsSource.
func (idx *Index) VisitBounds(fn func(canvas.AABB) bool) {
	for _, s := range idx.strokes {
		if !fn(s.Bounds) {
			return
		}
	}
}
