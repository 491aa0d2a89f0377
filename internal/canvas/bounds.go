package canvas

// AABB is an axis-aligned bounding box in percentage coordinates, used for
// coarse stroke/body collision tests.
type AABB struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Overlaps reports whether two boxes intersect. Touching edges count as an
// overlap.
func (a AABB) Overlaps(b AABB) bool {
	return a.MinX <= b.MaxX && a.MaxX >= b.MinX &&
		a.MinY <= b.MaxY && a.MaxY >= b.MinY
}

// Contains reports whether the point (x, y) lies inside the box.
func (a AABB) Contains(x, y float64) bool {
	return x >= a.MinX && x <= a.MaxX && y >= a.MinY && y <= a.MaxY
}

// Width returns the horizontal extent of the box.
func (a AABB) Width() float64 { return a.MaxX - a.MinX }

// Height returns the vertical extent of the box.
func (a AABB) Height() float64 { return a.MaxY - a.MinY }
