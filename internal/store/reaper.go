package store

import (
	"time"

	"github.com/emberwall/emberwall/internal/canvas"
)

// The expiration reaper is a pure projection: it filters expired entries out
// of a readable view without mutating the underlying lists. Expiry is
// re-evaluated against the current time on every read, so an object hidden
// now was still present in the view produced a moment earlier.

// ReapObjects returns the subset of objects whose TTL has not elapsed at now.
// The input slice is not modified.
func ReapObjects(objects []canvas.Object, now time.Time) []canvas.Object {
	out := make([]canvas.Object, 0, len(objects))
	for _, o := range objects {
		if o.Expired(now) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ReapStrokes returns the subset of strokes whose TTL has not elapsed at now.
func ReapStrokes(strokes []canvas.Stroke, now time.Time) []canvas.Stroke {
	out := make([]canvas.Stroke, 0, len(strokes))
	for _, s := range strokes {
		if s.Expired(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}
