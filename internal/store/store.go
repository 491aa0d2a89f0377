// Package store holds the per-client mirror of canvas state. Local user
// actions apply optimistically and produce the outbound message for the sync
// channel; inbound remote messages overwrite local state last-writer-wins.
package store

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/canvas"
	"github.com/emberwall/emberwall/internal/protocol"
	"github.com/emberwall/emberwall/internal/strokes"
)

// Hooks notify the owning session of physics-relevant changes so it can
// create or retire bodies. Handlers run synchronously under the store lock
// and must not call back into the store.
type Hooks struct {
	// ObjectThrown fires when an object's physics.bouncing becomes true,
	// locally or from a remote throw.
	ObjectThrown func(obj canvas.Object)
	// ObjectRemoved fires when an object leaves the store for any reason.
	ObjectRemoved func(id uuid.UUID)
}

// Store mirrors the objects and strokes of one canvas for one client.
//
// All mutations are serialized behind a mutex: the host environment this
// design was lifted from is single-threaded, but in Go the tick loop and the
// network read pump are separate goroutines and per-object linearizability
// requires a single writer.
type Store struct {
	mu      sync.Mutex
	objects map[uuid.UUID]*canvas.Object
	order   []uuid.UUID
	strokes *strokes.Index
	video   *protocol.VideoState

	clock clockwork.Clock
	hooks Hooks
}

// New creates an empty store over the given stroke index. The clock stamps
// CreatedAt on local creations and drives the expiration projection.
func New(idx *strokes.Index, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		objects: make(map[uuid.UUID]*canvas.Object),
		strokes: idx,
		clock:   clock,
	}
}

// SetHooks registers the session callbacks. Must be called before the store
// is shared across goroutines.
func (s *Store) SetHooks(h Hooks) { s.hooks = h }

// Strokes exposes the underlying stroke index (shared with the physics
// world's collision queries).
func (s *Store) Strokes() *strokes.Index { return s.strokes }

// --- local optimistic mutations -------------------------------------------

// CreateLocal inserts a locally created object and returns the post message
// to forward. Missing ids and timestamps are filled in here.
func (s *Store) CreateLocal(obj canvas.Object) *protocol.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = s.clock.Now()
	}
	obj.ClampPosition()
	s.insertLocked(obj)
	return protocol.NewPost(obj)
}

// Move repositions an object and returns the move message to forward.
// Unknown ids are a no-op and return ok=false.
func (s *Store) Move(id uuid.UUID, x, y float64) (*protocol.Move, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	obj.X = canvas.ClampPct(x)
	obj.Y = canvas.ClampPct(y)
	return protocol.NewMove(id, obj.X, obj.Y), true
}

// Update applies a partial patch to an object and returns the update message
// to forward. Unknown ids are a no-op.
func (s *Store) Update(id uuid.UUID, updates json.RawMessage) (*protocol.ObjectUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	if err := canvas.ApplyPatch(obj, updates); err != nil {
		log.Warn().Err(err).Str("object_id", id.String()).Msg("dropping invalid object patch")
		return nil, false
	}
	return protocol.NewObjectUpdate(id, updates), true
}

// Throw injects a velocity into an object, marking it bouncing, and returns
// the throw message to forward. Unknown ids are a no-op.
func (s *Store) Throw(id uuid.UUID, vx, vy float64) (*protocol.ObjectThrow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	s.applyThrowLocked(obj, vx, vy)
	return protocol.NewObjectThrow(id, vx, vy), true
}

// Delete removes an object and returns the delete message to forward.
// Unknown ids are a no-op.
func (s *Store) Delete(id uuid.UUID) (*protocol.ObjectDelete, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[id]; !ok {
		return nil, false
	}
	s.removeLocked(id)
	return protocol.NewObjectDelete(id), true
}

// AddStroke finalizes a locally drawn stroke (computing its bounds) and
// returns the stroke message to forward.
func (s *Store) AddStroke(stroke canvas.Stroke) *protocol.DrawingStroke {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stroke.ID == uuid.Nil {
		stroke.ID = uuid.New()
	}
	if stroke.CreatedAt.IsZero() {
		stroke.CreatedAt = s.clock.Now()
	}
	stroke.Bounds = strokes.ComputeBounds(stroke.Points, stroke.Size)
	s.strokes.Add(&stroke)
	return protocol.NewDrawingStroke(stroke)
}

// ClearStrokes wipes the local stroke list and returns the clear message to
// forward.
func (s *Store) ClearStrokes() *protocol.DrawingClear {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strokes.Clear()
	return protocol.NewDrawingClear()
}

// --- remote mutations ------------------------------------------------------

// ApplyRemote merges one inbound message. Remote state wins unconditionally
// (last-writer-wins, no versioning): concurrent edits from two clients on
// the same object can visibly snap back, an accepted consistency tradeoff.
// Mutations referencing unknown ids are silent no-ops.
func (s *Store) ApplyRemote(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.New:
		s.insertLocked(m.Note)
	case *protocol.Post:
		s.insertLocked(m.Note)
	case *protocol.Move:
		if obj, ok := s.objects[m.NoteID]; ok {
			obj.X = canvas.ClampPct(m.XPct)
			obj.Y = canvas.ClampPct(m.YPct)
		}
	case *protocol.ObjectUpdate:
		if obj, ok := s.objects[m.ObjectID]; ok {
			if err := canvas.ApplyPatch(obj, m.Updates); err != nil {
				log.Warn().Err(err).Str("object_id", m.ObjectID.String()).Msg("dropping invalid remote patch")
			}
		}
	case *protocol.ObjectThrow:
		if obj, ok := s.objects[m.ObjectID]; ok {
			s.applyThrowLocked(obj, m.VX, m.VY)
		}
	case *protocol.ObjectDelete:
		s.removeLocked(m.ObjectID)
	case *protocol.DrawingStroke:
		stroke := m.Stroke
		s.strokes.Add(&stroke)
	case *protocol.DrawingClear:
		s.strokes.Clear()
	case *protocol.State:
		s.applySnapshotLocked(m)
	case *protocol.VideoSync:
		v := m.Video
		s.video = &v
	default:
		log.Debug().Str("kind", string(msg.MessageKind())).Msg("store ignoring message kind")
	}
}

// ApplySnapshot replaces the entire local object and stroke lists with the
// snapshot's contents, discarding any local edits made while disconnected.
func (s *Store) ApplySnapshot(state *protocol.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(state)
}

func (s *Store) applySnapshotLocked(state *protocol.State) {
	for _, id := range s.order {
		if s.hooks.ObjectRemoved != nil {
			s.hooks.ObjectRemoved(id)
		}
	}
	s.objects = make(map[uuid.UUID]*canvas.Object, len(state.Notes))
	s.order = s.order[:0]
	for _, obj := range state.Notes {
		s.insertLocked(obj)
	}

	incoming := make([]*canvas.Stroke, 0, len(state.Strokes))
	for i := range state.Strokes {
		st := state.Strokes[i]
		incoming = append(incoming, &st)
	}
	s.strokes.Replace(incoming)
	s.video = state.CurrentVideo

	log.Debug().
		Int("objects", len(state.Notes)).
		Int("strokes", len(state.Strokes)).
		Msg("snapshot applied, local state replaced")
}

// SyncBody writes a physics body's position and motion state back into the
// mirrored object after a tick. Unknown ids are a no-op.
func (s *Store) SyncBody(id uuid.UUID, x, y, vx, vy float64, bouncing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return
	}
	obj.X = canvas.ClampPct(x)
	obj.Y = canvas.ClampPct(y)
	if obj.Physics == nil {
		obj.Physics = &canvas.Physics{}
	}
	obj.Physics.VX = vx
	obj.Physics.VY = vy
	obj.Physics.Bouncing = bouncing
}

// --- read view -------------------------------------------------------------

// View returns the readable canvas state: every live object and stroke, with
// expired entries filtered by the reaper projection. The underlying lists
// are never mutated by expiration.
func (s *Store) View() ([]canvas.Object, []canvas.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	objects := make([]canvas.Object, 0, len(s.order))
	for _, id := range s.order {
		objects = append(objects, *s.objects[id].Clone())
	}
	strokeList := make([]canvas.Stroke, 0, s.strokes.Len())
	for _, st := range s.strokes.Strokes() {
		strokeList = append(strokeList, *st)
	}
	return ReapObjects(objects, now), ReapStrokes(strokeList, now)
}

// Object returns a copy of one object, if present and not expired.
func (s *Store) Object(id uuid.UUID) (canvas.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok || obj.Expired(s.clock.Now()) {
		return canvas.Object{}, false
	}
	return *obj.Clone(), true
}

// Video returns the ancillary shared-video state, if any.
func (s *Store) Video() *protocol.VideoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return nil
	}
	v := *s.video
	return &v
}

// Len returns the number of stored objects, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// --- internals -------------------------------------------------------------

func (s *Store) insertLocked(obj canvas.Object) {
	obj.ClampPosition()
	if _, exists := s.objects[obj.ID]; !exists {
		s.order = append(s.order, obj.ID)
	}
	s.objects[obj.ID] = obj.Clone()
	if obj.Physics != nil && obj.Physics.Bouncing && s.hooks.ObjectThrown != nil {
		s.hooks.ObjectThrown(obj)
	}
}

func (s *Store) removeLocked(id uuid.UUID) {
	if _, ok := s.objects[id]; !ok {
		return
	}
	delete(s.objects, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.hooks.ObjectRemoved != nil {
		s.hooks.ObjectRemoved(id)
	}
}

func (s *Store) applyThrowLocked(obj *canvas.Object, vx, vy float64) {
	if obj.Physics == nil {
		obj.Physics = &canvas.Physics{}
	}
	obj.Physics.VX = vx
	obj.Physics.VY = vy
	obj.Physics.Bouncing = true
	if s.hooks.ObjectThrown != nil {
		s.hooks.ObjectThrown(*obj.Clone())
	}
}
