package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/canvas"
	"github.com/emberwall/emberwall/internal/protocol"
	"github.com/emberwall/emberwall/internal/store"
	"github.com/emberwall/emberwall/internal/strokes"
)

// Room holds the authoritative canvas state for one room. The relay applies
// the same last-writer-wins semantics as the clients: whatever arrives last
// is the truth, mutations on unknown ids are silent no-ops.
type Room struct {
	mu      sync.Mutex
	name    string
	objects map[uuid.UUID]*canvas.Object
	order   []uuid.UUID
	strokes *strokes.Index
	video   *protocol.VideoState
	clock   clockwork.Clock
	dirty   bool
}

// NewRoom creates an empty authoritative room.
func NewRoom(name string, clock clockwork.Clock) *Room {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Room{
		name:    name,
		objects: make(map[uuid.UUID]*canvas.Object),
		strokes: strokes.NewIndex(),
		clock:   clock,
	}
}

// Name returns the room identifier.
func (r *Room) Name() string { return r.name }

// Apply merges one inbound client message into the authoritative state and
// returns the message to rebroadcast (nil if the message changes nothing).
// A client "post" is answered with the server-stamped "new" broadcast.
func (r *Room) Apply(msg protocol.Message) protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.Post:
		obj := m.Note
		if obj.ID == uuid.Nil {
			obj.ID = uuid.New()
		}
		if obj.CreatedAt.IsZero() {
			obj.CreatedAt = r.clock.Now()
		}
		obj.ClampPosition()
		r.insertLocked(obj)
		r.dirty = true
		return protocol.NewNew(obj)

	case *protocol.New:
		r.insertLocked(m.Note)
		r.dirty = true
		return m

	case *protocol.Move:
		obj, ok := r.objects[m.NoteID]
		if !ok {
			return nil
		}
		obj.X = canvas.ClampPct(m.XPct)
		obj.Y = canvas.ClampPct(m.YPct)
		r.dirty = true
		return m

	case *protocol.ObjectUpdate:
		obj, ok := r.objects[m.ObjectID]
		if !ok {
			return nil
		}
		if err := canvas.ApplyPatch(obj, m.Updates); err != nil {
			log.Warn().Err(err).Str("object_id", m.ObjectID.String()).Msg("dropping invalid patch")
			return nil
		}
		r.dirty = true
		return m

	case *protocol.ObjectThrow:
		obj, ok := r.objects[m.ObjectID]
		if !ok {
			return nil
		}
		if obj.Physics == nil {
			obj.Physics = &canvas.Physics{}
		}
		obj.Physics.VX = m.VX
		obj.Physics.VY = m.VY
		obj.Physics.Bouncing = true
		r.dirty = true
		return m

	case *protocol.ObjectDelete:
		if _, ok := r.objects[m.ObjectID]; !ok {
			return nil
		}
		delete(r.objects, m.ObjectID)
		for i, id := range r.order {
			if id == m.ObjectID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.dirty = true
		return m

	case *protocol.DrawingStroke:
		stroke := m.Stroke
		if stroke.ID == uuid.Nil {
			stroke.ID = uuid.New()
		}
		if stroke.CreatedAt.IsZero() {
			stroke.CreatedAt = r.clock.Now()
		}
		r.strokes.Add(&stroke)
		r.dirty = true
		return protocol.NewDrawingStroke(stroke)

	case *protocol.DrawingClear:
		r.strokes.Clear()
		r.dirty = true
		return m

	case *protocol.VideoSync:
		v := m.Video
		r.video = &v
		r.dirty = true
		return m

	default:
		log.Debug().Str("kind", string(msg.MessageKind())).Str("room", r.name).Msg("room ignoring message kind")
		return nil
	}
}

// Snapshot builds the full state message sent once per connection. Expired
// entries are reaped out of the snapshot; the stored lists stay untouched.
func (r *Room) Snapshot() *protocol.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	objects := make([]canvas.Object, 0, len(r.order))
	for _, id := range r.order {
		objects = append(objects, *r.objects[id].Clone())
	}
	strokeList := make([]canvas.Stroke, 0, r.strokes.Len())
	for _, s := range r.strokes.Strokes() {
		strokeList = append(strokeList, *s)
	}

	state := protocol.NewState(store.ReapObjects(objects, now), store.ReapStrokes(strokeList, now))
	if r.video != nil {
		v := *r.video
		state.CurrentVideo = &v
	}
	state.SentAt = now
	return state
}

// Restore replaces the room's state from a persisted snapshot.
func (r *Room) Restore(state *protocol.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.objects = make(map[uuid.UUID]*canvas.Object, len(state.Notes))
	r.order = r.order[:0]
	for _, obj := range state.Notes {
		r.insertLocked(obj)
	}
	incoming := make([]*canvas.Stroke, 0, len(state.Strokes))
	for i := range state.Strokes {
		s := state.Strokes[i]
		incoming = append(incoming, &s)
	}
	r.strokes.Replace(incoming)
	r.video = state.CurrentVideo
	r.dirty = false
}

// ConsumeDirty reports whether the room changed since the last call and
// resets the flag. Used to debounce snapshot persistence.
func (r *Room) ConsumeDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.dirty
	r.dirty = false
	return d
}

func (r *Room) insertLocked(obj canvas.Object) {
	if _, exists := r.objects[obj.ID]; !exists {
		r.order = append(r.order, obj.ID)
	}
	r.objects[obj.ID] = obj.Clone()
}

// Rooms is the registry of active rooms.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
	clock clockwork.Clock

	// onCreate runs once per new room, outside the registry lock, so the
	// service can restore persisted state before traffic hits it.
	onCreate func(*Room)
}

// NewRooms creates the registry.
func NewRooms(clock clockwork.Clock, onCreate func(*Room)) *Rooms {
	return &Rooms{
		rooms:    make(map[string]*Room),
		clock:    clock,
		onCreate: onCreate,
	}
}

// Get returns the room, creating it on first use.
func (rs *Rooms) Get(name string) *Room {
	rs.mu.Lock()
	room, ok := rs.rooms[name]
	if !ok {
		room = NewRoom(name, rs.clock)
		rs.rooms[name] = room
	}
	rs.mu.Unlock()

	if !ok && rs.onCreate != nil {
		rs.onCreate(room)
	}
	return room
}

// All returns every active room.
func (rs *Rooms) All() []*Room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]*Room, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		out = append(out, r)
	}
	return out
}
