// Package session owns one client's canvas: the object store, the physics
// world, the stroke index, and the sync channel, wired together by a single
// recurring tick.
//
// All shared state is mutated from one logical writer. Inbound network
// messages are queued and drained at the top of each tick, and the public
// mutation API serializes behind the session mutex, so the physics world
// never sees two writers (per-object linearizability).
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/canvas"
	"github.com/emberwall/emberwall/internal/gesture"
	"github.com/emberwall/emberwall/internal/physics"
	"github.com/emberwall/emberwall/internal/protocol"
	"github.com/emberwall/emberwall/internal/store"
	"github.com/emberwall/emberwall/internal/strokes"
)

// DefaultTickRate is the simulation frequency in ticks per second.
const DefaultTickRate = 30

const inboxSize = 256

// Sender forwards outbound messages; implemented by syncer.Channel.
type Sender interface {
	Send(protocol.Message) error
}

// Session is one client's live canvas.
type Session struct {
	mu sync.Mutex

	store   *store.Store
	world   *physics.World
	strokes *strokes.Index
	sender  Sender
	clock   clockwork.Clock

	tickRate int
	inbox    chan protocol.Message

	onCollision func(physics.CollisionEvent)
}

// New assembles a session. The world, store and stroke index are created
// here and owned by the session; nothing in the package is process-global.
// A nil sender is allowed for headless offline simulation.
func New(sender Sender, clock clockwork.Clock, tickRate int) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}

	idx := strokes.NewIndex()
	s := &Session{
		store:    store.New(idx, clock),
		world:    physics.NewWorld(),
		strokes:  idx,
		sender:   sender,
		clock:    clock,
		tickRate: tickRate,
		inbox:    make(chan protocol.Message, inboxSize),
	}

	s.store.SetHooks(store.Hooks{
		ObjectThrown:  s.ensureBody,
		ObjectRemoved: s.world.RemoveBody,
	})
	s.world.SetCollisionHandler(func(ev physics.CollisionEvent) {
		if s.onCollision != nil {
			s.onCollision(ev)
		}
	})
	return s
}

// SetSender wires the outbound channel after construction. The channel needs
// the session's handler at dial time, so the two are tied together in this
// order: session first, channel second, then SetSender. Must be called
// before Run.
func (s *Session) SetSender(snd Sender) { s.sender = snd }

// SetCollisionListener registers a callback for boundary/stroke hits,
// consumed by the out-of-scope audio and particle layers. Invoked from the
// tick goroutine; it must return quickly.
func (s *Session) SetCollisionListener(fn func(physics.CollisionEvent)) {
	s.onCollision = fn
}

// HandleMessage queues one inbound message for the next tick. Wire this as
// the sync channel's handler. If the inbox is full the message is dropped;
// the protocol is fire-and-forget and the next snapshot reconverges.
func (s *Session) HandleMessage(msg protocol.Message) {
	select {
	case s.inbox <- msg:
	default:
		log.Warn().Str("kind", string(msg.MessageKind())).Msg("session inbox full, dropping message")
	}
}

// Run drives the tick loop until ctx is cancelled. Each tick drains queued
// inbound messages, advances the physics world by the fixed step, resolves
// stroke collisions, and writes settled body state back into the store. A
// tick is never re-entered: the next one fires only after the prior
// completes.
func (s *Session) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.tickRate)
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Int("tick_rate", s.tickRate).Msg("session tick loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session tick loop stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.Tick(interval)
		}
	}
}

// Tick runs one simulation step of the given duration. Exposed so headless
// tests and tools can drive time deterministically without Run.
func (s *Session) Tick(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainInboxLocked()

	settled := s.world.Advance(dt)
	s.world.ResolveStrokeCollisions(s.strokes)

	for _, b := range s.world.Bodies() {
		s.store.SyncBody(b.ID, b.X, b.Y, b.VX, b.VY, b.Bouncing)
	}
	// A body at rest is transient bounce state, not the object: retire the
	// body, keep the object where it stopped.
	for _, id := range settled {
		s.world.RemoveBody(id)
	}
}

func (s *Session) drainInboxLocked() {
	for {
		select {
		case msg := <-s.inbox:
			s.store.ApplyRemote(msg)
		default:
			return
		}
	}
}

// --- local gesture API -----------------------------------------------------

// PostMessage drops a text note on the canvas and forwards it. ttl of zero
// means the note never expires.
func (s *Session) PostMessage(text, author string, x, y float64, ttl time.Duration) (uuid.UUID, error) {
	obj := canvas.Object{
		Type:    canvas.ObjectTypeMessage,
		X:       x,
		Y:       y,
		Payload: canvas.MessagePayload{Text: text, Author: author},
	}
	if ttl > 0 {
		expire := s.clock.Now().Add(ttl)
		obj.ExpireAt = &expire
	}
	return s.PostObject(obj)
}

// PostObject creates any object locally (optimistic) and forwards it.
func (s *Session) PostObject(obj canvas.Object) (uuid.UUID, error) {
	s.mu.Lock()
	msg := s.store.CreateLocal(obj)
	s.mu.Unlock()
	return msg.Note.ID, s.send(msg)
}

// MoveObject repositions an object. Unknown ids are a no-op (ok=false).
func (s *Session) MoveObject(id uuid.UUID, x, y float64) (bool, error) {
	s.mu.Lock()
	msg, ok := s.store.Move(id, x, y)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.send(msg)
}

// UpdateObject applies a partial patch. Unknown ids are a no-op.
func (s *Session) UpdateObject(id uuid.UUID, updates json.RawMessage) (bool, error) {
	s.mu.Lock()
	msg, ok := s.store.Update(id, updates)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.send(msg)
}

// ThrowObject converts a drag gesture into a velocity and flings the object.
// Degenerate drags (zero duration, sub-threshold distance) resolve to no
// throw and are reported with ok=false; unknown ids are a no-op.
func (s *Session) ThrowObject(id uuid.UUID, p0 gesture.Point, t0 time.Time, p1 gesture.Point, t1 time.Time) (bool, error) {
	vel := gesture.Throw(p0, t0, p1, t1)
	if vel.IsZero() {
		return false, nil
	}

	s.mu.Lock()
	msg, ok := s.store.Throw(id, vel.VX, vel.VY)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.send(msg)
}

// DeleteObject removes an object. Unknown ids are a no-op.
func (s *Session) DeleteObject(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	msg, ok := s.store.Delete(id)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.send(msg)
}

// FinishStroke finalizes a freehand stroke (bounds are computed here) and
// forwards it.
func (s *Session) FinishStroke(stroke canvas.Stroke) (uuid.UUID, error) {
	s.mu.Lock()
	msg := s.store.AddStroke(stroke)
	s.mu.Unlock()
	return msg.Stroke.ID, s.send(msg)
}

// ClearDrawings wipes every stroke, locally and for all peers.
func (s *Session) ClearDrawings() error {
	s.mu.Lock()
	msg := s.store.ClearStrokes()
	s.mu.Unlock()
	return s.send(msg)
}

// View returns the reaped read view for the rendering layer.
func (s *Session) View() ([]canvas.Object, []canvas.Stroke) {
	return s.store.View()
}

// Object returns a copy of a single live object.
func (s *Session) Object(id uuid.UUID) (canvas.Object, bool) {
	return s.store.Object(id)
}

// World exposes the physics world for tests and diagnostics. Callers other
// than the tick goroutine must not mutate it.
func (s *Session) World() *physics.World { return s.world }

// send forwards an outbound message. The optimistic local mutation is kept
// even when the channel is down; the caller sees the error and can offer
// retry UX while the next snapshot reconverges state.
func (s *Session) send(msg protocol.Message) error {
	if s.sender == nil {
		return nil
	}
	if err := s.sender.Send(msg); err != nil {
		log.Warn().Err(err).Str("kind", string(msg.MessageKind())).Msg("outbound message not sent")
		return err
	}
	return nil
}

// ensureBody creates or replaces the physics body for a thrown object,
// seeding it with the object's velocity. Store hook; runs under the store
// lock on the mutating goroutine.
func (s *Session) ensureBody(obj canvas.Object) {
	w, h := obj.W, obj.H
	if w == 0 {
		w = 10 // nominal footprint for objects without an explicit size
	}
	if h == 0 {
		h = 10
	}
	params := physics.Params{}
	if obj.Physics != nil {
		params.Mass = obj.Physics.Mass
		params.Friction = obj.Physics.Friction
		params.Restitution = obj.Physics.Restitution
	}
	body := s.world.AddBody(obj.ID, obj.X, obj.Y, w, h, params)
	if obj.Physics != nil {
		body.VX, body.VY = physics.ClampSpeed(obj.Physics.VX, obj.Physics.VY)
	}
}
