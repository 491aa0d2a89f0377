package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/emberwall/emberwall/internal/canvas"
	"github.com/emberwall/emberwall/internal/gesture"
	"github.com/emberwall/emberwall/internal/physics"
	"github.com/emberwall/emberwall/internal/protocol"
)

// fakeSender records every outbound message.
type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Message
	err  error
}

func (f *fakeSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) kinds() []protocol.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Kind, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.MessageKind()
	}
	return out
}

func newTestSession() (*Session, *fakeSender, *clockwork.FakeClock) {
	snd := &fakeSender{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(snd, clock, DefaultTickRate), snd, clock
}

const tick = time.Second / DefaultTickRate

func TestPostMessage_ForwardsPost(t *testing.T) {
	s, snd, clock := newTestSession()

	id, err := s.PostMessage("hello", "ada", 50, 50, time.Minute)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	obj, ok := s.Object(id)
	if !ok {
		t.Fatal("posted message not in local store")
	}
	if obj.ExpireAt == nil || !obj.ExpireAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("ExpireAt = %v, want now+1m", obj.ExpireAt)
	}

	kinds := snd.kinds()
	if len(kinds) != 1 || kinds[0] != protocol.KindPost {
		t.Errorf("outbound kinds = %v, want [post]", kinds)
	}
}

func TestThrowObject_CreatesBodyAndForwards(t *testing.T) {
	s, snd, _ := newTestSession()
	id, _ := s.PostMessage("fling me", "", 50, 50, 0)

	t0 := time.Now()
	ok, err := s.ThrowObject(id,
		gesture.Point{X: 50, Y: 50}, t0,
		gesture.Point{X: 60, Y: 50}, t0.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("ThrowObject() = %v, %v", ok, err)
	}

	body := s.World().Body(id)
	if body == nil {
		t.Fatal("throw did not create a physics body")
	}
	if body.VX != 50 || body.VY != 0 {
		t.Errorf("body velocity = (%v, %v), want (50, 0)", body.VX, body.VY)
	}

	kinds := snd.kinds()
	if kinds[len(kinds)-1] != protocol.KindObjectThrow {
		t.Errorf("last outbound = %v, want object_throw", kinds[len(kinds)-1])
	}
}

func TestThrowObject_DegenerateDragIsNoop(t *testing.T) {
	s, _, _ := newTestSession()
	id, _ := s.PostMessage("still", "", 50, 50, 0)

	t0 := time.Now()
	ok, err := s.ThrowObject(id,
		gesture.Point{X: 50, Y: 50}, t0,
		gesture.Point{X: 50.5, Y: 50}, t0.Add(time.Second))
	if err != nil || ok {
		t.Errorf("ThrowObject(tap) = %v, %v, want false, nil", ok, err)
	}
	if s.World().Body(id) != nil {
		t.Error("tap should not create a physics body")
	}
}

func TestThrowObject_UnknownID(t *testing.T) {
	s, _, _ := newTestSession()
	t0 := time.Now()
	ok, err := s.ThrowObject(uuid.New(),
		gesture.Point{X: 0, Y: 0}, t0,
		gesture.Point{X: 50, Y: 50}, t0.Add(time.Second))
	if err != nil || ok {
		t.Errorf("ThrowObject(unknown) = %v, %v, want false, nil", ok, err)
	}
}

func TestTick_WritesPositionsBack(t *testing.T) {
	s, _, _ := newTestSession()
	id, _ := s.PostMessage("mover", "", 50, 50, 0)

	t0 := time.Now()
	s.ThrowObject(id,
		gesture.Point{X: 40, Y: 50}, t0,
		gesture.Point{X: 60, Y: 50}, t0.Add(time.Second)) // 100 pct/s

	s.Tick(tick)

	obj, _ := s.Object(id)
	if obj.X <= 50 {
		t.Errorf("X = %v after tick, want > 50", obj.X)
	}
	if obj.Physics == nil || !obj.Physics.Bouncing {
		t.Error("object should still be bouncing after one tick")
	}
}

func TestTick_SettledBodiesAreRetired(t *testing.T) {
	s, _, _ := newTestSession()
	id, _ := s.PostMessage("settle", "", 50, 50, 0)

	t0 := time.Now()
	s.ThrowObject(id,
		gesture.Point{X: 45, Y: 50}, t0,
		gesture.Point{X: 50, Y: 50}, t0.Add(time.Second)) // gentle 25 pct/s

	for i := 0; i < 10000 && s.World().Body(id) != nil; i++ {
		s.Tick(tick)
	}

	if s.World().Body(id) != nil {
		t.Fatal("body never settled")
	}
	obj, ok := s.Object(id)
	if !ok {
		t.Fatal("object must survive its body")
	}
	if obj.Physics == nil || obj.Physics.Bouncing {
		t.Error("settled object should not be bouncing")
	}
	if obj.Physics.VX != 0 || obj.Physics.VY != 0 {
		t.Errorf("settled velocity = (%v, %v), want (0, 0)", obj.Physics.VX, obj.Physics.VY)
	}
}

func TestHandleMessage_AppliedOnNextTick(t *testing.T) {
	s, _, _ := newTestSession()

	id := uuid.New()
	s.HandleMessage(&protocol.New{Type: protocol.KindNew, Note: canvas.Object{
		ID: id, Type: canvas.ObjectTypeMessage, X: 30, Y: 30,
	}})

	if _, ok := s.Object(id); ok {
		t.Fatal("inbound message applied before the tick")
	}

	s.Tick(tick)
	if _, ok := s.Object(id); !ok {
		t.Error("inbound message not applied by the tick")
	}
}

func TestRemoteThrow_EntersSimulation(t *testing.T) {
	s, _, _ := newTestSession()

	id := uuid.New()
	s.HandleMessage(&protocol.New{Type: protocol.KindNew, Note: canvas.Object{
		ID: id, Type: canvas.ObjectTypeMessage, X: 50, Y: 50,
	}})
	s.HandleMessage(&protocol.ObjectThrow{
		Type: protocol.KindObjectThrow, ObjectID: id, VX: 60, VY: 0,
	})

	s.Tick(tick)

	body := s.World().Body(id)
	if body == nil {
		t.Fatal("remote throw did not create a body")
	}
	if body.X <= 50 {
		t.Errorf("body X = %v after tick, want > 50", body.X)
	}
}

func TestSnapshot_RetiresStaleBodies(t *testing.T) {
	s, _, _ := newTestSession()
	id, _ := s.PostMessage("old", "", 50, 50, 0)

	t0 := time.Now()
	s.ThrowObject(id,
		gesture.Point{X: 40, Y: 50}, t0,
		gesture.Point{X: 60, Y: 50}, t0.Add(time.Second))
	if s.World().Body(id) == nil {
		t.Fatal("throw should create a body")
	}

	fresh := canvas.Object{
		ID: uuid.New(), Type: canvas.ObjectTypeMessage, X: 20, Y: 20,
		Physics: &canvas.Physics{VX: 30, Bouncing: true},
	}
	s.HandleMessage(protocol.NewState([]canvas.Object{fresh}, nil))
	s.Tick(tick)

	if s.World().Body(id) != nil {
		t.Error("body for pre-snapshot object still simulated")
	}
	if s.World().Body(fresh.ID) == nil {
		t.Error("bouncing snapshot object should enter the simulation")
	}
	if _, ok := s.Object(id); ok {
		t.Error("pre-snapshot object survived the snapshot")
	}
}

func TestCollisionListener(t *testing.T) {
	s, _, _ := newTestSession()
	var events []physics.CollisionEvent
	s.SetCollisionListener(func(ev physics.CollisionEvent) { events = append(events, ev) })

	id, _ := s.PostMessage("bouncer", "", 95, 50, 0)
	t0 := time.Now()
	s.ThrowObject(id,
		gesture.Point{X: 55, Y: 50}, t0,
		gesture.Point{X: 95, Y: 50}, t0.Add(time.Second)) // 200 pct/s at the wall

	for i := 0; i < 30 && len(events) == 0; i++ {
		s.Tick(tick)
	}
	if len(events) == 0 {
		t.Fatal("no collision event for a body hurled at the wall")
	}
	if events[0].BodyID != id {
		t.Errorf("event BodyID = %v, want %v", events[0].BodyID, id)
	}
}

func TestSendFailureKeepsOptimisticState(t *testing.T) {
	s, snd, _ := newTestSession()
	snd.err = errTest

	id, err := s.PostMessage("offline", "", 50, 50, 0)
	if err == nil {
		t.Fatal("PostMessage() should surface the send error")
	}
	if _, ok := s.Object(id); !ok {
		t.Error("local mutation must be kept when the channel is down")
	}
}

var errTest = errors.New("connection reset by peer")
