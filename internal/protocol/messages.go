// Package protocol defines the JSON message contract spoken between canvas
// clients and the relay. Every frame is a flat JSON object with a "type"
// discriminator; all positions are percentages of canvas width/height in
// [0,100], so the wire format is resolution independent.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/emberwall/emberwall/internal/canvas"
)

// Kind discriminates message types on the wire.
type Kind string

const (
	KindHello         Kind = "hello"
	KindPost          Kind = "post"
	KindState         Kind = "state"
	KindNew           Kind = "new"
	KindMove          Kind = "move"
	KindObjectUpdate  Kind = "object_update"
	KindObjectThrow   Kind = "object_throw"
	KindObjectDelete  Kind = "object_delete"
	KindDrawingStroke Kind = "drawing_stroke"
	KindDrawingClear  Kind = "drawing_clear"
	KindVideoSync     Kind = "video_sync"
)

// Message is implemented by every wire message.
type Message interface {
	MessageKind() Kind
}

// Hello is the client -> server handshake sent once per successful open.
// The server answers with a single State snapshot.
type Hello struct {
	Type     Kind   `json:"type"`
	ClientID string `json:"clientId,omitempty"`
}

func NewHello(clientID string) *Hello { return &Hello{Type: KindHello, ClientID: clientID} }
func (m *Hello) MessageKind() Kind    { return KindHello }

// Post is a client -> server object creation request.
type Post struct {
	Type Kind          `json:"type"`
	Note canvas.Object `json:"note"`
}

func NewPost(obj canvas.Object) *Post { return &Post{Type: KindPost, Note: obj} }
func (m *Post) MessageKind() Kind     { return KindPost }

// VideoState is the ancillary shared-video position carried in snapshots and
// video_sync messages. Out of the sync core; defined for wire completeness.
type VideoState struct {
	URL      string  `json:"url"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// State is the full authoritative snapshot, sent server -> client once per
// connection. Applying it replaces all local object and stroke state.
type State struct {
	Type         Kind             `json:"type"`
	Notes        []canvas.Object  `json:"notes"`
	Strokes      []canvas.Stroke  `json:"strokes"`
	CurrentVideo *VideoState      `json:"currentVideo,omitempty"`
	SentAt       time.Time        `json:"sentAt,omitempty"`
}

func NewState(notes []canvas.Object, strokes []canvas.Stroke) *State {
	return &State{Type: KindState, Notes: notes, Strokes: strokes}
}
func (m *State) MessageKind() Kind { return KindState }

// New is the server -> client incremental create broadcast.
type New struct {
	Type Kind          `json:"type"`
	Note canvas.Object `json:"note"`
}

func NewNew(obj canvas.Object) *New { return &New{Type: KindNew, Note: obj} }
func (m *New) MessageKind() Kind    { return KindNew }

// Move is a bidirectional position update.
type Move struct {
	Type   Kind      `json:"type"`
	NoteID uuid.UUID `json:"noteId"`
	XPct   float64   `json:"xPct"`
	YPct   float64   `json:"yPct"`
}

func NewMove(id uuid.UUID, x, y float64) *Move {
	return &Move{Type: KindMove, NoteID: id, XPct: x, YPct: y}
}
func (m *Move) MessageKind() Kind { return KindMove }

// ObjectUpdate is a bidirectional partial patch; Updates carries only the
// fields being changed and is merged field-wise into the target object.
type ObjectUpdate struct {
	Type     Kind            `json:"type"`
	ObjectID uuid.UUID       `json:"objectId"`
	Updates  json.RawMessage `json:"updates"`
}

func NewObjectUpdate(id uuid.UUID, updates json.RawMessage) *ObjectUpdate {
	return &ObjectUpdate{Type: KindObjectUpdate, ObjectID: id, Updates: updates}
}
func (m *ObjectUpdate) MessageKind() Kind { return KindObjectUpdate }

// ObjectThrow is a bidirectional velocity injection. Receiving it implicitly
// sets physics.bouncing on the target object.
type ObjectThrow struct {
	Type     Kind      `json:"type"`
	ObjectID uuid.UUID `json:"objectId"`
	VX       float64   `json:"vx"`
	VY       float64   `json:"vy"`
}

func NewObjectThrow(id uuid.UUID, vx, vy float64) *ObjectThrow {
	return &ObjectThrow{Type: KindObjectThrow, ObjectID: id, VX: vx, VY: vy}
}
func (m *ObjectThrow) MessageKind() Kind { return KindObjectThrow }

// ObjectDelete is a bidirectional removal.
type ObjectDelete struct {
	Type     Kind      `json:"type"`
	ObjectID uuid.UUID `json:"objectId"`
}

func NewObjectDelete(id uuid.UUID) *ObjectDelete {
	return &ObjectDelete{Type: KindObjectDelete, ObjectID: id}
}
func (m *ObjectDelete) MessageKind() Kind { return KindObjectDelete }

// DrawingStroke carries one finished freehand stroke.
type DrawingStroke struct {
	Type   Kind          `json:"type"`
	Stroke canvas.Stroke `json:"stroke"`
}

func NewDrawingStroke(s canvas.Stroke) *DrawingStroke {
	return &DrawingStroke{Type: KindDrawingStroke, Stroke: s}
}
func (m *DrawingStroke) MessageKind() Kind { return KindDrawingStroke }

// DrawingClear wipes every stroke on the canvas.
type DrawingClear struct {
	Type Kind `json:"type"`
}

func NewDrawingClear() *DrawingClear      { return &DrawingClear{Type: KindDrawingClear} }
func (m *DrawingClear) MessageKind() Kind { return KindDrawingClear }

// VideoSync updates the shared video position (ancillary message kind).
type VideoSync struct {
	Type  Kind       `json:"type"`
	Video VideoState `json:"video"`
}

func NewVideoSync(v VideoState) *VideoSync { return &VideoSync{Type: KindVideoSync, Video: v} }
func (m *VideoSync) MessageKind() Kind     { return KindVideoSync }
