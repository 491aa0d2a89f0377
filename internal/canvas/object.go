package canvas

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ObjectType defines the kind of canvas object.
type ObjectType string

const (
	ObjectTypeMessage   ObjectType = "message"
	ObjectTypeDrawing   ObjectType = "drawing"
	ObjectTypeImage     ObjectType = "image"
	ObjectTypeEmbedding ObjectType = "embedding"
)

// Physics holds the motion state of a bouncing object. Positions live on the
// Object itself; this block only carries velocity and material parameters.
type Physics struct {
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	Mass        float64 `json:"mass,omitempty"`
	Friction    float64 `json:"friction,omitempty"`
	Restitution float64 `json:"restitution,omitempty"`
	Bouncing    bool    `json:"bouncing"`
}

// Object represents a single item on the canvas. X and Y are percentages of
// canvas width/height in [0,100], so positions are resolution independent.
type Object struct {
	ID        uuid.UUID  `json:"id"`
	Type      ObjectType `json:"type"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	W         float64    `json:"w,omitempty"`
	H         float64    `json:"h,omitempty"`
	Physics   *Physics   `json:"physics,omitempty"`
	Payload   Payload    `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
}

// ClampPct clamps a percentage coordinate to [0,100].
func ClampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampPosition snaps the object's position back into the canvas.
func (o *Object) ClampPosition() {
	o.X = ClampPct(o.X)
	o.Y = ClampPct(o.Y)
}

// Expired reports whether the object's TTL has elapsed at the given instant.
// Objects without an ExpireAt never expire.
func (o *Object) Expired(now time.Time) bool {
	return o.ExpireAt != nil && !o.ExpireAt.After(now)
}

// Clone returns a deep copy so callers can hand objects across goroutine
// boundaries without sharing the physics block.
func (o *Object) Clone() *Object {
	c := *o
	if o.Physics != nil {
		p := *o.Physics
		c.Physics = &p
	}
	if o.ExpireAt != nil {
		t := *o.ExpireAt
		c.ExpireAt = &t
	}
	return &c
}

type objectJSON struct {
	ID        uuid.UUID       `json:"id"`
	Type      ObjectType      `json:"type"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	W         float64         `json:"w,omitempty"`
	H         float64         `json:"h,omitempty"`
	Physics   *Physics        `json:"physics,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpireAt  *time.Time      `json:"expire_at,omitempty"`
}

// MarshalJSON encodes the object with its payload inlined under "payload".
func (o Object) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if o.Payload != nil {
		b, err := json.Marshal(o.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", o.Type, err)
		}
		raw = b
	}
	return json.Marshal(objectJSON{
		ID:        o.ID,
		Type:      o.Type,
		X:         o.X,
		Y:         o.Y,
		W:         o.W,
		H:         o.H,
		Physics:   o.Physics,
		Payload:   raw,
		CreatedAt: o.CreatedAt,
		ExpireAt:  o.ExpireAt,
	})
}

// UnmarshalJSON decodes the object and dispatches the payload on the type
// discriminator. Positions are clamped on the way in so a remote peer can
// never push an object off the canvas.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw objectJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	o.ID = raw.ID
	o.Type = raw.Type
	o.X = ClampPct(raw.X)
	o.Y = ClampPct(raw.Y)
	o.W = raw.W
	o.H = raw.H
	o.Physics = raw.Physics
	o.Payload = payload
	o.CreatedAt = raw.CreatedAt
	o.ExpireAt = raw.ExpireAt
	return nil
}
