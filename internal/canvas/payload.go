package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Payload is the per-type content of a canvas object. Exactly one concrete
// shape exists per ObjectType; the union is keyed by Object.Type on the wire.
type Payload interface {
	Kind() ObjectType
}

// MessagePayload is the content of a short-lived text note.
type MessagePayload struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

func (MessagePayload) Kind() ObjectType { return ObjectTypeMessage }

// DrawingPayload groups finished strokes under a movable object.
type DrawingPayload struct {
	StrokeIDs []uuid.UUID `json:"stroke_ids"`
}

func (DrawingPayload) Kind() ObjectType { return ObjectTypeDrawing }

// ImagePayload carries an inline image, base64-encoded by the client.
type ImagePayload struct {
	Data    string `json:"data"`
	AltText string `json:"alt_text,omitempty"`
}

func (ImagePayload) Kind() ObjectType { return ObjectTypeImage }

// EmbedPayload references external content rendered by the (out of scope)
// embedding layer.
type EmbedPayload struct {
	URL      string `json:"url"`
	Provider string `json:"provider,omitempty"`
}

func (EmbedPayload) Kind() ObjectType { return ObjectTypeEmbedding }

// DecodePayload parses raw payload JSON into the shape matching typ.
// A nil/empty payload decodes to nil.
func DecodePayload(typ ObjectType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch typ {
	case ObjectTypeMessage:
		var p MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		return p, nil
	case ObjectTypeDrawing:
		var p DrawingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode drawing payload: %w", err)
		}
		return p, nil
	case ObjectTypeImage:
		var p ImagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		return p, nil
	case ObjectTypeEmbedding:
		var p EmbedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode embedding payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
}
