package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned by Decode for a well-formed frame whose type
// discriminator is not part of the protocol. Receivers drop such frames
// per-message; the channel stays alive.
var ErrUnknownMessage = errors.New("unknown message type")

// Encode serializes a message to its wire form.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.MessageKind(), err)
	}
	return data, nil
}

// Decode parses one wire frame into its typed message. Malformed JSON or a
// frame failing its schema returns an error covering only that frame.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var msg Message
	switch probe.Type {
	case KindHello:
		msg = &Hello{}
	case KindPost:
		msg = &Post{}
	case KindState:
		msg = &State{}
	case KindNew:
		msg = &New{}
	case KindMove:
		msg = &Move{}
	case KindObjectUpdate:
		msg = &ObjectUpdate{}
	case KindObjectThrow:
		msg = &ObjectThrow{}
	case KindObjectDelete:
		msg = &ObjectDelete{}
	case KindDrawingStroke:
		msg = &DrawingStroke{}
	case KindDrawingClear:
		msg = &DrawingClear{}
	case KindVideoSync:
		msg = &VideoSync{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", probe.Type, err)
	}
	return msg, nil
}
