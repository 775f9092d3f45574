// Package protocol decodes inbound ChatStream frames into events and encodes
// outbound frames. Every frame is one JSON object tagged by "event".
package protocol

import (
	"bytes"
	"encoding/json"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
)

// Event names on the wire.
const (
	EventSendMessage   = "send_message"
	EventMessageAck    = "message_ack"
	EventNewMessage    = "new_message"
	EventMessageStatus = "message_status"
	EventEcho          = "echo"
	EventError         = "error"
)

// SignalKind is a call-negotiation event relayed between peers.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalEnd       SignalKind = "end"
)

// Event is the closed set of inbound events: SendMessage, Signal, Unknown
// and Malformed.
type Event interface {
	// Name labels the event for logs and metrics.
	Name() string
	isEvent()
}

// SendMessage asks to persist and deliver a message to RecipientID.
type SendMessage struct {
	RecipientID string  `json:"recipient_id"`
	Type        string  `json:"type"`
	Text        *string `json:"text"`
	ImageURL    *string `json:"image_url"`
	SharedRefID *string `json:"shared_ref_id"`
}

// Signal is relayed verbatim to To. Raw is the frame as received.
type Signal struct {
	Kind SignalKind
	To   string
	Raw  []byte
}

// Unknown is a well-formed object whose tag is not recognised. It is echoed.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

// Malformed is a frame that could not be decoded. It is returned unchanged.
type Malformed struct {
	Raw []byte
	Err error
}

func (SendMessage) Name() string { return EventSendMessage }
func (s Signal) Name() string    { return string(s.Kind) }
func (Unknown) Name() string     { return "unknown" }
func (Malformed) Name() string   { return "malformed" }

func (SendMessage) isEvent() {}
func (Signal) isEvent()      {}
func (Unknown) isEvent()     {}
func (Malformed) isEvent()   {}

type envelope struct {
	Event string          `json:"event"`
	To    json.RawMessage `json:"to"`
	Data  json.RawMessage `json:"data"`
}

// Decode classifies one inbound frame. It never fails: anything that is not
// a JSON object, or a send_message whose data cannot be read, is Malformed.
func Decode(frame []byte) Event {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Malformed{Raw: frame}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Malformed{Raw: frame, Err: err}
	}

	switch env.Event {
	case EventSendMessage:
		var msg SendMessage
		if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				return Malformed{Raw: frame, Err: err}
			}
		}
		return msg
	case string(SignalOffer), string(SignalAnswer), string(SignalCandidate), string(SignalEnd):
		var to string
		// a non-string "to" leaves To empty and the relay drops it
		_ = json.Unmarshal(env.To, &to)
		return Signal{Kind: SignalKind(env.Event), To: to, Raw: frame}
	}
	return Unknown{Tag: env.Event, Raw: json.RawMessage(trimmed)}
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, data any) v1.Frame {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		// only reachable with invalid json.RawMessage input
		b, _ = json.Marshal(outbound{Event: EventError, Data: map[string]string{"message": err.Error()}})
	}
	return b
}

// Ack acknowledges a stored message to its sender.
func Ack(messageID string) v1.Frame {
	return encode(EventMessageAck, map[string]string{"id": messageID})
}

// NewMessage pushes a stored message to its recipient.
func NewMessage(msg *v1.Message) v1.Frame {
	return encode(EventNewMessage, msg)
}

// MessageStatus tells a sender that a message's status advanced.
func MessageStatus(messageID, status string) v1.Frame {
	return encode(EventMessageStatus, map[string]string{"id": messageID, "status": status})
}

// Echo wraps an unrecognised object.
func Echo(raw json.RawMessage) v1.Frame {
	return encode(EventEcho, raw)
}

// Error reports a frame-level failure; the connection stays open.
func Error(message string) v1.Frame {
	return encode(EventError, map[string]string{"message": message})
}
