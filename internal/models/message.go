package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event names a signaling message kind on the wire.
type Event string

// Client to server.
const (
	EventJoinRoom     Event = "join-room"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventIceCandidate Event = "ice-candidate"
)

// Server to client. Offer, answer and ice-candidate are echoed under the
// same names they arrive with.
const (
	EventJoinedRoom       Event = "joined-room"
	EventRoomFull         Event = "room-full"
	EventPeerJoined       Event = "peer-joined"
	EventPeerDisconnected Event = "peer-disconnected"
)

// Data channel message tags. These travel peer to peer and never reach the
// server; they are listed so both ends agree on them.
const (
	ChannelChat      = "chat"
	ChannelVideoSync = "video-sync"
	ChannelVideoLoad = "video-load"
	ChannelCameraOff = "camera-off"
	ChannelCameraOn  = "camera-on"
)

// Envelope is a single websocket frame.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame renders the envelope for the wire. Data is copied verbatim;
// json.Marshal would compact it and escape <, > and &.
func (e *Envelope) Frame() []byte {
	var buf bytes.Buffer
	buf.Grow(len(e.Event) + len(e.Data) + 24)
	buf.WriteString(`{"event":`)
	buf.WriteString(strconv.Quote(string(e.Event)))
	if len(e.Data) > 0 {
		buf.WriteString(`,"data":`)
		buf.Write(e.Data)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// OfferPayload is the client's offer frame data.
type OfferPayload struct {
	RoomID string          `json:"roomId"`
	Offer  json.RawMessage `json:"offer"`
}

// AnswerPayload is the client's answer frame data.
type AnswerPayload struct {
	RoomID string          `json:"roomId"`
	Answer json.RawMessage `json:"answer"`
}

// CandidatePayload is the client's ice-candidate frame data.
type CandidatePayload struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}

// NewEnvelope builds an outbound frame. A nil data value leaves Data empty.
func NewEnvelope(event Event, data any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// Signal is a decoded inbound frame routed through the relay.
type Signal struct {
	Event   Event
	From    string
	RoomID  string
	Payload json.RawMessage
}

// DecodeSignal validates an inbound envelope and extracts the room id and
// the opaque payload. Unknown events return an error.
func DecodeSignal(from string, env *Envelope) (*Signal, error) {
	sig := &Signal{Event: env.Event, From: from}

	switch env.Event {
	case EventJoinRoom:
		if err := json.Unmarshal(env.Data, &sig.RoomID); err != nil {
			return nil, fmt.Errorf("invalid join-room data: %w", err)
		}
	case EventOffer:
		var p OfferPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid offer data: %w", err)
		}
		sig.RoomID, sig.Payload = p.RoomID, p.Offer
	case EventAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid answer data: %w", err)
		}
		sig.RoomID, sig.Payload = p.RoomID, p.Answer
	case EventIceCandidate:
		var p CandidatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid ice-candidate data: %w", err)
		}
		sig.RoomID, sig.Payload = p.RoomID, p.Candidate
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if sig.RoomID == "" {
		return nil, fmt.Errorf("%s: roomId is required", env.Event)
	}
	return sig, nil
}
