package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message is one JSON object on the relay websocket, in either direction.
type Message struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Room  string          `json:"room,omitempty"`
	Peers []string        `json:"peers,omitempty"`
	To    string          `json:"to,omitempty"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message type constants.
const (
	MessageTypeID    = "id"
	MessageTypeJoin  = "join"
	MessageTypePeers = "peers"

	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"
)

// Directed reports whether the message is addressed to a single participant.
func (m *Message) Directed() bool {
	switch m.Type {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}

// NewJoin builds the room-scoped join request.
func NewJoin(room string) *Message {
	return &Message{Type: MessageTypeJoin, Room: room}
}

// NewDescription builds an offer or answer addressed to a remote participant.
func NewDescription(from, to string, desc webrtc.SessionDescription) (*Message, error) {
	var t string
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		t = MessageTypeOffer
	case webrtc.SDPTypeAnswer:
		t = MessageTypeAnswer
	default:
		return nil, fmt.Errorf("%w: sdp type %s", ErrMalformed, desc.Type)
	}

	data, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, From: from, To: to, Data: data}, nil
}

// NewCandidate builds an ice-candidate message addressed to a remote participant.
func NewCandidate(from, to string, c webrtc.ICECandidateInit) (*Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeICECandidate, From: from, To: to, Data: data}, nil
}

// EventType discriminates the events a Client delivers.
type EventType int

const (
	EventPeers EventType = iota
	EventOffer
	EventAnswer
	EventCandidate

	// EventTransportLost is always the last event before Events closes.
	EventTransportLost
)

func (t EventType) String() string {
	switch t {
	case EventPeers:
		return "peers"
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventCandidate:
		return "candidate"
	case EventTransportLost:
		return "transport-lost"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a decoded inbound message or a lifecycle notification.
type Event struct {
	Type EventType

	// From is the sender of a directed message.
	From string

	// Peers is the membership snapshot of an EventPeers.
	Peers []string

	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit

	// Err is the cause of an EventTransportLost.
	Err error
}
