package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// route turns a relay message into the event the reconciler consumes. The
// bool result is false for messages that carry no event (id, unknown types).
func (c *Client) route(msg *Message) (Event, bool, error) {
	switch msg.Type {
	case MessageTypeID:
		return Event{}, false, c.handleID(msg)

	case MessageTypePeers:
		return handlePeers(msg), true, nil

	case MessageTypeOffer, MessageTypeAnswer:
		ev, err := handleDescription(msg)
		return ev, err == nil, err

	case MessageTypeICECandidate:
		ev, err := handleCandidate(msg)
		return ev, err == nil, err

	default:
		c.logger.Debug("ignoring unknown relay message", "type", msg.Type)
		return Event{}, false, nil
	}
}

// handleID records the identity the relay assigned to this connection.
func (c *Client) handleID(msg *Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != "" {
		if c.id != msg.ID {
			c.logger.Warn("relay reassigned identity, ignoring", "id", c.id, "new_id", msg.ID)
		}
		return nil
	}
	c.id = msg.ID
	close(c.assigned)
	return nil
}

// handlePeers copies the membership snapshot.
func handlePeers(msg *Message) Event {
	peers := make([]string, 0, len(msg.Peers))
	for _, p := range msg.Peers {
		if p != "" {
			peers = append(peers, p)
		}
	}
	return Event{Type: EventPeers, Peers: peers}
}

// handleDescription parses the SDP payload of an offer or answer.
func handleDescription(msg *Message) (Event, error) {
	if msg.From == "" {
		return Event{}, fmt.Errorf("%w: %s without from", ErrMalformed, msg.Type)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(msg.Data, &desc); err != nil {
		return Event{}, fmt.Errorf("%w: %s data: %v", ErrMalformed, msg.Type, err)
	}
	if desc.SDP == "" {
		return Event{}, fmt.Errorf("%w: %s with empty sdp", ErrMalformed, msg.Type)
	}

	ev := Event{From: msg.From, Description: &desc}
	switch msg.Type {
	case MessageTypeOffer:
		if desc.Type != webrtc.SDPTypeOffer {
			return Event{}, fmt.Errorf("%w: offer carries sdp type %s", ErrMalformed, desc.Type)
		}
		ev.Type = EventOffer
	default:
		if desc.Type != webrtc.SDPTypeAnswer {
			return Event{}, fmt.Errorf("%w: answer carries sdp type %s", ErrMalformed, desc.Type)
		}
		ev.Type = EventAnswer
	}
	return ev, nil
}

// handleCandidate parses a trickled ICE candidate.
func handleCandidate(msg *Message) (Event, error) {
	if msg.From == "" {
		return Event{}, fmt.Errorf("%w: candidate without from", ErrMalformed)
	}

	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Data, &ice); err != nil {
		return Event{}, fmt.Errorf("%w: candidate data: %v", ErrMalformed, err)
	}
	return Event{Type: EventCandidate, From: msg.From, Candidate: &ice}, nil
}
