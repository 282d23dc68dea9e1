package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Role is the negotiation polarity of a session.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// State is the negotiation state of a session.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Op names an asynchronous negotiation step.
type Op string

const (
	OpCreateOffer  Op = "create offer"
	OpAcceptOffer  Op = "accept offer"
	OpAcceptAnswer Op = "accept answer"
	OpAddCandidate Op = "add candidate"
)

// RemoteTrack is the part of *webrtc.TrackRemote sessions report.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// EventType discriminates session events.
type EventType int

const (
	EventOpDone EventType = iota
	EventLocalCandidate
	EventTrack
	EventConnectionState
	EventHello
)

// Event is produced by a session's worker or transport callbacks and fed
// back to the owner's event loop, which hands it to Session.Handle.
type Event struct {
	Type       EventType
	Peer       string
	Generation uint64

	// EventOpDone
	Op            Op
	Description   *webrtc.SessionDescription
	RemoteApplied bool
	Err           error

	Candidate *webrtc.ICECandidateInit
	Track     RemoteTrack
	ConnState webrtc.PeerConnectionState
	Hello     *Hello
}

// Change tells the owner what Handle altered.
type Change struct {
	State  bool
	Tracks bool
	Hello  bool

	// Failed is set when the transport failed or closed underneath the
	// session. The owner should close and remove it.
	Failed bool
}

// Any reports whether anything visible changed.
func (c Change) Any() bool {
	return c.State || c.Tracks || c.Hello || c.Failed
}
