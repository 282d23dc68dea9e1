package mesh

import (
	"sort"

	"github.com/BioHazard786/meshcall/internal/peer"
)

// RemoteStream is what one remote participant currently sends us.
type RemoteStream struct {
	Peer   string
	Name   string
	Tracks []peer.RemoteTrack
}

// Sink receives the full identity to stream mapping after every change.
// Identities missing from the map are gone. It is called from the event
// loop and must not block.
type Sink interface {
	StreamsChanged(streams map[string]*RemoteStream)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(streams map[string]*RemoteStream)

func (f SinkFunc) StreamsChanged(streams map[string]*RemoteStream) {
	f(streams)
}

// Sinks fans one notification out to several sinks in order.
type Sinks []Sink

func (s Sinks) StreamsChanged(streams map[string]*RemoteStream) {
	for _, sink := range s {
		if sink != nil {
			sink.StreamsChanged(streams)
		}
	}
}

// PeerStatus is a point-in-time view of one session.
type PeerStatus struct {
	Peer                 string
	Name                 string
	Role                 peer.Role
	State                peer.State
	Tracks               []string
	PendingCandidates    int
	HasRemoteDescription bool
}

func statusOf(s *peer.Session) PeerStatus {
	st := PeerStatus{
		Peer:                 s.Peer(),
		Role:                 s.Role(),
		State:                s.State(),
		PendingCandidates:    s.PendingCandidates(),
		HasRemoteDescription: s.HasRemoteDescription(),
	}
	if h := s.RemoteHello(); h != nil {
		st.Name = h.Name
	}
	for _, t := range s.RemoteTracks() {
		st.Tracks = append(st.Tracks, t.Kind().String())
	}
	sort.Strings(st.Tracks)
	return st
}
