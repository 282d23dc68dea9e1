// Package peertest provides in-memory stand-ins for the pion connection and
// the relay sender so sessions can be driven without a network.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

var (
	ErrGlare           = errors.New("peertest: remote offer while local offer pending")
	ErrNoRemote        = errors.New("peertest: no remote description")
	ErrNoOffer         = errors.New("peertest: answer without local offer")
	ErrClosed          = errors.New("peertest: connection closed")
	ErrNoDataChannels  = errors.New("peertest: data channels unsupported")
	ErrInjectedFailure = errors.New("peertest: injected failure")
)

// Conn is a fake peer.Connection enforcing the offer/answer rules the
// sessions rely on.
type Conn struct {
	Peer string

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	tracks     []webrtc.TrackLocal
	candidates []webrtc.ICECandidateInit
	closes     int

	// FailRemote, when set, is returned by the next SetRemoteDescription.
	FailRemote error

	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
	onDC    func(*webrtc.DataChannel)
}

var _ peer.Connection = (*Conn)(nil)

func (c *Conn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil, nil
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-to-%s", c.Peer)}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if c.remote == nil || c.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrNoRemote
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-to-%s", c.Peer)}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return ErrClosed
	}
	c.local = &desc
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return ErrClosed
	}
	if err := c.FailRemote; err != nil {
		c.FailRemote = nil
		return err
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if c.local != nil && c.local.Type == webrtc.SDPTypeOffer {
			return ErrGlare
		}
	case webrtc.SDPTypeAnswer:
		if c.local == nil || c.local.Type != webrtc.SDPTypeOffer {
			return ErrNoOffer
		}
	}
	c.remote = &desc
	return nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return ErrNoRemote
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *Conn) CreateDataChannel(string, *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	return nil, ErrNoDataChannels
}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	c.onICE = f
	c.mu.Unlock()
}

func (c *Conn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *Conn) OnDataChannel(f func(*webrtc.DataChannel)) {
	c.mu.Lock()
	c.onDC = f
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// SetState fires the connection-state callback.
func (c *Conn) SetState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	f := c.onState
	c.mu.Unlock()
	if f != nil {
		f(state)
	}
}

// Gather fires the local candidate callback.
func (c *Conn) Gather(candidate *webrtc.ICECandidate) {
	c.mu.Lock()
	f := c.onICE
	c.mu.Unlock()
	if f != nil {
		f(candidate)
	}
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Applied returns the remote candidates added so far, in order.
func (c *Conn) Applied() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Tracks returns the number of attached local tracks.
func (c *Conn) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

// Closes reports how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Network hands out a fresh Conn per session and remembers them by peer.
type Network struct {
	mu    sync.Mutex
	conns map[string][]*Conn
}

func NewNetwork() *Network {
	return &Network{conns: make(map[string][]*Conn)}
}

// Factory returns a peer.Factory backed by n.
func (n *Network) Factory() peer.Factory {
	return func(p string) (peer.Connection, error) {
		c := &Conn{Peer: p}
		n.mu.Lock()
		n.conns[p] = append(n.conns[p], c)
		n.mu.Unlock()
		return c, nil
	}
}

// Conns returns every connection created for p, oldest first.
func (n *Network) Conns(p string) []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Conn, len(n.conns[p]))
	copy(out, n.conns[p])
	return out
}

// Last returns the newest connection created for p, or nil.
func (n *Network) Last(p string) *Conn {
	conns := n.Conns(p)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Sender records outbound relay messages.
type Sender struct {
	mu   sync.Mutex
	msgs []*signaling.Message

	// Err, when set, is returned by Send and the message is dropped.
	Err error
}

func (s *Sender) Send(msg *signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

// Messages returns the recorded messages, optionally filtered by type.
func (s *Sender) Messages(types ...string) []*signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*signaling.Message
	for _, m := range s.msgs {
		if len(types) == 0 || contains(types, m.Type) {
			out = append(out, m)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Candidate builds a host candidate numbered n.
func Candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000 typ host", n, n),
	}
}
