package peer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Sender delivers negotiation messages to the relay.
type Sender interface {
	Send(msg *signaling.Message) error
}

// Options configures a new Session.
type Options struct {
	Peer       string
	Self       string
	Role       Role
	Generation uint64

	Conn   Connection
	Tracks []webrtc.TrackLocal
	Signal Sender

	// Events receives worker results and transport callbacks. The owner
	// passes each one back through Handle.
	Events chan<- Event

	Logger *slog.Logger
	Hello  *Hello
}

// Session negotiates one pairwise connection. Everything except the worker
// and the transport callbacks runs on the owner's event loop, so the fields
// below are not locked.
type Session struct {
	peer       string
	self       string
	role       Role
	generation uint64

	conn       Connection
	signal     Sender
	events     chan<- Event
	logger     *slog.Logger
	localHello *Hello

	ctx    context.Context
	cancel context.CancelFunc
	ops    *opQueue

	state          State
	hasRemote      bool
	localSent      bool
	offerPending   bool
	acceptInFlight bool
	answerInFlight bool

	// localDropped is set once our description could not be sent; local
	// candidates are discarded from then on.
	localDropped bool

	// pending holds remote candidates that arrived before the remote
	// description; outbox holds local ones gathered before our description
	// went out. Both keep arrival order.
	pending []webrtc.ICECandidateInit
	outbox  []webrtc.ICECandidateInit

	tracks      []RemoteTrack
	remoteHello *Hello
}

// New attaches every local track to conn, installs the transport callbacks
// and starts the session worker.
func New(opts Options) (*Session, error) {
	if opts.Conn == nil || opts.Signal == nil || opts.Events == nil {
		return nil, errors.New("peer: connection, sender and events are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		peer:       opts.Peer,
		self:       opts.Self,
		role:       opts.Role,
		generation: opts.Generation,
		conn:       opts.Conn,
		signal:     opts.Signal,
		events:     opts.Events,
		logger:     logger.With("peer", opts.Peer, "role", opts.Role.String()),
		localHello: opts.Hello,
		ctx:        ctx,
		cancel:     cancel,
		ops:        newOpQueue(),
	}

	for _, track := range opts.Tracks {
		sender, err := s.conn.AddTrack(track)
		if err != nil {
			cancel()
			s.conn.Close()
			return nil, &NegotiationError{Peer: s.peer, Op: "add track", Err: err}
		}
		if sender != nil {
			go drainRTCP(sender)
		}
	}

	s.conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.post(Event{Type: EventLocalCandidate, Candidate: &init})
	})

	s.conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.post(Event{Type: EventTrack, Track: track})
	})

	s.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(Event{Type: EventConnectionState, ConnState: state})
	})

	s.conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == MetaLabel {
			s.wireMeta(dc)
		}
	})

	if s.role == RoleOfferer {
		if dc, err := s.conn.CreateDataChannel(MetaLabel, nil); err != nil {
			s.logger.Debug("metadata channel unavailable", "error", err)
		} else {
			s.wireMeta(dc)
		}
	}

	go s.ops.run(ctx)

	s.logger.Debug("session created", "generation", s.generation, "tracks", len(opts.Tracks))
	return s, nil
}

// drainRTCP reads sender reports so the interceptors keep flowing.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Offer starts negotiation as the offerer. The offer is created off the
// event loop and sent when its result comes back through Handle.
func (s *Session) Offer() error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.role != RoleOfferer {
		return &NegotiationError{Peer: s.peer, Op: string(OpCreateOffer), Err: ErrWrongRole}
	}
	if s.offerPending || s.state != StateIdle {
		return nil
	}

	s.offerPending = true
	s.state = StateNegotiating
	s.ops.push(func(ctx context.Context) {
		ev := Event{Type: EventOpDone, Op: OpCreateOffer}
		offer, err := s.conn.CreateOffer(nil)
		if err == nil {
			err = s.conn.SetLocalDescription(offer)
		}
		if err != nil {
			ev.Err = err
		} else {
			ev.Description = &offer
		}
		s.post(ev)
	})
	return nil
}

// HandleOffer applies a remote offer and answers it.
func (s *Session) HandleOffer(desc webrtc.SessionDescription) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.hasRemote || s.acceptInFlight || s.state == StateConnected {
		return &NegotiationError{Peer: s.peer, Op: string(OpAcceptOffer), Err: ErrUnexpectedOffer}
	}

	s.acceptInFlight = true
	s.state = StateNegotiating
	s.ops.push(func(ctx context.Context) {
		ev := Event{Type: EventOpDone, Op: OpAcceptOffer}
		if err := s.conn.SetRemoteDescription(desc); err != nil {
			ev.Err = err
			s.post(ev)
			return
		}
		ev.RemoteApplied = true

		answer, err := s.conn.CreateAnswer(nil)
		if err == nil {
			err = s.conn.SetLocalDescription(answer)
		}
		if err != nil {
			ev.Err = err
		} else {
			ev.Description = &answer
		}
		s.post(ev)
	})
	return nil
}

// HandleAnswer applies the remote answer to our offer.
func (s *Session) HandleAnswer(desc webrtc.SessionDescription) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.role != RoleOfferer || !s.localSent {
		return &NegotiationError{Peer: s.peer, Op: string(OpAcceptAnswer), Err: ErrUnexpectedAnswer}
	}
	if s.hasRemote || s.answerInFlight {
		return &NegotiationError{Peer: s.peer, Op: string(OpAcceptAnswer), Err: ErrDuplicateAnswer}
	}

	s.answerInFlight = true
	s.ops.push(func(ctx context.Context) {
		err := s.conn.SetRemoteDescription(desc)
		s.post(Event{Type: EventOpDone, Op: OpAcceptAnswer, RemoteApplied: err == nil, Err: err})
	})
	return nil
}

// HandleCandidate applies c, or buffers it until the remote description is
// in place.
func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) error {
	if s.state == StateClosed {
		return nil
	}
	if !s.hasRemote {
		s.pending = append(s.pending, c)
		return nil
	}
	s.addCandidate(c)
	return nil
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	s.ops.push(func(ctx context.Context) {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.post(Event{Type: EventOpDone, Op: OpAddCandidate, Err: err})
		}
	})
}

// Handle applies an event produced by this session. The owner must only
// pass events whose Generation matches the live session for Peer.
func (s *Session) Handle(ev Event) (Change, error) {
	if s.state == StateClosed {
		return Change{}, nil
	}

	switch ev.Type {
	case EventOpDone:
		return s.handleOpDone(ev)

	case EventLocalCandidate:
		if ev.Candidate == nil {
			return Change{}, nil
		}
		if s.localDropped {
			return Change{}, nil
		}
		if !s.localSent {
			s.outbox = append(s.outbox, *ev.Candidate)
			return Change{}, nil
		}
		s.sendCandidate(*ev.Candidate)
		return Change{}, nil

	case EventTrack:
		if ev.Track == nil {
			return Change{}, nil
		}
		s.tracks = append(s.tracks, ev.Track)
		s.logger.Info("remote track", "kind", ev.Track.Kind().String(), "track", ev.Track.ID())
		return Change{Tracks: true}, nil

	case EventConnectionState:
		s.logger.Debug("connection state", "state", ev.ConnState.String())
		switch ev.ConnState {
		case webrtc.PeerConnectionStateConnected:
			if s.state != StateConnected {
				s.state = StateConnected
				return Change{State: true}, nil
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			return Change{Failed: true}, nil
		}
		return Change{}, nil

	case EventHello:
		s.remoteHello = ev.Hello
		return Change{Hello: true}, nil
	}

	return Change{}, nil
}

func (s *Session) handleOpDone(ev Event) (Change, error) {
	var change Change

	if ev.RemoteApplied && !s.hasRemote {
		s.hasRemote = true
		s.flushPending()
	}

	switch ev.Op {
	case OpAcceptOffer:
		s.acceptInFlight = false
	case OpAcceptAnswer:
		s.answerInFlight = false
	case OpCreateOffer:
		if ev.Err != nil {
			s.offerPending = false
		}
	}

	if ev.Err != nil {
		if ev.Op != OpAddCandidate && !s.localSent && !s.hasRemote && s.state == StateNegotiating {
			s.state = StateIdle
			change.State = true
		}
		return change, &NegotiationError{Peer: s.peer, Op: string(ev.Op), Err: ev.Err}
	}

	if ev.Description != nil {
		if err := s.sendDescription(*ev.Description); err != nil {
			return change, err
		}
	}
	return change, nil
}

// flushPending applies buffered remote candidates in arrival order.
func (s *Session) flushPending() {
	if len(s.pending) > 0 {
		s.logger.Debug("applying buffered candidates", "count", len(s.pending))
	}
	for _, c := range s.pending {
		s.addCandidate(c)
	}
	s.pending = nil
}

func (s *Session) sendDescription(desc webrtc.SessionDescription) error {
	msg, err := signaling.NewDescription(s.self, s.peer, desc)
	if err != nil {
		return &NegotiationError{Peer: s.peer, Op: "send " + desc.Type.String(), Err: err}
	}
	if err := s.signal.Send(msg); err != nil {
		s.logger.Warn("dropping local description", "type", desc.Type.String(), "error", err)
		s.localDropped = true
		s.outbox = nil
		return nil
	}

	s.localSent = true
	for _, c := range s.outbox {
		s.sendCandidate(c)
	}
	s.outbox = nil
	return nil
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	msg, err := signaling.NewCandidate(s.self, s.peer, c)
	if err != nil {
		s.logger.Debug("encode candidate", "error", err)
		return
	}
	if err := s.signal.Send(msg); err != nil {
		s.logger.Debug("dropping local candidate", "error", err)
	}
}

// Close stops the session: the worker is cancelled, the transport closed and
// the candidate buffers emptied. It does not release the shared local
// tracks. Safe to call more than once.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.cancel()
	s.ops.clear()
	s.pending = nil
	s.outbox = nil

	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", "error", err)
	}
	s.logger.Debug("session closed")
}

// post hands ev to the owner unless the session is already closed.
func (s *Session) post(ev Event) {
	ev.Peer = s.peer
	ev.Generation = s.generation
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) Peer() string       { return s.peer }
func (s *Session) Role() Role         { return s.role }
func (s *Session) State() State       { return s.state }
func (s *Session) Generation() uint64 { return s.generation }

// HasRemoteDescription reports whether a remote description was applied.
func (s *Session) HasRemoteDescription() bool { return s.hasRemote }

// PendingCandidates is the number of buffered remote candidates.
func (s *Session) PendingCandidates() int { return len(s.pending) }

// RemoteTracks returns a copy of the tracks received so far.
func (s *Session) RemoteTracks() []RemoteTrack {
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// RemoteHello is the peer's introduction, or nil if none arrived.
func (s *Session) RemoteHello() *Hello { return s.remoteHello }
