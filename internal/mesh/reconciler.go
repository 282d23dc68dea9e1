package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const peerEventBuffer = 256

// Signaler is the part of *signaling.Client the reconciler consumes.
type Signaler interface {
	Events() <-chan signaling.Event
	Send(msg *signaling.Message) error
	ID() string
}

// Config configures a Reconciler.
type Config struct {
	Factory peer.Factory
	Tracks  []webrtc.TrackLocal
	Sink    Sink
	Logger  *slog.Logger

	// Hello is sent to every remote participant over the metadata channel.
	Hello *peer.Hello
}

// Reconciler keeps one peer session per remote room member. It owns the
// identity to session map, which is only touched by the goroutine in Run.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger
	events chan peer.Event

	// Owned by Run.
	self         string
	sender       Signaler
	sessions     map[string]*peer.Session
	generation   uint64
	streamsDirty bool

	mu       sync.RWMutex
	snapshot []PeerStatus
	history  map[string]PeerStatus
}

// New creates a reconciler. Tracks are attached to every session it creates.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Factory == nil {
		return nil, errors.New("mesh: connection factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		cfg:      cfg,
		logger:   logger.With("component", "mesh"),
		events:   make(chan peer.Event, peerEventBuffer),
		sessions: make(map[string]*peer.Session),
		history:  make(map[string]PeerStatus),
	}, nil
}

// Run is the event loop. It consumes sig's events together with the
// sessions' own events until the signaling stream ends or ctx is done, then
// closes every session. After transport loss the returned error wraps
// signaling.ErrTransportLost. Run may be called again with a new Signaler.
func (r *Reconciler) Run(ctx context.Context, sig Signaler) error {
	self := sig.ID()
	if self == "" {
		return signaling.ErrNoIdentity
	}
	r.bind(self, sig)
	defer r.teardown()

	r.logger.Info("reconciler started", "self", self)

	incoming := sig.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-incoming:
			if !ok {
				return signaling.ErrTransportLost
			}
			if ev.Type == signaling.EventTransportLost {
				r.logger.Warn("signaling transport lost", "error", ev.Err)
				return transportLost(ev.Err)
			}
			r.handleSignal(ev)

		case ev := <-r.events:
			r.handlePeer(ev)
		}

		r.flush()
	}
}

func transportLost(cause error) error {
	switch {
	case cause == nil:
		return signaling.ErrTransportLost
	case errors.Is(cause, signaling.ErrTransportLost):
		return cause
	default:
		return fmt.Errorf("%w: %w", signaling.ErrTransportLost, cause)
	}
}

func (r *Reconciler) bind(self string, sig Signaler) {
	r.self = self
	r.sender = sig
}

// Reconcile converges the session map to desired: a session with role
// offerer for every new identity other than self, and teardown for every
// identity that left. Run calls it for each membership snapshot; it must
// not be called concurrently with Run.
func (r *Reconciler) Reconcile(desired []string) {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if id == "" || id == r.self {
			continue
		}
		want[id] = struct{}{}
	}

	for id := range r.sessions {
		if _, ok := want[id]; !ok {
			r.logger.Info("peer left", "peer", id)
			r.remove(id)
		}
	}

	joined := make([]string, 0, len(want))
	for id := range want {
		if _, ok := r.sessions[id]; !ok {
			joined = append(joined, id)
		}
	}
	sort.Strings(joined)

	for _, id := range joined {
		r.logger.Info("peer joined", "peer", id)
		s := r.create(id, peer.RoleOfferer)
		if s == nil {
			continue
		}
		if err := s.Offer(); err != nil {
			r.logger.Warn("offer failed", "peer", id, "error", err)
		}
	}
}

func (r *Reconciler) handleSignal(ev signaling.Event) {
	switch ev.Type {
	case signaling.EventPeers:
		r.Reconcile(ev.Peers)

	case signaling.EventOffer:
		if ev.From == r.self {
			return
		}
		s := r.sessions[ev.From]
		if s == nil {
			s = r.create(ev.From, peer.RoleAnswerer)
			if s == nil {
				return
			}
		}
		if err := s.HandleOffer(*ev.Description); err != nil {
			r.logger.Warn("dropping offer", "peer", ev.From, "error", err)
		}

	case signaling.EventAnswer:
		s := r.sessions[ev.From]
		if s == nil {
			r.logger.Warn("dropping answer from unknown peer", "peer", ev.From)
			return
		}
		if err := s.HandleAnswer(*ev.Description); err != nil {
			r.logger.Warn("dropping answer", "peer", ev.From, "error", err)
		}

	case signaling.EventCandidate:
		s := r.sessions[ev.From]
		if s == nil {
			r.logger.Debug("dropping candidate from unknown peer", "peer", ev.From)
			return
		}
		if err := s.HandleCandidate(*ev.Candidate); err != nil {
			r.logger.Warn("dropping candidate", "peer", ev.From, "error", err)
		}
	}
}

func (r *Reconciler) handlePeer(ev peer.Event) {
	s := r.sessions[ev.Peer]
	if s == nil || s.Generation() != ev.Generation {
		r.logger.Debug("dropping stale session event", "peer", ev.Peer, "generation", ev.Generation)
		return
	}

	change, err := s.Handle(ev)
	if err != nil {
		r.logger.Warn("negotiation error", "peer", ev.Peer, "error", err)
	}
	if !change.Any() {
		return
	}
	r.logger.Debug("session changed", "peer", ev.Peer, "state", s.State().String())
	if change.Tracks || change.Hello {
		r.streamsDirty = true
	}
	if change.Failed {
		r.logger.Info("peer connection ended", "peer", ev.Peer, "state", ev.ConnState.String())
		r.remove(ev.Peer)
	}
}

func (r *Reconciler) create(id string, role peer.Role) *peer.Session {
	conn, err := r.cfg.Factory(id)
	if err != nil {
		r.logger.Warn("create connection", "peer", id, "error", err)
		return nil
	}

	r.generation++
	s, err := peer.New(peer.Options{
		Peer:       id,
		Self:       r.self,
		Role:       role,
		Generation: r.generation,
		Conn:       conn,
		Tracks:     r.cfg.Tracks,
		Signal:     r.sender,
		Events:     r.events,
		Logger:     r.logger,
		Hello:      r.cfg.Hello,
	})
	if err != nil {
		r.logger.Warn("create session", "peer", id, "error", err)
		return nil
	}

	r.sessions[id] = s
	return s
}

func (r *Reconciler) remove(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if len(s.RemoteTracks()) > 0 || s.RemoteHello() != nil {
		r.streamsDirty = true
	}
	// Keep the buffers the session had while live, but the state it ended in.
	st := statusOf(s)
	s.Close()
	st.State = s.State()
	r.record(st)
	delete(r.sessions, id)
}

// teardown closes every session and empties the map.
func (r *Reconciler) teardown() {
	for id := range r.sessions {
		r.remove(id)
	}

	for drained := false; !drained; {
		select {
		case <-r.events:
		default:
			drained = true
		}
	}

	r.flush()
	r.sender = nil
	r.logger.Info("reconciler stopped", "self", r.self)
}

// flush publishes the snapshot and notifies the sink when streams changed.
func (r *Reconciler) flush() {
	statuses := make([]PeerStatus, 0, len(r.sessions))
	for _, s := range r.sessions {
		st := statusOf(s)
		statuses = append(statuses, st)
		r.record(st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Peer < statuses[j].Peer })

	if r.streamsDirty {
		r.streamsDirty = false
		if r.cfg.Sink != nil {
			r.cfg.Sink.StreamsChanged(r.streams())
		}
	}

	r.mu.Lock()
	r.snapshot = statuses
	r.mu.Unlock()
}

func (r *Reconciler) streams() map[string]*RemoteStream {
	out := make(map[string]*RemoteStream)
	for id, s := range r.sessions {
		tracks := s.RemoteTracks()
		if len(tracks) == 0 {
			continue
		}
		rs := &RemoteStream{Peer: id, Tracks: tracks}
		if h := s.RemoteHello(); h != nil {
			rs.Name = h.Name
		}
		out[id] = rs
	}
	return out
}

func (r *Reconciler) record(st PeerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.history[st.Peer]
	if ok && st.Name == "" {
		st.Name = prev.Name
	}
	r.history[st.Peer] = st
}

// Snapshot returns the status of every live session, sorted by identity.
// It is safe to call from any goroutine.
func (r *Reconciler) Snapshot() []PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerStatus, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// History returns the last known status of every peer seen so far.
func (r *Reconciler) History() []PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerStatus, 0, len(r.history))
	for _, st := range r.history {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}
