package mesh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/peer/peertest"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

type fakeSignaler struct {
	*peertest.Sender
	id     string
	events chan signaling.Event
}

func newFakeSignaler(id string) *fakeSignaler {
	return &fakeSignaler{
		Sender: &peertest.Sender{},
		id:     id,
		events: make(chan signaling.Event, 64),
	}
}

func (f *fakeSignaler) Events() <-chan signaling.Event { return f.events }
func (f *fakeSignaler) ID() string                     { return f.id }

func (f *fakeSignaler) peers(ids ...string) {
	f.events <- signaling.Event{Type: signaling.EventPeers, Peers: ids}
}

type recordingSink struct {
	mu    sync.Mutex
	calls []map[string]*RemoteStream
}

func (s *recordingSink) StreamsChanged(streams map[string]*RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, streams)
}

func (s *recordingSink) last() (map[string]*RemoteStream, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil, 0
	}
	return s.calls[len(s.calls)-1], len(s.calls)
}

type fixture struct {
	r    *Reconciler
	net  *peertest.Network
	sig  *fakeSignaler
	sink *recordingSink
	done chan error
}

func start(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		net:  peertest.NewNetwork(),
		sig:  newFakeSignaler("self"),
		sink: &recordingSink{},
		done: make(chan error, 1),
	}
	r, err := New(Config{Factory: f.net.Factory(), Sink: f.sink, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.r = r

	ctx, cancel := context.WithCancel(context.Background())
	go func() { f.done <- r.Run(ctx, f.sig) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
		}
	})
	return f
}

func (f *fixture) wait(t *testing.T, what string, cond func([]PeerStatus) bool) []PeerStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := f.r.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; snapshot=%+v", what, snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) stop(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	return nil
}

// waitSent waits until exactly n messages of type typ were sent.
func (f *fixture) waitSent(t *testing.T, typ string, n int) []*signaling.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := f.sig.Messages(typ)
		if len(msgs) == n {
			return msgs
		}
		if len(msgs) > n || time.Now().After(deadline) {
			t.Fatalf("sent %d %s messages, want %d", len(msgs), typ, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func ids(snap []PeerStatus) []string {
	out := make([]string, 0, len(snap))
	for _, st := range snap {
		out = append(out, st.Peer)
	}
	return out
}

func hasIDs(want ...string) func([]PeerStatus) bool {
	return func(snap []PeerStatus) bool {
		return strings.Join(ids(snap), ",") == strings.Join(want, ",")
	}
}

func TestReconcile_ConvergesToSnapshot(t *testing.T) {
	f := start(t)

	f.sig.peers("self", "A", "B", "C")
	snap := f.wait(t, "A,B,C", hasIDs("A", "B", "C"))
	for _, st := range snap {
		if st.Role != peer.RoleOfferer {
			t.Fatalf("%s role=%v, want offerer", st.Peer, st.Role)
		}
	}

	f.waitSent(t, signaling.MessageTypeOffer, 3)

	f.sig.peers("A", "B", "self")
	f.wait(t, "C removed", hasIDs("A", "B"))

	if got := f.net.Last("C").Closes(); got != 1 {
		t.Fatalf("C closed %d times, want 1", got)
	}
	for _, id := range []string{"A", "B"} {
		if got := f.net.Last(id).Closes(); got != 0 {
			t.Fatalf("%s closed %d times, want 0", id, got)
		}
	}

	// The same snapshot again changes nothing.
	f.sig.peers("self", "A", "B")
	f.sig.peers("self", "A", "B", "D")
	f.wait(t, "D added", hasIDs("A", "B", "D"))
	for _, id := range []string{"A", "B", "C", "D"} {
		if n := len(f.net.Conns(id)); n != 1 {
			t.Fatalf("%s has %d connections, want 1", id, n)
		}
	}

	offers := f.waitSent(t, signaling.MessageTypeOffer, 4)
	for _, m := range offers {
		if m.From != "self" {
			t.Fatalf("offer from %q, want self", m.From)
		}
	}
}

func TestReconcile_OfferFromUnknownPeerCreatesAnswerer(t *testing.T) {
	f := start(t)

	f.sig.events <- signaling.Event{
		Type:        signaling.EventOffer,
		From:        "X",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "from-x"},
	}
	snap := f.wait(t, "answerer for X", func(s []PeerStatus) bool {
		return len(s) == 1 && s[0].HasRemoteDescription
	})
	if snap[0].Role != peer.RoleAnswerer {
		t.Fatalf("X role=%v, want answerer", snap[0].Role)
	}

	answers := f.waitSent(t, signaling.MessageTypeAnswer, 1)
	if answers[0].To != "X" {
		t.Fatalf("answers=%+v, want one to X", answers)
	}

	// A later snapshot containing X keeps the existing session.
	f.sig.peers("self", "X", "Y")
	f.wait(t, "X,Y", hasIDs("X", "Y"))
	if n := len(f.net.Conns("X")); n != 1 {
		t.Fatalf("X has %d connections, want 1", n)
	}
}

func TestReconcile_DropsOutOfProtocolMessages(t *testing.T) {
	f := start(t)

	f.sig.events <- signaling.Event{
		Type:        signaling.EventAnswer,
		From:        "ghost",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"},
	}
	f.sig.events <- signaling.Event{Type: signaling.EventCandidate, From: "ghost", Candidate: &webrtc.ICECandidateInit{Candidate: "c"}}
	f.sig.events <- signaling.Event{
		Type:        signaling.EventOffer,
		From:        "self",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "echo"},
	}
	f.sig.peers("self", "A")
	f.wait(t, "A only", hasIDs("A"))

	if len(f.net.Conns("ghost")) != 0 || len(f.net.Conns("self")) != 0 {
		t.Fatalf("out-of-protocol messages created sessions")
	}
}

func TestRun_TransportLostTearsDown(t *testing.T) {
	f := start(t)

	f.sig.peers("self", "X", "Y")
	f.wait(t, "X,Y", hasIDs("X", "Y"))

	for i := 1; i <= 2; i++ {
		c := peertest.Candidate(i)
		f.sig.events <- signaling.Event{Type: signaling.EventCandidate, From: "Y", Candidate: &c}
	}
	f.wait(t, "buffered candidates", func(s []PeerStatus) bool {
		return len(s) == 2 && s[1].PendingCandidates == 2
	})

	f.sig.events <- signaling.Event{Type: signaling.EventTransportLost, Err: errors.New("read: connection reset")}
	err := f.stop(t)
	if !errors.Is(err, signaling.ErrTransportLost) {
		t.Fatalf("Run=%v, want ErrTransportLost", err)
	}

	if len(f.r.sessions) != 0 {
		t.Fatalf("%d sessions left after transport loss", len(f.r.sessions))
	}
	if snap := f.r.Snapshot(); len(snap) != 0 {
		t.Fatalf("snapshot=%+v, want empty", snap)
	}
	for _, id := range []string{"X", "Y"} {
		if got := f.net.Last(id).Closes(); got != 1 {
			t.Fatalf("%s closed %d times, want 1", id, got)
		}
	}
	for _, st := range f.r.History() {
		if st.State != peer.StateClosed {
			t.Fatalf("history for %s=%+v, want state closed", st.Peer, st)
		}
		if st.Peer == "Y" && st.PendingCandidates != 2 {
			t.Fatalf("history for Y=%+v, want the buffers it had while live", st)
		}
	}
}

func TestRun_SinkAndFailedSessions(t *testing.T) {
	f := start(t)

	f.sig.peers("self", "A")
	f.wait(t, "A", hasIDs("A"))

	// The first session created by a fresh reconciler has generation 1.
	f.r.events <- peer.Event{Type: peer.EventTrack, Peer: "A", Generation: 99, Track: fakeTrack{"stale"}}
	f.r.events <- peer.Event{Type: peer.EventTrack, Peer: "A", Generation: 1, Track: fakeTrack{"video"}}
	f.r.events <- peer.Event{Type: peer.EventHello, Peer: "A", Generation: 1, Hello: &peer.Hello{Name: "Alice"}}

	f.wait(t, "track and name", func(s []PeerStatus) bool {
		return len(s) == 1 && len(s[0].Tracks) == 1 && s[0].Name == "Alice"
	})
	streams, _ := f.sink.last()
	if len(streams) != 1 || streams["A"] == nil || len(streams["A"].Tracks) != 1 || streams["A"].Name != "Alice" {
		t.Fatalf("sink streams=%+v, want A with one track named Alice", streams)
	}

	first := f.net.Last("A")
	first.SetState(webrtc.PeerConnectionStateFailed)
	f.wait(t, "A removed", hasIDs())

	streams, _ = f.sink.last()
	if len(streams) != 0 {
		t.Fatalf("sink streams=%+v after failure, want empty", streams)
	}
	if first.Closes() != 1 {
		t.Fatalf("failed connection closed %d times, want 1", first.Closes())
	}

	// The next snapshot recreates the session as offerer.
	f.sig.peers("self", "A")
	snap := f.wait(t, "A recreated", hasIDs("A"))
	if snap[0].Role != peer.RoleOfferer || len(f.net.Conns("A")) != 2 {
		t.Fatalf("recreated=%+v conns=%d, want new offerer session", snap[0], len(f.net.Conns("A")))
	}
}

func TestRun_ContextCancelClosesSessions(t *testing.T) {
	net := peertest.NewNetwork()
	sig := newFakeSignaler("self")
	r, err := New(Config{Factory: net.Factory(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, sig) }()

	sig.peers("self", "A", "B")
	deadline := time.Now().Add(2 * time.Second)
	for len(r.Snapshot()) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions not created")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run=%v, want context.Canceled", err)
	}
	for _, id := range []string{"A", "B"} {
		if net.Last(id).Closes() != 1 {
			t.Fatalf("%s not closed", id)
		}
	}
}

func TestRun_RequiresIdentity(t *testing.T) {
	r, err := New(Config{Factory: peertest.NewNetwork().Factory(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Run(context.Background(), newFakeSignaler("")); !errors.Is(err, signaling.ErrNoIdentity) {
		t.Fatalf("Run=%v, want ErrNoIdentity", err)
	}
}

type fakeTrack struct{ id string }

func (f fakeTrack) ID() string                { return f.id }
func (f fakeTrack) StreamID() string          { return "stream" }
func (f fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
