package mesh_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/signaling"
	pionlogging "github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// latestSink keeps the most recent stream map it was given.
type latestSink struct {
	mu      sync.Mutex
	streams map[string]*mesh.RemoteStream
}

func (s *latestSink) StreamsChanged(streams map[string]*mesh.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = streams
}

func (s *latestSink) get() map[string]*mesh.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

type participant struct {
	name  string
	rec   *mesh.Reconciler
	sig   *signaling.Client
	sink  *latestSink
	done  chan error
	track *webrtc.TrackLocalStaticSample
}

func newVNet(t *testing.T) (*vnet.Net, *vnet.Net) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: pionlogging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return netA, netB
}

func startParticipant(t *testing.T, ctx context.Context, url, name string, n *vnet.Net) *participant {
	t.Helper()

	api, err := peer.NewAPI(peer.APIOptions{Logger: logging.Discard(), Net: n})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", name,
	)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	p := &participant{name: name, sink: &latestSink{}, done: make(chan error, 1), track: track}
	p.rec, err = mesh.New(mesh.Config{
		Factory: peer.NewFactory(api, webrtc.Configuration{}),
		Tracks:  []webrtc.TrackLocal{track},
		Sink:    p.sink,
		Logger:  logging.Discard(),
		Hello:   &peer.Hello{Name: name},
	})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}

	p.sig, err = signaling.Connect(ctx, url, "room1", signaling.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Connect %s: %v", name, err)
	}
	t.Cleanup(p.sig.Close)

	go func() {
		p.done <- p.rec.Run(ctx, p.sig)
	}()

	// VP8 accepts arbitrary payload bytes for the purpose of delivery.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			}
		}
	}()
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectedTo(p *participant, id, name string) bool {
	snap := p.rec.Snapshot()
	return len(snap) == 1 &&
		snap[0].Peer == id &&
		snap[0].State == peer.StateConnected &&
		snap[0].Name == name
}

func receiving(p *participant, id string) bool {
	rs, ok := p.sink.get()[id]
	return ok && len(rs.Tracks) > 0
}

func TestRoundTrip_TwoParticipants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping media round trip in short mode")
	}

	var mu sync.Mutex
	ids := []string{"A", "B"}
	hub := relay.NewHub(logging.Discard(), relay.WithIDs(func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewRouter(hub))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	netA, netB := newVNet(t)
	a := startParticipant(t, ctx, url, "A", netA)
	b := startParticipant(t, ctx, url, "B", netB)
	if a.sig.ID() != "A" || b.sig.ID() != "B" {
		t.Fatalf("identities %q,%q, want A,B", a.sig.ID(), b.sig.ID())
	}

	eventually(t, "A connected to B", func() bool { return connectedTo(a, "B", "B") })
	eventually(t, "B connected to A", func() bool { return connectedTo(b, "A", "A") })
	eventually(t, "A receiving B's stream", func() bool { return receiving(a, "B") })
	eventually(t, "B receiving A's stream", func() bool { return receiving(b, "A") })

	if rs := b.sink.get()["A"]; rs.Name != "A" || rs.Tracks[0].Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("B sees A as %q with %v", rs.Name, rs.Tracks[0].Kind())
	}

	a.sig.Close()
	select {
	case err := <-a.done:
		if !errors.Is(err, signaling.ErrTransportLost) {
			t.Fatalf("A Run returned %v, want transport lost", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("A Run did not return after signaling closed")
	}
	if snap := a.rec.Snapshot(); len(snap) != 0 {
		t.Fatalf("A snapshot after teardown = %+v", snap)
	}

	eventually(t, "B to drop A", func() bool {
		return len(b.rec.Snapshot()) == 0 && len(b.sink.get()) == 0
	})
}
