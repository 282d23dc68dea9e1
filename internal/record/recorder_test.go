package record

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	id   string
	mime string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	packets []*rtp.Packet
	reads   int
}

func (f *fakeTrack) ID() string { return f.id }
func (f *fakeTrack) StreamID() string { return "remote" }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: f.mime}}
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if len(f.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil, nil
}

// bareTrack has no ReadRTP.
type bareTrack struct{}

func (bareTrack) ID() string { return "bare" }
func (bareTrack) StreamID() string { return "remote" }
func (bareTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

var (
	_ peer.RemoteTrack = (*fakeTrack)(nil)
	_ Source           = (*fakeTrack)(nil)
)

func packets(payloads ...[]byte) []*rtp.Packet {
	out := make([]*rtp.Packet, len(payloads))
	for i, p := range payloads {
		out[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				SequenceNumber: uint16(i + 1),
				Timestamp:      uint32(i * 960),
				SSRC:           1,
			},
			Payload: p,
		}
	}
	return out
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return st.Size()
}

func TestRecorder_WritesContainersPerCodec(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	r, err := New(dir, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	video := &fakeTrack{
		id: "video", mime: webrtc.MimeTypeVP8, kind: webrtc.RTPCodecTypeVideo,
		// S bit set, then a key frame byte.
		packets: packets([]byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a}),
	}
	audio := &fakeTrack{
		id: "audio", mime: webrtc.MimeTypeOpus, kind: webrtc.RTPCodecTypeAudio,
		packets: packets([]byte{0xfc, 0x01}, []byte{0xfc, 0x02}),
	}

	r.StreamsChanged(map[string]*mesh.RemoteStream{
		"alice": {Peer: "alice", Tracks: []peer.RemoteTrack{video, audio, bareTrack{}}},
	})
	r.Wait()

	if size := fileSize(t, filepath.Join(dir, "alice-video.ivf")); size <= 32 {
		t.Fatalf("ivf size=%d, want header plus a frame", size)
	}
	if size := fileSize(t, filepath.Join(dir, "alice-audio.ogg")); size == 0 {
		t.Fatalf("ogg is empty")
	}
	if _, err := os.Stat(filepath.Join(dir, "alice-bare.ivf")); !os.IsNotExist(err) {
		t.Fatalf("unreadable track was recorded: %v", err)
	}
}

func TestRecorder_SkipsUnsupportedAndActive(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h264 := &fakeTrack{id: "video", mime: webrtc.MimeTypeH264, kind: webrtc.RTPCodecTypeVideo}
	r.StreamsChanged(map[string]*mesh.RemoteStream{
		"bob": {Peer: "bob", Tracks: []peer.RemoteTrack{h264}},
	})
	r.Wait()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("files=%v, want none for an unsupported codec", entries)
	}

	// A track already recording is not opened twice.
	r.mu.Lock()
	r.active["bob/audio"] = struct{}{}
	r.mu.Unlock()
	opus := &fakeTrack{id: "audio", mime: webrtc.MimeTypeOpus, kind: webrtc.RTPCodecTypeAudio}
	r.StreamsChanged(map[string]*mesh.RemoteStream{
		"bob": {Peer: "bob", Tracks: []peer.RemoteTrack{opus}},
	})
	r.Wait()
	if opus.reads != 0 {
		t.Fatalf("active track read %d times", opus.reads)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize(`a/b\c:d`); got != "a_b_c_d" {
		t.Fatalf("sanitize=%q", got)
	}
}
