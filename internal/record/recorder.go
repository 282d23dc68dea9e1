// Package record writes every remote track to disk as it arrives.
package record

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// ErrUnsupportedCodec is logged for tracks no container here can hold.
var ErrUnsupportedCodec = errors.New("record: unsupported codec")

// Source is a remote track that can be read packet by packet.
// *webrtc.TrackRemote satisfies it.
type Source interface {
	ID() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder is a mesh.Sink. Each remote track is copied to
// <dir>/<peer>-<track>.ivf for VP8 or .ogg for Opus until it ends.
type Recorder struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New creates dir if needed and returns a Recorder writing into it.
func New(dir string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		logger: logger.With("component", "record"),
		active: make(map[string]struct{}),
	}, nil
}

var _ mesh.Sink = (*Recorder)(nil)

// StreamsChanged starts a writer for every track not yet being recorded.
func (r *Recorder) StreamsChanged(streams map[string]*mesh.RemoteStream) {
	for id, stream := range streams {
		for _, t := range stream.Tracks {
			src, ok := t.(Source)
			if !ok {
				r.logger.Debug("track cannot be read", "peer", id, "track", t.ID())
				continue
			}
			r.start(id, src)
		}
	}
}

func (r *Recorder) start(peerID string, src Source) {
	key := peerID + "/" + src.ID()

	r.mu.Lock()
	if _, ok := r.active[key]; ok {
		r.mu.Unlock()
		return
	}
	r.active[key] = struct{}{}
	r.mu.Unlock()

	path, w, err := r.open(peerID, src)
	if err != nil {
		r.logger.Warn("cannot record track", "peer", peerID, "track", src.ID(), "error", err)
		return
	}

	r.logger.Info("recording track", "peer", peerID, "track", src.ID(), "path", path)
	r.wg.Add(1)
	go r.copy(key, path, src, w)
}

func (r *Recorder) open(peerID string, src Source) (string, rtpWriter, error) {
	base := filepath.Join(r.dir, sanitize(peerID)+"-"+sanitize(src.ID()))

	mime := src.Codec().MimeType
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		path := base + ".ivf"
		w, err := ivfwriter.New(path)
		return path, w, err
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		path := base + ".ogg"
		w, err := oggwriter.New(path, 48000, 2)
		return path, w, err
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, mime)
	}
}

func (r *Recorder) copy(key, path string, src Source, w rtpWriter) {
	defer r.wg.Done()
	defer func() {
		if err := w.Close(); err != nil {
			r.logger.Warn("close recording", "path", path, "error", err)
		}
		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()
	}()

	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("track read ended", "path", path, "error", err)
			}
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			r.logger.Warn("write recording", "path", path, "error", err)
			return
		}
	}
}

// Wait blocks until every track being recorded has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func sanitize(s string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', ':', 0:
			return '_'
		}
		return c
	}, s)
}
