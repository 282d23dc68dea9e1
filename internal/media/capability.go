package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Kind is the media kind of a local track.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// DefaultStreamID groups the local tracks into one remote stream.
const DefaultStreamID = "meshcall"

// Config selects what to capture.
type Config struct {
	Video    bool
	Audio    bool
	StreamID string
	Logger   *slog.Logger
}

// Source yields encoded samples in playback order.
type Source interface {
	ReadSample() (pionmedia.Sample, error)
	Close() error
}

// Device opens capture sources.
type Device interface {
	Open(kind Kind) (Source, error)
}

// Capability is the acquired local media: one sample track per requested
// kind, shared read-only by every peer session.
type Capability struct {
	tracks  []webrtc.TrackLocal
	sources []Source
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Acquire opens the requested sources on dev and starts pumping their samples
// into local tracks. The returned error is always an *AcquisitionError.
func Acquire(ctx context.Context, cfg Config, dev Device) (*Capability, error) {
	if !cfg.Video && !cfg.Audio {
		return nil, &AcquisitionError{Err: ErrNothingRequested}
	}
	if dev == nil {
		return nil, &AcquisitionError{Err: ErrNoDevice}
	}

	streamID := cfg.StreamID
	if streamID == "" {
		streamID = DefaultStreamID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Capability{logger: logger.With("component", "media")}

	type want struct {
		kind  Kind
		codec webrtc.RTPCodecCapability
	}
	var wants []want
	if cfg.Video {
		wants = append(wants, want{KindVideo, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}})
	}
	if cfg.Audio {
		wants = append(wants, want{KindAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}})
	}

	var samples []*webrtc.TrackLocalStaticSample
	for _, w := range wants {
		src, err := dev.Open(w.kind)
		if err != nil {
			c.closeSources()
			return nil, &AcquisitionError{Kind: w.kind, Err: err}
		}
		c.sources = append(c.sources, src)

		track, err := webrtc.NewTrackLocalStaticSample(w.codec, string(w.kind), streamID)
		if err != nil {
			c.closeSources()
			return nil, &AcquisitionError{Kind: w.kind, Err: err}
		}
		samples = append(samples, track)
		c.tracks = append(c.tracks, track)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	for i, track := range samples {
		c.wg.Add(1)
		go c.pump(pumpCtx, track, c.sources[i])
	}

	c.logger.Info("media acquired", "tracks", len(c.tracks), "stream", streamID)
	return c, nil
}

// Tracks returns the local tracks. The slice is the same on every call.
func (c *Capability) Tracks() []webrtc.TrackLocal {
	return c.tracks
}

// Release stops every track and closes the sources. Safe to call more than once.
func (c *Capability) Release() {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.closeSources()
		c.logger.Debug("media released")
	})
}

func (c *Capability) closeSources() {
	for _, src := range c.sources {
		if err := src.Close(); err != nil {
			c.logger.Debug("closing source", "error", err)
		}
	}
	c.sources = nil
}

// pump writes samples to track, paced by each sample's duration.
func (c *Capability) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, src Source) {
	defer c.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		sample, err := src.ReadSample()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logger.Warn("capture stopped", "track", track.ID(), "error", err)
			}
			return
		}

		if err := track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			c.logger.Debug("write sample", "track", track.ID(), "error", err)
		}

		if sample.Duration <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		timer.Reset(sample.Duration)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
