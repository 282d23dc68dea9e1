package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

// FileDevice plays pre-encoded files in a loop: IVF (VP8) for video and
// Ogg (Opus) for audio.
type FileDevice struct {
	VideoPath string
	AudioPath string
}

func (d FileDevice) Open(kind Kind) (Source, error) {
	switch kind {
	case KindVideo:
		return openIVF(d.VideoPath)
	case KindAudio:
		return openOgg(d.AudioPath)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrNoDevice, kind)
	}
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no file configured", ErrNoDevice)
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return f, nil
}

type ivfSource struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	duration time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	s := &ivfSource{file: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrPermission, path, err)
	}
	return s, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, header, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	if header.TimebaseDenominator == 0 {
		return errors.New("ivf header has zero timebase")
	}
	s.reader = reader
	s.duration = time.Duration(uint64(time.Second) * uint64(header.TimebaseNumerator) / uint64(header.TimebaseDenominator))
	return nil
}

func (s *ivfSource) ReadSample() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if err := s.rewind(); err != nil {
			return pionmedia.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string) (*oggSource, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	s := &oggSource{file: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrPermission, path, err)
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	s.lastGranule = 0
	return nil
}

// ReadSample returns the next page that advances the granule position.
// Header pages carry no audio and are skipped.
func (s *oggSource) ReadSample() (pionmedia.Sample, error) {
	looped := false
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if looped {
				return pionmedia.Sample{}, io.EOF
			}
			looped = true
			if err := s.rewind(); err != nil {
				return pionmedia.Sample{}, err
			}
			continue
		}
		if err != nil {
			return pionmedia.Sample{}, err
		}

		if header.GranulePosition <= s.lastGranule {
			continue
		}
		samples := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition

		return pionmedia.Sample{
			Data:     page,
			Duration: time.Duration(samples) * time.Second / opusSampleRate,
		}, nil
	}
}

func (s *oggSource) Close() error {
	return s.file.Close()
}
