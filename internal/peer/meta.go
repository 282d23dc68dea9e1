package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MetaLabel is the data channel carrying participant metadata.
const MetaLabel = "meta"

// Hello introduces a participant once the metadata channel opens.
type Hello struct {
	Name    string `msgpack:"name"`
	Version string `msgpack:"version"`
}

// Marshal serializes the hello to msgpack.
func (h *Hello) Marshal() ([]byte, error) {
	return msgpack.Marshal(h)
}

// UnmarshalHello parses a msgpack-encoded hello.
func UnmarshalHello(data []byte) (*Hello, error) {
	var h Hello
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// wireMeta exchanges hellos over dc. Failures are logged only.
func (s *Session) wireMeta(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		if s.localHello == nil {
			return
		}
		data, err := s.localHello.Marshal()
		if err != nil {
			s.logger.Debug("encode hello", "error", err)
			return
		}
		if err := dc.Send(data); err != nil {
			s.logger.Debug("send hello", "error", err)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h, err := UnmarshalHello(msg.Data)
		if err != nil {
			s.logger.Debug("dropping malformed hello", "error", err)
			return
		}
		s.post(Event{Type: EventHello, Hello: h})
	})
}
