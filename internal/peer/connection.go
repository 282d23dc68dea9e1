package peer

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/netutil"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// Connection is the part of *webrtc.PeerConnection a Session drives.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnDataChannel(f func(*webrtc.DataChannel))
	Close() error
}

var _ Connection = (*webrtc.PeerConnection)(nil)

// Factory creates the transport for a new session with the named peer.
type Factory func(peer string) (Connection, error)

// APIOptions tunes the pion API shared by every connection.
type APIOptions struct {
	Logger *slog.Logger

	// Net replaces the host network, e.g. with a vnet for tests.
	Net transport.Net
}

// NewAPI builds a pion API with the default codecs and pion's logs routed
// into slog.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.PionFactory{Logger: opts.Logger}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// Configuration returns the ICE setup for cfg: STUN, optional TURN with
// credentials, and a relay-only policy when forced or when the host looks
// tunneled.
func Configuration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || netutil.PreferRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewFactory returns a Factory creating pion connections from api.
func NewFactory(api *webrtc.API, conf webrtc.Configuration) Factory {
	return func(peer string) (Connection, error) {
		pc, err := api.NewPeerConnection(conf)
		if err != nil {
			return nil, &NegotiationError{Peer: peer, Op: "create peer connection", Err: err}
		}
		return pc, nil
	}
}
