package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Default configuration values
const (
	DefaultServerURL      = "ws://localhost:8080/ws"
	DefaultRoom           = "testroom"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultListenAddr     = ":8080"
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxReconnects  = 5
)

var (
	ErrEmptyRoom        = errors.New("room name cannot be empty")
	ErrInvalidServerURL = errors.New("server URL must use ws:// or wss://")
	ErrRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")
	ErrNoMedia          = errors.New("at least one of audio or video must be enabled")
)

// Config holds application configuration
type Config struct {
	// ServerURL is the relay's websocket endpoint
	ServerURL string

	// Room is the room joined after the relay assigns an identity
	Room string

	// Name is shown to remote participants over the metadata channel
	Name string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Local capture
	Video     bool
	Audio     bool
	VideoFile string
	AudioFile string

	// RecordDir, when set, receives one file per remote track
	RecordDir string

	// Reconnect policy applied by the join command after transport loss
	ReconnectDelay time.Duration
	MaxReconnects  int

	// ListenAddr is where the relay command serves
	ListenAddr string
}

// Options for loading config with CLI flag overrides. Pointer fields
// distinguish "not passed" from the zero value.
type Options struct {
	ServerURL      string
	Room           string
	Name           string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	Video          *bool
	Audio          *bool
	VideoFile      string
	AudioFile      string
	RecordDir      string
	ReconnectDelay time.Duration
	MaxReconnects  *int
	ListenAddr     string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ServerURL:  pick(opts.ServerURL, "MESHCALL_SERVER", DefaultServerURL),
		Room:       pick(opts.Room, "MESHCALL_ROOM", DefaultRoom),
		Name:       pick(opts.Name, "MESHCALL_NAME", defaultName()),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		VideoFile:  pick(opts.VideoFile, "MESHCALL_VIDEO_FILE", ""),
		AudioFile:  pick(opts.AudioFile, "MESHCALL_AUDIO_FILE", ""),
		RecordDir:  pick(opts.RecordDir, "MESHCALL_RECORD_DIR", ""),
		ListenAddr: pick(opts.ListenAddr, "MESHCALL_LISTEN", DefaultListenAddr),
	}

	var err error
	if cfg.ForceRelay, err = pickBool(boolPtr(opts.ForceRelay), "FORCE_RELAY", false); err != nil {
		return nil, err
	}
	if cfg.Video, err = pickBool(opts.Video, "MESHCALL_VIDEO", true); err != nil {
		return nil, err
	}
	if cfg.Audio, err = pickBool(opts.Audio, "MESHCALL_AUDIO", true); err != nil {
		return nil, err
	}

	cfg.ReconnectDelay = opts.ReconnectDelay
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
		if v := os.Getenv("MESHCALL_RECONNECT_DELAY"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("MESHCALL_RECONNECT_DELAY: %w", err)
			}
			cfg.ReconnectDelay = d
		}
	}

	cfg.MaxReconnects = DefaultMaxReconnects
	switch {
	case opts.MaxReconnects != nil:
		cfg.MaxReconnects = *opts.MaxReconnects
	case os.Getenv("MESHCALL_MAX_RECONNECTS") != "":
		n, err := strconv.Atoi(os.Getenv("MESHCALL_MAX_RECONNECTS"))
		if err != nil {
			return nil, fmt.Errorf("MESHCALL_MAX_RECONNECTS: %w", err)
		}
		cfg.MaxReconnects = n
	}

	return cfg, nil
}

// Validate checks the settings a call needs before anything is dialed.
func (c *Config) Validate() error {
	if c.Room == "" {
		return ErrEmptyRoom
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return ErrInvalidServerURL
	}

	if c.ForceRelay && c.GetTURNServers() == nil {
		return ErrRelayWithoutTURN
	}

	if !c.Video && !c.Audio {
		return ErrNoMedia
	}

	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func pickBool(flag *bool, env string, def bool) (bool, error) {
	if flag != nil {
		return *flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", env, err)
	}
	return b, nil
}

// boolPtr treats a false flag as "not passed" so the environment can still
// turn the setting on.
func boolPtr(b bool) *bool {
	if !b {
		return nil
	}
	return &b
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "meshcall"
	}
	return host
}
