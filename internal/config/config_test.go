package config

import (
	"errors"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MESHCALL_SERVER", "MESHCALL_ROOM", "MESHCALL_NAME", "STUN_SERVER",
		"TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD", "FORCE_RELAY",
		"MESHCALL_VIDEO", "MESHCALL_AUDIO", "MESHCALL_VIDEO_FILE", "MESHCALL_AUDIO_FILE",
		"MESHCALL_RECORD_DIR", "MESHCALL_LISTEN", "MESHCALL_RECONNECT_DELAY",
		"MESHCALL_MAX_RECONNECTS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Fatalf("ServerURL=%q, want %q", cfg.ServerURL, DefaultServerURL)
	}
	if cfg.Room != DefaultRoom {
		t.Fatalf("Room=%q, want %q", cfg.Room, DefaultRoom)
	}
	if !cfg.Video || !cfg.Audio {
		t.Fatalf("Video=%v Audio=%v, want both enabled", cfg.Video, cfg.Audio)
	}
	if cfg.ReconnectDelay != DefaultReconnectDelay {
		t.Fatalf("ReconnectDelay=%v, want %v", cfg.ReconnectDelay, DefaultReconnectDelay)
	}
	if cfg.MaxReconnects != DefaultMaxReconnects {
		t.Fatalf("MaxReconnects=%d, want %d", cfg.MaxReconnects, DefaultMaxReconnects)
	}
	if cfg.GetTURNServers() != nil {
		t.Fatalf("TURN servers configured by default: %v", cfg.GetTURNServers())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate defaults: %v", err)
	}
}

func TestLoad_FlagBeatsEnvBeatsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESHCALL_ROOM", "from-env")
	t.Setenv("MESHCALL_SERVER", "wss://relay.example.com/ws")
	t.Setenv("MESHCALL_VIDEO", "false")
	t.Setenv("MESHCALL_RECONNECT_DELAY", "750ms")
	t.Setenv("MESHCALL_MAX_RECONNECTS", "9")

	audio := false
	maxReconnects := 0
	cfg, err := Load(Options{Room: "from-flag", Audio: &audio, MaxReconnects: &maxReconnects})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room != "from-flag" {
		t.Fatalf("Room=%q, want flag value", cfg.Room)
	}
	if cfg.ServerURL != "wss://relay.example.com/ws" {
		t.Fatalf("ServerURL=%q, want env value", cfg.ServerURL)
	}
	if cfg.Video {
		t.Fatalf("Video=true, want env override false")
	}
	if cfg.Audio {
		t.Fatalf("Audio=true, want flag override false")
	}
	if cfg.ReconnectDelay != 750*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v, want 750ms", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnects != 0 {
		t.Fatalf("MaxReconnects=%d, want explicit 0 from flag", cfg.MaxReconnects)
	}
	if !errors.Is(cfg.Validate(), ErrNoMedia) {
		t.Fatalf("Validate=%v, want ErrNoMedia", cfg.Validate())
	}
}

func TestLoad_BadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESHCALL_AUDIO", "maybe")
	if _, err := Load(Options{}); err == nil {
		t.Fatalf("Load accepted MESHCALL_AUDIO=maybe")
	}

	clearEnv(t)
	t.Setenv("MESHCALL_RECONNECT_DELAY", "soon")
	if _, err := Load(Options{}); err == nil {
		t.Fatalf("Load accepted MESHCALL_RECONNECT_DELAY=soon")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{ServerURL: "ws://localhost:8080/ws", Room: "room1", Video: true}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"ok", func(*Config) {}, nil},
		{"empty room", func(c *Config) { c.Room = "" }, ErrEmptyRoom},
		{"http scheme", func(c *Config) { c.ServerURL = "http://localhost:8080/ws" }, ErrInvalidServerURL},
		{"relay without turn", func(c *Config) { c.ForceRelay = true }, ErrRelayWithoutTURN},
		{"relay with turn", func(c *Config) { c.ForceRelay = true; c.TURNServer = "turn.example.com" }, nil},
		{"no media", func(c *Config) { c.Video = false }, ErrNoMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetTURNServers(t *testing.T) {
	c := &Config{TURNServer: "turn.example.com", TURNUser: "u", TURNPass: "p"}
	got := c.GetTURNServers()
	want := []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
		"turns:turn.example.com:5349?transport=tcp",
	}
	if len(got) != len(want) {
		t.Fatalf("GetTURNServers=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetTURNServers[%d]=%q, want %q", i, got[i], want[i])
		}
	}
	if u, p := c.GetTURNCredentials(); u != "u" || p != "p" {
		t.Fatalf("GetTURNCredentials=(%q,%q)", u, p)
	}
}
