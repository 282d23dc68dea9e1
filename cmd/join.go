package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/netutil"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/record"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagServer         string
	flagName           string
	flagSTUN           string
	flagTURN           string
	flagTURNUser       string
	flagTURNPass       string
	flagRelay          bool
	flagNoVideo        bool
	flagNoAudio        bool
	flagVideoFile      string
	flagAudioFile      string
	flagRecordDir      string
	flagReconnectDelay time.Duration
	flagMaxReconnects  int
	flagPlain          bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a call room",
	Long: `Join a room and exchange media with every other participant in it.

Examples:
  meshcall join standup --video-file cam.ivf --audio-file mic.ogg
  meshcall join standup --no-video --audio-file mic.ogg --record-dir ./rec
  meshcall join standup --server wss://relay.example.com/ws --relay --turn turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.Options{
			ServerURL:      flagServer,
			Name:           flagName,
			STUNServer:     flagSTUN,
			TURNServer:     flagTURN,
			TURNUser:       flagTURNUser,
			TURNPass:       flagTURNPass,
			ForceRelay:     flagRelay,
			VideoFile:      flagVideoFile,
			AudioFile:      flagAudioFile,
			RecordDir:      flagRecordDir,
			ReconnectDelay: flagReconnectDelay,
		}
		if len(args) == 1 {
			opts.Room = args[0]
		}
		if cmd.Flags().Changed("no-video") {
			opts.Video = boolFlag(!flagNoVideo)
		}
		if cmd.Flags().Changed("no-audio") {
			opts.Audio = boolFlag(!flagNoAudio)
		}
		if cmd.Flags().Changed("max-reconnects") {
			opts.MaxReconnects = &flagMaxReconnects
		}

		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}
		return joinCall(cmd.Context(), cfg, flagPlain)
	},
}

func boolFlag(b bool) *bool {
	return &b
}

// LoadConfig resolves and validates the settings for a call.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func joinCall(ctx context.Context, cfg *config.Config, plain bool) error {
	logger := slog.Default().With("room", cfg.Room)

	sp := ui.NewSpinner("Opening local media...")
	sp.Start()
	capability, err := media.Acquire(ctx, media.Config{
		Video:  cfg.Video,
		Audio:  cfg.Audio,
		Logger: logger,
	}, media.FileDevice{VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile})
	if err != nil {
		sp.Error("Could not open local media")
		return describeAcquireError(err)
	}
	defer capability.Release()
	sp.Success(fmt.Sprintf("Local media ready (%s)", trackKinds(capability)))

	if cfg.GetTURNServers() == nil && netutil.PreferRelay() {
		ui.PrintWarning("Tunnel interface detected and no TURN server configured; direct connections may fail")
	}

	api, err := peer.NewAPI(peer.APIOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("create webrtc api: %w", err)
	}

	sinks := mesh.Sinks{streamLogger(logger, plain)}
	var recorder *record.Recorder
	if cfg.RecordDir != "" {
		recorder, err = record.New(cfg.RecordDir, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, recorder)
		ui.PrintInfof("%s Recording remote tracks to %s", ui.IconRecord, cfg.RecordDir)
	}

	reconciler, err := mesh.New(mesh.Config{
		Factory: peer.NewFactory(api, peer.Configuration(cfg)),
		Tracks:  capability.Tracks(),
		Sink:    sinks,
		Logger:  logger,
		Hello:   &peer.Hello{Name: cfg.Name, Version: version.Version},
	})
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	status := &CallStatus{echo: plain}
	loop := newCallLoop(cfg, reconciler, status, logger)

	callErr := make(chan error, 1)
	go func() {
		callErr <- loop.Run(callCtx)
	}()

	if plain {
		err = <-callErr
	} else {
		err = runWithRoster(callCtx, cancel, cfg, reconciler, status, callErr)
	}

	if recorder != nil {
		recorder.Wait()
	}

	fmt.Println()
	ui.RenderSummary(nil, "📊 Call Summary", reconciler.History())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runWithRoster shows the roster until the call ends or the user quits.
func runWithRoster(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, rc *mesh.Reconciler, status *CallStatus, callErr <-chan error) error {
	uiErr := make(chan error, 1)
	go func() {
		uiErr <- ui.RunRoster(ctx, ui.RosterOptions{
			Room:     cfg.Room,
			Name:     cfg.Name,
			Snapshot: rc.Snapshot,
			Status:   status.Get,
		})
	}()

	select {
	case err := <-callErr:
		cancel()
		<-uiErr
		return err
	case err := <-uiErr:
		cancel()
		callResult := <-callErr
		if err != nil {
			return fmt.Errorf("roster: %w", err)
		}
		return callResult
	}
}

func trackKinds(c *media.Capability) string {
	kinds := make([]string, 0, 2)
	for _, t := range c.Tracks() {
		kinds = append(kinds, t.Kind().String())
	}
	return strings.Join(kinds, " + ")
}

func describeAcquireError(err error) error {
	switch {
	case errors.Is(err, media.ErrNoDevice):
		return fmt.Errorf("%w (pass --video-file/--audio-file or disable with --no-video/--no-audio)", err)
	case errors.Is(err, media.ErrPermission):
		return fmt.Errorf("%w (check the file is readable and in IVF or Ogg format)", err)
	default:
		return err
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Relay websocket URL (default "+config.DefaultServerURL+")")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Name shown to other participants (default hostname)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Do not send video")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not send audio")
	joinCmd.Flags().StringVar(&flagVideoFile, "video-file", "", "IVF (VP8) file to send as video")
	joinCmd.Flags().StringVar(&flagAudioFile, "audio-file", "", "Ogg (Opus) file to send as audio")
	joinCmd.Flags().StringVar(&flagRecordDir, "record-dir", "", "Write every remote track to this directory")
	joinCmd.Flags().DurationVar(&flagReconnectDelay, "reconnect-delay", 0, "Initial delay before reconnecting to the relay")
	joinCmd.Flags().IntVar(&flagMaxReconnects, "max-reconnects", config.DefaultMaxReconnects, "Reconnect attempts before giving up (negative retries forever)")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print status lines instead of the live roster")
}
