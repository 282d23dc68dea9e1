package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const maxReconnectDelay = 30 * time.Second

// callSignaler is one signaling connection. *signaling.Client satisfies it.
type callSignaler interface {
	mesh.Signaler
	Close()
}

type dialFunc func(ctx context.Context) (callSignaler, error)

// callRunner drives the sessions for one signaling connection.
type callRunner interface {
	Run(ctx context.Context, sig mesh.Signaler) error
}

// CallLoop keeps a reconciler attached to the relay, dialing again with
// exponential backoff whenever the connection is lost.
type CallLoop struct {
	Dial   dialFunc
	Runner callRunner
	Status *CallStatus
	Logger *slog.Logger

	Delay time.Duration

	// MaxReconnects bounds consecutive failed attempts. Negative means
	// retry forever, zero means never reconnect.
	MaxReconnects int

	sleep func(ctx context.Context, d time.Duration) error
}

func newCallLoop(cfg *config.Config, runner callRunner, status *CallStatus, logger *slog.Logger) *CallLoop {
	return &CallLoop{
		Dial: func(ctx context.Context) (callSignaler, error) {
			return signaling.Connect(ctx, cfg.ServerURL, cfg.Room, signaling.Options{Logger: logger})
		},
		Runner:        runner,
		Status:        status,
		Logger:        logger,
		Delay:         cfg.ReconnectDelay,
		MaxReconnects: cfg.MaxReconnects,
	}
}

// Run returns ctx's error on cancellation, or the last failure once the
// reconnect budget is spent.
func (l *CallLoop) Run(ctx context.Context) error {
	sleep := l.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := l.Delay
	failures := 0
	for {
		l.Status.Set("Connecting to relay...")
		sig, err := l.Dial(ctx)
		if err == nil {
			failures = 0
			delay = l.Delay
			l.Status.Set(fmt.Sprintf("Connected as %s", sig.ID()))
			l.Logger.Info("joined room", "self", sig.ID())

			err = l.Runner.Run(ctx, sig)
			sig.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.MaxReconnects >= 0 && failures >= l.MaxReconnects {
			if failures == 0 {
				return err
			}
			return fmt.Errorf("giving up after %d reconnect attempts: %w", failures, err)
		}

		failures++
		l.Logger.Warn("signaling lost, reconnecting", "error", err, "attempt", failures, "delay", delay)
		l.Status.Set(fmt.Sprintf("%s Reconnecting in %s (%s)", ui.IconReconnect, delay, attemptLabel(failures, l.MaxReconnects)))

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func attemptLabel(n, limit int) string {
	if limit < 0 {
		return fmt.Sprintf("attempt %d", n)
	}
	return fmt.Sprintf("attempt %d/%d", n, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CallStatus is the one-line connection state shared with the roster.
type CallStatus struct {
	mu   sync.Mutex
	text string
	echo bool
}

// Set records text, echoing it when the roster is not shown.
func (s *CallStatus) Set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text == text {
		return
	}
	s.text = text
	if s.echo {
		ui.PrintInfo(text)
	}
}

func (s *CallStatus) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// streamLogger reports who we are receiving media from.
func streamLogger(logger *slog.Logger, echo bool) mesh.Sink {
	return mesh.SinkFunc(func(streams map[string]*mesh.RemoteStream) {
		names := make([]string, 0, len(streams))
		for id, s := range streams {
			name := s.Name
			if name == "" {
				name = id
			}
			names = append(names, fmt.Sprintf("%s (%d tracks)", name, len(s.Tracks)))
		}
		sort.Strings(names)

		logger.Info("remote streams changed", "count", len(streams), "streams", names)
		if echo {
			if len(names) == 0 {
				ui.PrintInfo("Receiving from nobody")
			} else {
				ui.PrintInfo("Receiving from " + strings.Join(names, ", "))
			}
		}
	})
}
