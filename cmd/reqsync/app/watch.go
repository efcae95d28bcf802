package app

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/reqsync"
	"github.com/agentstation/reqsync/internal/cmd/output"
	"github.com/agentstation/reqsync/internal/realtime"
	"github.com/agentstation/reqsync/internal/subscription"
	"github.com/agentstation/reqsync/internal/transport"
	"github.com/agentstation/reqsync/pkg/errors"
)

// NewWatchCommand creates the watch command.
func (a *App) NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: "core",
		Short:   "Follow purchase requests live",
		Long: `Connect to a server and keep a live view of purchase requests.

Changes are pushed over a WebSocket. While the socket is down the
client polls the REST API for every request it knows about, and stops
polling once push delivery is back.`,
		Example: `  # Follow the local dev server
  reqsync watch

  # Start from known requests and print each change as it lands
  reqsync watch --ids PR-0001,PR-0002 --events

  # Stop after a minute and print the final view as JSON
  reqsync watch --duration 1m -o json`,
		Args: cobra.NoArgs,
		RunE: a.runWatch,
	}

	cmd.Flags().String("url", "", "server base URL (default "+DefaultServerURL+")")
	cmd.Flags().String("ws-url", "", "WebSocket URL (default derived from --url)")
	cmd.Flags().String("token", "", "API token")
	cmd.Flags().String("auth", "", "token scheme: bearer, none, header:<name>, query:<param>")
	cmd.Flags().String("channel", "", "channel to follow")
	cmd.Flags().StringSlice("ids", nil, "request ids to load and track from the start")
	cmd.Flags().Duration("poll-interval", 0, "fallback poll interval")
	cmd.Flags().Duration("refresh", 2*time.Second, "how often to redraw the view when something changed")
	cmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().Bool("events", false, "print one line per applied change instead of redrawing the view")

	return cmd
}

// watchSession is one running client stack.
type watchSession struct {
	manager   *reqsync.Manager
	transport *realtime.Transport
	binding   *subscription.Binding
}

func (s *watchSession) close() {
	s.binding.Close()
	_ = s.transport.Close()
	s.manager.Dispose()
}

func (a *App) runWatch(cmd *cobra.Command, _ []string) error {
	cfg := *a.config
	overrideString(cmd, "url", &cfg.ServerURL)
	overrideString(cmd, "ws-url", &cfg.WSURL)
	overrideString(cmd, "token", &cfg.Token)
	overrideString(cmd, "auth", &cfg.Auth)
	overrideString(cmd, "channel", &cfg.Channel)
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = mustGetDuration(cmd, "poll-interval")
	}
	ids := mustGetStringSlice(cmd, "ids")
	refresh := mustGetDuration(cmd, "refresh")
	duration := mustGetDuration(cmd, "duration")
	eventsMode := mustGetBool(cmd, "events")
	if refresh <= 0 {
		return errors.NewValidationError("refresh", refresh, "must be positive")
	}

	format := output.DetectFormat(cfg.Format)
	out := &syncWriter{w: cmd.OutOrStdout()}

	session, err := a.newWatchSession(cfg, ids)
	if err != nil {
		return err
	}
	defer session.close()

	ctx := cmd.Context()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if eventsMode {
		session.manager.OnChange(func(c reqsync.Change) {
			fmt.Fprintln(out, changeLine(c))
		})
	}
	session.manager.OnFallback(func(active bool) {
		state := "off"
		if active {
			state = "on"
		}
		a.logger.Info().Str("fallback", state).Msg("Delivery mode changed")
	})
	session.manager.BindHealth(session.transport)
	session.manager.Start()

	if len(ids) > 0 {
		res, err := session.manager.PollNow(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Initial load failed, waiting for updates")
		} else {
			a.logger.Info().Int("applied", res.Applied).Int("requested", len(ids)).Msg("Initial load complete")
		}
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := session.transport.Run(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Realtime transport stopped")
		}
	}()

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-runDone
			if eventsMode {
				return nil
			}
			return output.FormatEntries(out, session.manager.Snapshot(), format)
		case <-ticker.C:
			if eventsMode {
				continue
			}
			snap := session.manager.Snapshot()
			if !anyDirty(snap) {
				continue
			}
			if err := output.FormatEntries(out, snap, format); err != nil {
				return err
			}
			session.manager.MarkSeen(snap...)
		}
	}
}

func (a *App) newWatchSession(cfg Config, ids []string) (*watchSession, error) {
	auth, err := transport.ParseAuth(cfg.Auth)
	if err != nil {
		return nil, err
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		if wsURL, err = WebSocketURL(cfg.ServerURL); err != nil {
			return nil, err
		}
	}

	fetcher, err := transport.NewFetcher(cfg.ServerURL,
		transport.WithAuth(auth, cfg.Token),
		transport.WithLogger(a.component("transport")),
	)
	if err != nil {
		return nil, err
	}

	opts := []reqsync.Option{
		reqsync.WithLogger(a.component("manager")),
		reqsync.WithTrackedIDs(ids...),
	}
	if cfg.Channel != "" {
		opts = append(opts, reqsync.WithChannel(cfg.Channel))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, reqsync.WithPollInterval(cfg.PollInterval))
	}
	if cfg.PollTimeout > 0 {
		opts = append(opts, reqsync.WithPollTimeout(cfg.PollTimeout))
	}
	manager, err := reqsync.New(fetcher.Fetch, opts...)
	if err != nil {
		return nil, err
	}

	var token string
	if _, ok := auth.(*transport.BearerAuth); ok {
		token = cfg.Token
	}
	tr := realtime.New(realtime.Config{
		URL:         wsURL,
		Token:       token,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}, realtime.WithLogger(a.component("realtime")))

	return &watchSession{
		manager:   manager,
		transport: tr,
		binding:   subscription.New(tr, manager.Channel(), manager),
	}, nil
}

func (a *App) component(name string) *zerolog.Logger {
	logger := a.logger.With().Str("component", name).Logger()
	return &logger
}

// WebSocketURL derives the push endpoint from a server base URL.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", errors.NewValidationError("url", serverURL, "must be an absolute URL")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.NewValidationError("url", serverURL, "scheme must be http or https")
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func anyDirty(entries []reqsync.Entry) bool {
	for _, e := range entries {
		if e.Dirty {
			return true
		}
	}
	return false
}

func changeLine(c reqsync.Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-4s %-7s %s v%d", time.Now().Format(time.TimeOnly), c.Source, c.Kind, c.ID, c.New.Version.Seq)
	if c.Event != "" {
		fmt.Fprintf(&b, " (%s)", c.Event)
	}
	if phase := c.New.Request.Phase; phase != "" {
		fmt.Fprintf(&b, " %s", phase.Title())
	}
	return b.String()
}

// overrideString copies a flag onto dst when the user set it.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetString(cmd, name)
	}
}

// syncWriter serializes writes from hooks and the render loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
