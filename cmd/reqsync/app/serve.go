package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/reqsync/internal/server"
	"github.com/agentstation/reqsync/pkg/errors"
)

// NewServeCommand creates the serve command.
func (a *App) NewServeCommand() *cobra.Command {
	def := server.DefaultConfig()
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "development",
		Short:   "Run a local purchase-request event server",
		Long: `Start a development server that holds purchase requests in memory
and pushes every change to connected clients.

Features:
  - WebSocket push at /ws
  - Server-Sent Events at /api/events/stream (optional ?channel= filter)
  - Poll endpoint GET /api/purchase-requests?ids=a,b
  - Create, patch, advance, transition and delete endpoints
  - Mock workflow traffic at a configurable interval
  - Admin endpoints to drop sockets and step the generator
  - Optional token auth, CORS and per-IP rate limiting

It is a fixture for exercising clients, not a production backend.`,
		Example: `  # Start on default port 8080 with mock traffic every 2s
  reqsync serve

  # Quiet server with a fixed seed and no background traffic
  reqsync serve --generate-interval 0 --seed 42

  # Require a token
  reqsync serve --auth --token s3cret`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	// Server configuration flags
	cmd.Flags().Int("port", def.Port, "Server port")
	cmd.Flags().String("host", def.Host, "Bind address")
	cmd.Flags().String("prefix", def.PathPrefix, "API path prefix")
	cmd.Flags().String("channel", def.Channel, "Channel for purchase request events")
	cmd.Flags().String("approvals-channel", def.ApprovalsChannel, "Channel mirroring approval phase changes (empty disables)")

	// CORS flags
	cmd.Flags().Bool("cors", false, "Enable CORS for all origins")
	cmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (comma-separated)")

	// Authentication flags
	cmd.Flags().Bool("auth", false, "Require a token")
	cmd.Flags().String("token", "", "Token clients must send (default from REQSYNC_TOKEN)")
	cmd.Flags().String("auth-header", def.AuthHeader, "Authentication header name")

	// Performance flags
	cmd.Flags().Int("rate-limit", def.RateLimit, "Requests per minute per IP (0 to disable)")
	cmd.Flags().Duration("cache-ttl", def.CacheTTL, "Response cache TTL")

	// Timeout flags
	cmd.Flags().Duration("read-timeout", def.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", def.WriteTimeout, "HTTP write timeout (0 keeps SSE streams open)")
	cmd.Flags().Duration("idle-timeout", def.IdleTimeout, "HTTP idle timeout")

	// Mock traffic flags
	cmd.Flags().Int("seed-count", def.SeedCount, "Purchase requests created at startup")
	cmd.Flags().Uint64("seed", 0, "Random seed for mock traffic (0 picks one)")
	cmd.Flags().Duration("generate-interval", def.GenerateInterval, "Interval between mock changes (0 disables)")
	cmd.Flags().Int("max-open", def.MaxOpen, "Request count at which closed requests start being archived")

	return cmd
}

func (a *App) runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := a.parseServeConfig(cmd)
	if err != nil {
		return err
	}
	logger := a.component("server")

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("prefix", cfg.PathPrefix).
		Str("channel", cfg.Channel).
		Bool("cors", cfg.CORSEnabled).
		Bool("auth", cfg.AuthEnabled).
		Int("rate_limit", cfg.RateLimit).
		Dur("generate_interval", cfg.GenerateInterval).
		Msg("Starting dev server")

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Start()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return errors.WrapResource("listen", "address", httpServer.Addr, err)
	}
	return startWithGracefulShutdown(cmd, httpServer, ln, srv)
}

// parseServeConfig parses command flags into server configuration.
func (a *App) parseServeConfig(cmd *cobra.Command) (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Port = mustGetInt(cmd, "port")
	cfg.Host = mustGetString(cmd, "host")
	cfg.PathPrefix = mustGetString(cmd, "prefix")
	cfg.Channel = mustGetString(cmd, "channel")
	cfg.ApprovalsChannel = mustGetString(cmd, "approvals-channel")
	cfg.CORSEnabled = mustGetBool(cmd, "cors")
	cfg.CORSOrigins = mustGetStringSlice(cmd, "cors-origins")
	cfg.AuthEnabled = mustGetBool(cmd, "auth")
	cfg.AuthToken = mustGetString(cmd, "token")
	cfg.AuthHeader = mustGetString(cmd, "auth-header")
	cfg.RateLimit = mustGetInt(cmd, "rate-limit")
	cfg.CacheTTL = mustGetDuration(cmd, "cache-ttl")
	cfg.ReadTimeout = mustGetDuration(cmd, "read-timeout")
	cfg.WriteTimeout = mustGetDuration(cmd, "write-timeout")
	cfg.IdleTimeout = mustGetDuration(cmd, "idle-timeout")
	cfg.SeedCount = mustGetInt(cmd, "seed-count")
	cfg.GenerateInterval = mustGetDuration(cmd, "generate-interval")
	cfg.MaxOpen = mustGetInt(cmd, "max-open")
	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		panic("programming error: failed to get flag seed: " + err.Error())
	}
	cfg.Seed = seed

	if cfg.AuthToken == "" {
		cfg.AuthToken = a.config.Token
	}

	// Override with environment variables
	if envPort := os.Getenv("HTTP_PORT"); envPort != "" && !cmd.Flags().Changed("port") {
		p, err := parsePort(envPort)
		if err != nil {
			return server.Config{}, errors.NewConfigError("serve", "HTTP_PORT", err)
		}
		cfg.Port = p
	}
	if envHost := os.Getenv("HTTP_HOST"); envHost != "" && !cmd.Flags().Changed("host") {
		cfg.Host = envHost
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return server.Config{}, errors.NewValidationError("port", cfg.Port, "out of range")
	}

	return cfg, nil
}

// parsePort safely parses a port string to integer.
func parsePort(portStr string) (int, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

// startWithGracefulShutdown serves on ln until the command context is
// cancelled, then drains HTTP connections and stops background services.
func startWithGracefulShutdown(cmd *cobra.Command, httpServer *http.Server, ln net.Listener, srv *server.Server) error {
	logger := srv.Logger()
	serverErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		fmt.Fprintf(cmd.OutOrStdout(), "Dev server listening on http://%s\n", ln.Addr())
		fmt.Fprintln(cmd.OutOrStdout(), "   Press Ctrl+C to stop")

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		_ = srv.Shutdown(context.Background())
		return err
	case <-cmd.Context().Done():
		logger.Info().Msg("Shutdown signal received via context")

		// Use Background() since the parent context is already cancelled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Background services go first: stopping the broadcaster and hub
		// ends SSE streams and WebSocket pumps, which Shutdown would
		// otherwise wait on.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Background services shutdown had issues")
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("Server stopped gracefully")
		return nil
	}
}
