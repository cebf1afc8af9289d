package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/dashsync/api/handlers"
	"github.com/remote-agent-terminal/dashsync/internal/clock"
	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/config"
	"github.com/remote-agent-terminal/dashsync/internal/db"
	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/recorder"
	"github.com/remote-agent-terminal/dashsync/internal/repository"
	"github.com/remote-agent-terminal/dashsync/internal/session"
	"github.com/remote-agent-terminal/dashsync/internal/store"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
	"github.com/remote-agent-terminal/dashsync/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the backend and serve the dashboard API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("url", "", "backend websocket URL (http(s) is mapped to ws(s))")
	flags.String("addr", "", "HTTP listen address for the dashboard API")
	flags.String("db", "", "sqlite file for task history (empty disables)")
	flags.String("record", "", "write a frame transcript to this file")
	flags.Int("max-reconnect-attempts", 0, "give up after this many reconnects (0 retries forever)")
	cobra.CheckErr(opts.v.BindPFlag("session.url", flags.Lookup("url")))
	cobra.CheckErr(opts.v.BindPFlag("http.addr", flags.Lookup("addr")))
	cobra.CheckErr(opts.v.BindPFlag("history.db_path", flags.Lookup("db")))
	cobra.CheckErr(opts.v.BindPFlag("recorder.path", flags.Lookup("record")))
	cobra.CheckErr(opts.v.BindPFlag("session.max_reconnect_attempts", flags.Lookup("max-reconnect-attempts")))
	return cmd
}

// runClient wires the session, stores and HTTP API together and blocks
// until ctx is canceled or the HTTP server fails.
func runClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var dialer transport.Dialer = transport.NewWebSocketDialer(transport.WebSocketConfig{
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		WriteWait:        cfg.Transport.WriteWait,
		PongWait:         cfg.Transport.PongWait,
		MaxMessageSize:   cfg.Transport.MaxMessageSize,
		Logger:           logger.With("component", "transport"),
	})

	if cfg.Recorder.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Recorder.Path), 0o755); err != nil {
			return fmt.Errorf("creating recorder directory: %w", err)
		}
		rec, err := recorder.Create(cfg.Recorder.Path, cfg.Recorder.Title, clock.Real())
		if err != nil {
			return fmt.Errorf("creating recorder: %w", err)
		}
		defer rec.Close()
		dialer = recorder.Wrap(dialer, rec, logger.With("component", "recorder"))
	}

	clientConfig := realtime.Config{
		Session: session.Config{
			URL:                  cfg.Session.URL,
			BaseDelay:            cfg.Session.BaseDelay,
			MaxDelay:             cfg.Session.MaxDelay,
			MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
			QueueCapacity:        cfg.Session.QueueCapacity,
		},
		Stores: store.Config{
			MetricsHistory: cfg.Stores.MetricsHistory,
			TaskHistory:    cfg.Stores.TaskHistory,
		},
		Shortcuts:    make(map[string]command.Intent, len(cfg.Commands.Shortcuts)),
		CommandTopic: cfg.Commands.Topic,
		Logger:       logger,
	}
	for chord, intent := range cfg.Commands.Shortcuts {
		clientConfig.Shortcuts[chord] = command.Intent(intent)
	}
	for _, intent := range cfg.Commands.Forward {
		clientConfig.Forward = append(clientConfig.Forward, command.Intent(intent))
	}

	var history handlers.TaskHistory
	if cfg.History.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
		database, err := db.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("opening task history: %w", err)
		}
		defer database.Close()

		repo := repository.NewTaskRepository(database)
		if cfg.History.Keep > 0 {
			pruned, err := repo.Prune(ctx, cfg.History.Keep)
			if err != nil {
				return fmt.Errorf("pruning task history: %w", err)
			}
			logger.Debug("pruned task history", "removed", pruned, "keep", cfg.History.Keep)
		}
		clientConfig.History = repo
		history = repo
	}

	client, err := realtime.New(dialer, clientConfig)
	if err != nil {
		return fmt.Errorf("creating realtime client: %w", err)
	}
	defer client.Close()

	service := ws.NewService(client, ws.HandlerConfig{
		WriteWait: cfg.Transport.WriteWait,
		PongWait:  cfg.Transport.PongWait,
		Logger:    logger.With("component", "ui"),
	})
	defer service.Close()

	if !logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Client:        client,
			Stream:        service,
			History:       history,
			RecordingPath: cfg.Recorder.Path,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	printBanner(cfg)
	logger.Info("starting dashsync",
		"url", cfg.Session.URL,
		"http_addr", cfg.HTTP.Addr,
		"history", cfg.History.DBPath != "",
		"recording", cfg.Recorder.Path != "",
	)

	go func() {
		// A session that gives up stays FAILED until POST /api/session/connect.
		if err := client.Run(ctx); err != nil {
			logger.Error("session stopped reconnecting", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return runErr
}

func printBanner(cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	fmt.Println()
	green.Print("  ▶ ")
	fmt.Print("Backend: ")
	cyan.Println(cfg.Session.URL)
	green.Print("  ▶ ")
	fmt.Print("API:     ")
	cyan.Println("http://" + displayAddr(cfg.HTTP.Addr) + "/api")
	if cfg.History.DBPath != "" {
		green.Print("  ▶ ")
		fmt.Print("History: ")
		gray.Println(cfg.History.DBPath)
	}
	fmt.Println()
}

// displayAddr turns ":8080" into "localhost:8080".
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
