package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/dashsync/internal/fakebackend"
)

func newFakeBackendCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fake-backend",
		Short: "Serve synthetic agent traffic over websocket for local runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			fb := cfg.FakeBackend
			if fb.Agents <= 0 {
				return fmt.Errorf("fake_backend.agents must be positive, got %d", fb.Agents)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gin.SetMode(gin.ReleaseMode)
			backend := fakebackend.New(fakebackend.Config{
				Interval: fb.Interval,
				Agents:   fb.Agents,
				Seed:     fb.Seed,
				Logger:   logger.With("component", "fake_backend"),
			})
			defer backend.Close()

			srv := &http.Server{
				Addr:              fb.Addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()
			go backend.Run(ctx)

			green := color.New(color.FgGreen)
			cyan := color.New(color.FgCyan)
			fmt.Fprintln(cmd.OutOrStdout())
			green.Fprint(cmd.OutOrStdout(), "  ▶ ")
			fmt.Fprint(cmd.OutOrStdout(), "Fake backend: ")
			cyan.Fprintln(cmd.OutOrStdout(), "ws://"+displayAddr(fb.Addr)+"/ws")
			fmt.Fprintln(cmd.OutOrStdout())
			logger.Info("fake backend listening", "addr", fb.Addr, "agents", fb.Agents, "interval", fb.Interval)

			var runErr error
			select {
			case <-ctx.Done():
			case err := <-serveErr:
				runErr = fmt.Errorf("http server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "listen address")
	flags.Duration("interval", 0, "time between generated rounds")
	flags.Int("agents", 0, "number of synthetic agents")
	flags.Uint64("seed", 0, "random seed for reproducible traffic")
	cobra.CheckErr(opts.v.BindPFlag("fake_backend.addr", flags.Lookup("addr")))
	cobra.CheckErr(opts.v.BindPFlag("fake_backend.interval", flags.Lookup("interval")))
	cobra.CheckErr(opts.v.BindPFlag("fake_backend.agents", flags.Lookup("agents")))
	cobra.CheckErr(opts.v.BindPFlag("fake_backend.seed", flags.Lookup("seed")))
	return cmd
}
