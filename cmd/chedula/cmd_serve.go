package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/httpapi"
	"github.com/jasrulete/AI-Scheduler/internal/httpapi/handlers"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: channel, data sync and local HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.session.Start(ctx); err != nil {
		// the channel keeps retrying with backoff
		logger.Warn("initial connect failed", "error", err)
	}
	a.sync.RefreshAll()

	if cfg.ResyncSchedule != "" {
		rec, err := datasync.NewReconciler(cfg.ResyncSchedule, a.sync, logger)
		if err != nil {
			return err
		}
		rec.Start()
		defer rec.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handlers.NewHandler(a.session, a.cache, a.sync), cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge api listening", "addr", cfg.HTTPAddr, "channel", cfg.ChatURL(), "browsing_session", a.browsing)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
