package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/routes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Run the HTTP and WebSocket server together with the background jobs
that dispatch scheduled reports and expire idle presence.

Pending migrations are applied on start unless --no-migrate is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(cmd.Context(), addr, noMigrate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().Bool("no-migrate", false, "skip running database migrations on start")
}

func runServer(parent context.Context, addr string, noMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewLogger("server")
	defer log.Sync()

	if !noMigrate {
		if err := database.MigrateUp(cfg.MigrateURL()); err != nil {
			return err
		}
		log.Info("Database migrations applied")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	go a.hub.Run(hubCtx)

	if err := a.jobs.AddJob("report-dispatch", cfg.ReportCheckInterval, false, func(ctx context.Context, now time.Time) error {
		_, err := a.deps.Reports.RunDue(ctx, now.UTC())
		return err
	}); err != nil {
		stopHub()
		return err
	}
	if err := a.jobs.AddJob("presence-sweep", cfg.PresenceTimeout/2, false, func(ctx context.Context, now time.Time) error {
		_, err := a.deps.Presence.Sweep(ctx, now.UTC())
		return err
	}); err != nil {
		stopHub()
		return err
	}

	if addr == "" {
		addr = cfg.HTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes.RegisterAllRoutes(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server is running", "addr", addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopHub()
		<-a.hub.Done()
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// WebSocket connections are hijacked, so the hub closes them itself.
	stopHub()
	<-a.hub.Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
		return err
	}
	return <-errCh
}
