package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "calview/internal/log"
	"calview/internal/scheduler"
	"calview/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresh schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		appLog.Info("calview starting", "version", version)
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := scheduler.Options{Location: a.loc, Retention: cfg.Fallback.Retention}
		if a.fallback != nil {
			opts.Pruner = a.fallback
		}
		sched, err := scheduler.New(cfg.RefreshCron, a.ctl, opts)
		if err != nil {
			return err
		}

		// Prime the view before the first request; failures are kept in the
		// snapshot and retried on the next tick.
		if _, err := a.ctl.Refresh(ctx, false); err != nil {
			appLog.Warn("initial refresh incomplete", "err", err.Error())
		}
		sched.Start()

		srv := web.NewServer(a.ctl, web.Options{BasicAuth: cfg.BasicAuth, Location: a.loc})
		runErr := srv.Run(ctx, cfg.Listen)

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(stopCtx)

		if runErr != nil {
			appLog.Error("HTTP server failed", runErr, "listen", cfg.Listen)
			return runErr
		}
		appLog.Info("calview exiting")
		return nil
	},
}
