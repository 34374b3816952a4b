package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/server"
	"github.com/agenthands/tsgcopilot/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the copilot over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	if store, ok := e.sessions.(*session.SQLiteStore); ok {
		go expireSessions(ctx, store, time.Duration(e.cfg.Session.TTLMinutes)*time.Minute)
	}

	srv := server.NewServer(e.copilot, logger.Named("http"))
	return srv.ListenAndServe(ctx, ":"+e.cfg.Server.Port)
}

// expireSessions drops abandoned conversations until ctx is done.
func expireSessions(ctx context.Context, store *session.SQLiteStore, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupExpired(ctx, ttl)
			if err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}
