// Command kitcore runs the inventory review API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kitcore/internal/blob"
	"kitcore/internal/config"
	"kitcore/internal/core"
	"kitcore/internal/export"
	"kitcore/internal/httpapi"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return err
	}

	svc := core.NewService(store, core.NewRoleAccess(core.DefaultRoles()))

	ctx := context.Background()
	if err := svc.SeedRoles(ctx, core.DefaultRoles()); err != nil {
		return err
	}

	var worker *export.Worker
	if cfg.ExportsEnabled {
		blobStore, err := blob.Open(ctx)
		if err != nil {
			return err
		}
		worker = export.NewWorker(svc, blobStore, auditLog{logger: logger})
		worker.Start()
	}

	api := httpapi.NewServer(svc, worker, cfg.JWTSecret, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			logger.Error("export worker shutdown", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// auditLog writes export audit entries to the process log.
type auditLog struct {
	logger *slog.Logger
}

func (a auditLog) Record(_ context.Context, entry export.AuditEntry) {
	a.logger.Info("audit",
		"audit_id", entry.ID,
		"action", entry.Action,
		"actor", entry.Actor,
		"team_id", entry.TeamID,
		"status", string(entry.Status),
	)
}
