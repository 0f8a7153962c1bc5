// Package appbootstrap wires configuration, storage, services and the HTTP
// server into one process.
package appbootstrap

import (
	"context"
	"fmt"
	"time"

	"incident-desk/api"
	"incident-desk/config"
	"incident-desk/core/store"
	"incident-desk/core/utils"
)

const workerStopTimeout = 10 * time.Second

// Run blocks until ctx is cancelled or the server fails.
func Run(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) error {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	dialect := store.DialectFromConfig(cfg)
	if err := store.ApplyMigrations(ctx, db, dialect, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if cfg.SeedSampleData {
		if err := store.SeedSampleData(ctx, db, dialect); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Printf("sample data ensured")
	}

	rc := composeRuntime(cfg, db, logger)
	for _, w := range rc.workers {
		w.StartWithContext(ctx)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), workerStopTimeout)
		defer cancel()
		for _, w := range rc.workers {
			if err := w.StopWithContext(stopCtx); err != nil {
				logger.Errorf("stop worker: %v", err)
			}
		}
	}()

	srv := api.NewServer(cfg, rc.serverDeps, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Printf("shutdown complete")
	return nil
}
