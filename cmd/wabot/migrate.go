package main

import (
	"fmt"
	"log/slog"

	"github.com/autolumiku/wabot/internal/db"
	"github.com/autolumiku/wabot/internal/logger"
)

func runMigrate(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err := db.Migrate(logger.L, cfg.Postgres.DSN()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.L.Info("migrations applied", slog.String("database", cfg.Postgres.Database))
	return nil
}
