package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/lightsout/go/internal/dbconfig"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// setupRepository opens the configured leaderboard backend. The returned close
// function is never nil.
func setupRepository(ctx context.Context, cfg LeaderboardConfig) (leaderboard.Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case backendMemory:
		log.Warn().Msg("leaderboard is kept in memory only")
		return leaderboard.NewMemoryRepository(), noop, nil

	case backendFile:
		log.Info().Str("path", cfg.Path).Msg("using flat-file leaderboard")
		return leaderboard.NewFileRepository(cfg.Path), noop, nil

	case backendSQLite, backendPostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		dbCfg.Driver = cfg.Backend
		if cfg.Backend == backendSQLite {
			dbCfg.Path = cfg.Path
		}

		database, err := setupDatabase(ctx, dbCfg)
		if err != nil {
			return nil, noop, err
		}

		repo, err := leaderboard.NewSQLRepository(ctx, database, dbCfg.Driver)
		if err != nil {
			database.Close()
			return nil, noop, err
		}
		return repo, repo.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown leaderboard backend %q", cfg.Backend)
	}
}

func setupDatabase(ctx context.Context, dbCfg dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open(dbCfg.Driver, dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if dbCfg.Driver == dbconfig.DriverSQLite {
		// one writer at a time
		database.SetMaxOpenConns(1)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("driver", dbCfg.Driver).
		Str("target", dbCfg.Target()).
		Msg("connected to database")
	return database, nil
}
