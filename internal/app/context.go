package app

import (
	"context"
	"database/sql"
	"fmt"

	"regtrack/internal/catalog"
	"regtrack/internal/config"
	"regtrack/internal/db"
	"regtrack/internal/engine"
	"regtrack/internal/migrate"
	"regtrack/internal/repo"
)

// Open wires a workspace into a ready Engine: opens the database, applies
// migrations, loads config, and seeds the status catalog on first run.
func Open(ctx context.Context, workspace string) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, err
	}
	eng, err := build(ctx, conn, workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	return eng, nil
}

func build(ctx context.Context, conn *sql.DB, workspace string) (engine.Engine, error) {
	if err := migrate.Migrate(conn); err != nil {
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return engine.Engine{}, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: conn}
	cat, err := catalog.Load(ctx, r)
	if err != nil {
		return engine.Engine{}, err
	}
	if len(cat.Stages()) == 0 {
		cat, err = catalog.Seed(ctx, conn, r, cfg)
		if err != nil {
			return engine.Engine{}, fmt.Errorf("seed catalog: %w", err)
		}
	}
	return engine.New(conn, cat, cfg), nil
}
