package main

import (
	"context"
	"fmt"

	"storypool/internal/config"
	"storypool/internal/store"
	"storypool/internal/store/postgres"
	"storypool/internal/store/sqlite"
)

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	var (
		db  store.Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = postgres.New(ctx, cfg.DSN)
	case "sqlite", "":
		db, err = sqlite.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return db, nil
}
