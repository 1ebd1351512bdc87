package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/store"
)

// applyDBFlag routes a --db override into the store config. The flag always
// means the sqlite driver; postgres stores are file-less and configured via
// the config file or env.
func applyDBFlag(cmd *cobra.Command, path string) {
	if cmd.Flags().Changed("db") {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = path
	}
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (crawler.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		return store.NewSQLite(ctx, cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DSN)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
