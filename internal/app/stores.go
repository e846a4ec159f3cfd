package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/vellumbot/internal/config"
	"github.com/MrWong99/vellumbot/internal/store"
	"github.com/MrWong99/vellumbot/internal/store/memory"
	"github.com/MrWong99/vellumbot/internal/store/postgres"
	"github.com/MrWong99/vellumbot/internal/store/sqlite"
)

// RegisterStores registers the built-in store drivers on reg.
func RegisterStores(reg *config.Registry) {
	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (store.Store, error) {
		return memory.New(), nil
	})
	reg.RegisterStore(config.StoreSQLite, func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		return sqlite.Open(ctx, cfg.DSN)
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		return postgres.Open(ctx, cfg.DSN)
	})

	for _, d := range reg.Drivers() {
		slog.Debug("registered store driver", "driver", d)
	}
}

// DefaultRegistry returns a registry holding the built-in store drivers.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterStores(reg)
	return reg
}
