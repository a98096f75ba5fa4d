package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/config"
	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/sim/border"
	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/sim/terrain"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/transport/ws"
)

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		log.Warn("memory store: territories are lost on restart")
		return store.NewMemory(), nil
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := store.OpenPostgres(ctx, store.PostgresConfig{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxOpenConns,
			MinConns:        cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// openWorld picks the block source and the economy. "memory" runs against a
// flat in-process world where every player can pay.
func openWorld(cfg config.ServerConfig, hub *ws.Hub) (border.World, lifecycle.Payments) {
	if cfg.World == "memory" {
		return terrain.NewFlat(cfg.FlatGround, cfg.FlatWorlds...), openEconomy{}
	}
	r := hub.Remote()
	return r, r
}

type openEconomy struct{}

func (openEconomy) HasFunds(context.Context, territory.PlayerID, float64, lifecycle.Currency) (bool, error) {
	return true, nil
}

func (openEconomy) Withdraw(context.Context, territory.PlayerID, float64, lifecycle.Currency) (bool, error) {
	return true, nil
}
