package store

import (
	"context"
	"errors"
	"time"

	"territorybeacons.dev/internal/sim/territory"
)

var ErrNotFound = errors.New("store: not found")

// Store is the durable side of the registry. Calls may fail transiently;
// callers log and retry on the next save cycle.
type Store interface {
	LoadAllTerritories(ctx context.Context) ([]territory.Record, error)
	UpsertTerritory(ctx context.Context, r territory.Record) error
	// DeleteTerritory removes the row at center owned by owner. Deleting a
	// missing row is not an error.
	DeleteTerritory(ctx context.Context, center territory.Location, owner territory.PlayerID) error

	LoadLastSeen(ctx context.Context) (map[territory.PlayerID]time.Time, error)
	UpsertLastSeen(ctx context.Context, id territory.PlayerID, at time.Time) error
	// DeleteStaleLastSeen drops entries older than olderThan for players
	// that own no territory, returning how many were removed.
	DeleteStaleLastSeen(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)
