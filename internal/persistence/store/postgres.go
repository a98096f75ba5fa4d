package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"territorybeacons.dev/internal/sim/territory"
)

type PostgresConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// Postgres wraps a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

func OpenPostgres(ctx context.Context, cfg PostgresConfig, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	p := &Postgres{Pool: pool, log: log}
	db := p.DB()
	defer db.Close()
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// DB opens a database/sql handle on the pool. The caller closes it.
func (p *Postgres) DB() *sql.DB { return stdlib.OpenDBFromPool(p.Pool) }

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}

func (p *Postgres) LoadAllTerritories(ctx context.Context) ([]territory.Record, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT id, world, x, y, z, owner, owner_name, name, tier, radius, influence, pvp, mob_spawning
		 FROM territories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []territory.Record
	byID := map[int64]int{}
	for rows.Next() {
		var (
			id int64
			r  territory.Record
		)
		if err := rows.Scan(&id, &r.Center.World, &r.Center.X, &r.Center.Y, &r.Center.Z,
			&r.Owner, &r.OwnerName, &r.Name, &r.Tier, &r.Radius, &r.Influence, &r.PvP, &r.MobSpawning); err != nil {
			return nil, err
		}
		byID[id] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trusted, err := p.Pool.Query(ctx, `SELECT territory_id, player FROM trusted_players ORDER BY territory_id, player`)
	if err != nil {
		return nil, err
	}
	defer trusted.Close()
	for trusted.Next() {
		var (
			id     int64
			player territory.PlayerID
		)
		if err := trusted.Scan(&id, &player); err != nil {
			return nil, err
		}
		if i, ok := byID[id]; ok {
			out[i].Trusted = append(out[i].Trusted, player)
		}
	}
	if err := trusted.Err(); err != nil {
		return nil, err
	}

	features, err := p.Pool.Query(ctx, `SELECT territory_id, feature, active FROM territory_features ORDER BY territory_id, feature`)
	if err != nil {
		return nil, err
	}
	defer features.Close()
	for features.Next() {
		var (
			id     int64
			name   string
			active bool
		)
		if err := features.Scan(&id, &name, &active); err != nil {
			return nil, err
		}
		i, ok := byID[id]
		if !ok {
			continue
		}
		if err := applyFeature(&out[i], name, active); err != nil {
			p.log.Warn("skipping unknown feature", zap.Int64("territory_id", id), zap.String("feature", name))
		}
	}
	return out, features.Err()
}

func (p *Postgres) UpsertTerritory(ctx context.Context, r territory.Record) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO territories (world, x, y, z, owner, owner_name, name, tier, radius, influence, pvp, mob_spawning, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (world, x, y, z) DO UPDATE SET
		   owner = EXCLUDED.owner, owner_name = EXCLUDED.owner_name, name = EXCLUDED.name,
		   tier = EXCLUDED.tier, radius = EXCLUDED.radius, influence = EXCLUDED.influence,
		   pvp = EXCLUDED.pvp, mob_spawning = EXCLUDED.mob_spawning, updated_at = now()
		 RETURNING id`,
		r.Center.World, r.Center.X, r.Center.Y, r.Center.Z, r.Owner, r.OwnerName, r.Name,
		r.Tier, r.Radius, r.Influence, r.PvP, r.MobSpawning,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert territory %s: %w", r.Center, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM trusted_players WHERE territory_id = $1`, id)
	for _, pl := range r.Trusted {
		batch.Queue(`INSERT INTO trusted_players (territory_id, player) VALUES ($1, $2)`, id, pl)
	}
	batch.Queue(`DELETE FROM territory_features WHERE territory_id = $1`, id)
	for _, f := range featureRows(r) {
		batch.Queue(`INSERT INTO territory_features (territory_id, feature, active) VALUES ($1, $2, $3)`, id, f.name, f.active)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert territory %s children: %w", r.Center, err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) DeleteTerritory(ctx context.Context, center territory.Location, owner territory.PlayerID) error {
	_, err := p.Pool.Exec(ctx,
		`DELETE FROM territories WHERE world = $1 AND x = $2 AND y = $3 AND z = $4 AND owner = $5`,
		center.World, center.X, center.Y, center.Z, owner)
	return err
}

func (p *Postgres) LoadLastSeen(ctx context.Context) (map[territory.PlayerID]time.Time, error) {
	rows, err := p.Pool.Query(ctx, `SELECT player, last_seen FROM player_last_seen`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[territory.PlayerID]time.Time{}
	for rows.Next() {
		var (
			id territory.PlayerID
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertLastSeen(ctx context.Context, id territory.PlayerID, at time.Time) error {
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO player_last_seen (player, last_seen) VALUES ($1, $2)
		 ON CONFLICT (player) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		id, at)
	return err
}

func (p *Postgres) DeleteStaleLastSeen(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.Pool.Exec(ctx,
		`DELETE FROM player_last_seen
		 WHERE last_seen < $1 AND player NOT IN (SELECT owner FROM territories)`,
		olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
