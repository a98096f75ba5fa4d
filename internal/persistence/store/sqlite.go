package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"territorybeacons.dev/internal/sim/territory"
)

type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, log: log}, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) LoadAllTerritories(ctx context.Context) ([]territory.Record, error) {
	rows, err := s.db.QueryContext(ctx,
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
			id    int64
			r     territory.Record
			owner string
		)
		if err := rows.Scan(&id, &r.Center.World, &r.Center.X, &r.Center.Y, &r.Center.Z,
			&owner, &r.OwnerName, &r.Name, &r.Tier, &r.Radius, &r.Influence, &r.PvP, &r.MobSpawning); err != nil {
			return nil, err
		}
		r.Owner, err = uuid.Parse(owner)
		if err != nil {
			s.log.Warn("skipping territory with bad owner", zap.Int64("id", id), zap.String("owner", owner))
			continue
		}
		byID[id] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trusted, err := s.db.QueryContext(ctx, `SELECT territory_id, player FROM trusted_players ORDER BY territory_id, player`)
	if err != nil {
		return nil, err
	}
	defer trusted.Close()
	for trusted.Next() {
		var (
			id     int64
			player string
		)
		if err := trusted.Scan(&id, &player); err != nil {
			return nil, err
		}
		i, ok := byID[id]
		if !ok {
			continue
		}
		p, err := uuid.Parse(player)
		if err != nil {
			s.log.Warn("skipping bad trusted player", zap.Int64("territory_id", id), zap.String("player", player))
			continue
		}
		out[i].Trusted = append(out[i].Trusted, p)
	}
	if err := trusted.Err(); err != nil {
		return nil, err
	}

	features, err := s.db.QueryContext(ctx, `SELECT territory_id, feature, active FROM territory_features ORDER BY territory_id, feature`)
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
			s.log.Warn("skipping unknown feature", zap.Int64("territory_id", id), zap.String("feature", name))
		}
	}
	return out, features.Err()
}

func (s *SQLite) UpsertTerritory(ctx context.Context, r territory.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO territories (world, x, y, z, owner, owner_name, name, tier, radius, influence, pvp, mob_spawning, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (world, x, y, z) DO UPDATE SET
		   owner = excluded.owner, owner_name = excluded.owner_name, name = excluded.name,
		   tier = excluded.tier, radius = excluded.radius, influence = excluded.influence,
		   pvp = excluded.pvp, mob_spawning = excluded.mob_spawning, updated_at = excluded.updated_at
		 RETURNING id`,
		r.Center.World, r.Center.X, r.Center.Y, r.Center.Z, r.Owner.String(), r.OwnerName, r.Name,
		r.Tier, r.Radius, r.Influence, r.PvP, r.MobSpawning, time.Now().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert territory %s: %w", r.Center, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trusted_players WHERE territory_id = ?`, id); err != nil {
		return err
	}
	for _, p := range r.Trusted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO trusted_players (territory_id, player) VALUES (?, ?)`, id, p.String()); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM territory_features WHERE territory_id = ?`, id); err != nil {
		return err
	}
	for _, f := range featureRows(r) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO territory_features (territory_id, feature, active) VALUES (?, ?, ?)`, id, f.name, f.active); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteTerritory(ctx context.Context, center territory.Location, owner territory.PlayerID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM territories WHERE world = ? AND x = ? AND y = ? AND z = ? AND owner = ?`,
		center.World, center.X, center.Y, center.Z, owner.String())
	return err
}

func (s *SQLite) LoadLastSeen(ctx context.Context) (map[territory.PlayerID]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player, last_seen_ms FROM player_last_seen`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[territory.PlayerID]time.Time{}
	for rows.Next() {
		var (
			player string
			ms     int64
		)
		if err := rows.Scan(&player, &ms); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(player)
		if err != nil {
			continue
		}
		out[id] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertLastSeen(ctx context.Context, id territory.PlayerID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_last_seen (player, last_seen_ms) VALUES (?, ?)
		 ON CONFLICT (player) DO UPDATE SET last_seen_ms = excluded.last_seen_ms`,
		id.String(), at.UnixMilli())
	return err
}

func (s *SQLite) DeleteStaleLastSeen(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM player_last_seen
		 WHERE last_seen_ms < ? AND player NOT IN (SELECT owner FROM territories)`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
