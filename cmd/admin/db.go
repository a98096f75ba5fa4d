package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"territorybeacons.dev/internal/config"
	"territorybeacons.dev/internal/persistence/store"
)

// openStore opens the backend named in the server config. Opening applies
// pending migrations.
func openStore(ctx context.Context, cfgPath string) (store.Store, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return openBackend(ctx, cfg.Store)
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Path, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := store.OpenPostgres(ctx, store.PostgresConfig{DSN: cfg.DSN, MaxConns: 2}, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("store backend %q has nothing on disk to administer", cfg.Backend)
	}
}

func migrateCmd(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfgPath := configFlag(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	st, err := openStore(ctx, *cfgPath)
	if err != nil {
		fail(1, "migrate:", err)
	}
	defer st.Close()

	v, err := schemaVersion(ctx, st)
	if err != nil {
		fail(1, "schema version:", err)
	}
	fmt.Printf("migrate ok: schema version=%d\n", v)
}

func schemaVersion(ctx context.Context, st store.Store) (int64, error) {
	var (
		db      *sql.DB
		dialect store.Dialect
	)
	switch s := st.(type) {
	case *store.SQLite:
		db, dialect = s.DB(), store.DialectSQLite
	case *store.Postgres:
		db, dialect = s.DB(), store.DialectPostgres
		defer db.Close()
	default:
		return 0, fmt.Errorf("no schema for %T", st)
	}
	return store.SchemaVersion(ctx, db, dialect)
}
