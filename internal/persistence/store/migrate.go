package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) dir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

func setupGoose(d Dialect) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(string(d)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending migrations for the dialect.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := setupGoose(d); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, d.dir()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := setupGoose(d); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
