package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"territorybeacons.dev/internal/config"
	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/sim/territory"
)

func openTestSQLite(t *testing.T, name string) store.Store {
	t.Helper()
	st, err := openBackend(context.Background(), config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), name)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st store.Store, now time.Time) (territory.PlayerID, territory.PlayerID) {
	t.Helper()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	for i, r := range []territory.Record{
		{Owner: alice, OwnerName: "Alice", Name: "Alice's Territory", Center: territory.Location{World: "world", X: 0, Y: 64, Z: 0}, Tier: 1, Radius: 16, Influence: 1, PvP: true},
		{Owner: bob, OwnerName: "Bob", Name: "Bob's Territory", Center: territory.Location{World: "world", X: 500, Y: 70, Z: -20}, Tier: 2, Radius: 24, Influence: 0.5},
	} {
		if err := st.UpsertTerritory(ctx, r); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := st.UpsertLastSeen(ctx, alice, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	return alice, bob
}

func TestListTerritories(t *testing.T) {
	st := openTestSQLite(t, "list.sqlite")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, st, now)

	var buf bytes.Buffer
	if err := listTerritories(context.Background(), st, &buf, "", now); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "2 hours ago") || !strings.Contains(out, "never") || !strings.Contains(out, "2 territories") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	buf.Reset()
	if err := listTerritories(context.Background(), st, &buf, "bob", now); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(buf.String(), "Alice") || !strings.Contains(buf.String(), "1 territories") {
		t.Fatalf("owner filter:\n%s", buf.String())
	}
}

func TestSnapshotExportImport(t *testing.T) {
	ctx := context.Background()
	src := openTestSQLite(t, "src.sqlite")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice, _ := seed(t, src, now)

	path := filepath.Join(t.TempDir(), "territories.snap.zst")
	snap, err := exportSnapshot(ctx, src, path, now)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Header.Territories != 2 || snap.Header.Players != 1 {
		t.Fatalf("header=%+v", snap.Header)
	}

	dst := openTestSQLite(t, "dst.sqlite")
	if _, err := importSnapshot(ctx, dst, path); err != nil {
		t.Fatalf("import: %v", err)
	}
	recs, err := dst.LoadAllTerritories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("imported %d territories", len(recs))
	}
	seen, err := dst.LoadLastSeen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if at, ok := seen[alice]; !ok || !at.Equal(now.Add(-2*time.Hour)) {
		t.Fatalf("last seen=%v ok=%v", at, ok)
	}
}

func TestSchemaVersion(t *testing.T) {
	st := openTestSQLite(t, "v.sqlite")
	v, err := schemaVersion(context.Background(), st)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version=%d", v)
	}
	if _, err := openBackend(context.Background(), config.StoreConfig{Backend: "memory"}); err == nil {
		t.Fatalf("memory backend should be refused")
	}
}
