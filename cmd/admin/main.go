package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"

	"territorybeacons.dev/internal/config"
	persistlog "territorybeacons.dev/internal/persistence/log"
	"territorybeacons.dev/internal/persistence/snapshot"
	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/sim/territory"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "prune":
			pruneCmd(os.Args[2:])
			return
		case "migrate":
			migrateCmd(os.Args[2:])
			return
		case "hash-token":
			hashTokenCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fail(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath := configFlag(fs)
	owner := fs.String("owner", "", "owner name filter (optional)")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, err := openStore(ctx, *cfgPath)
	if err != nil {
		fail(1, "open store:", err)
	}
	defer st.Close()
	if err := listTerritories(ctx, st, os.Stdout, *owner, time.Now()); err != nil {
		fail(1, "list:", err)
	}
}

func listTerritories(ctx context.Context, st store.Store, w io.Writer, owner string, now time.Time) error {
	recs, err := st.LoadAllTerritories(ctx)
	if err != nil {
		return err
	}
	seen, err := st.LoadLastSeen(ctx)
	if err != nil {
		return err
	}
	owner = territory.NormalizeName(owner)
	sort.Slice(recs, func(i, j int) bool { return territory.LocationLess(recs[i].Center, recs[j].Center) })
	n := 0
	for _, r := range recs {
		if owner != "" && !strings.EqualFold(territory.NormalizeName(r.OwnerName), owner) {
			continue
		}
		last := "never"
		if at, ok := seen[r.Owner]; ok {
			last = humanize.RelTime(at, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%-24s %-16s %-28s tier=%d r=%-3d influence=%3.0f%% seen=%s\n",
			r.Name, r.OwnerName, r.Center, r.Tier, r.Radius, r.Influence*100, last)
		n++
	}
	fmt.Fprintf(w, "%s territories\n", humanize.Comma(int64(n)))
	return nil
}

func snapshotCmd(args []string) {
	if len(args) == 0 {
		fail(2, "usage: admin snapshot export|import [flags]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("snapshot "+sub, flag.ExitOnError)
	cfgPath := configFlag(fs)
	path := fs.String("file", "./data/territories.snap.zst", "snapshot file")
	_ = fs.Parse(args[1:])

	ctx := context.Background()
	st, err := openStore(ctx, *cfgPath)
	if err != nil {
		fail(1, "open store:", err)
	}
	defer st.Close()

	switch sub {
	case "export":
		snap, err := exportSnapshot(ctx, st, *path, time.Now())
		if err != nil {
			fail(1, "export:", err)
		}
		size := "?"
		if fi, err := os.Stat(*path); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Printf("export ok: territories=%d players=%d size=%s out=%s\n",
			snap.Header.Territories, snap.Header.Players, size, *path)
	case "import":
		snap, err := importSnapshot(ctx, st, *path)
		if err != nil {
			fail(1, "import:", err)
		}
		fmt.Printf("import ok: territories=%d players=%d created=%s\n",
			len(snap.Territories), len(snap.LastSeen), humanize.Time(snap.Header.CreatedAt))
	default:
		fail(2, "unknown snapshot command:", sub)
	}
}

func exportSnapshot(ctx context.Context, st store.Store, path string, now time.Time) (snapshot.SnapshotV1, error) {
	recs, err := st.LoadAllTerritories(ctx)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	seen, err := st.LoadLastSeen(ctx)
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	snap := snapshot.New(recs, seen, now)
	return snap, snapshot.Write(path, snap)
}

// importSnapshot upserts every record of the snapshot. Run it with the
// server stopped; a running server overwrites the store on its next save.
func importSnapshot(ctx context.Context, st store.Store, path string) (snapshot.SnapshotV1, error) {
	snap, err := snapshot.Read(path)
	if err != nil {
		return snap, err
	}
	for _, r := range snap.Territories {
		if err := st.UpsertTerritory(ctx, r); err != nil {
			return snap, fmt.Errorf("territory %s: %w", r.Center, err)
		}
	}
	for id, at := range snap.LastSeenMap() {
		if err := st.UpsertLastSeen(ctx, id, at); err != nil {
			return snap, fmt.Errorf("last seen %s: %w", id, err)
		}
	}
	return snap, nil
}

func pruneCmd(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfgPath := configFlag(fs)
	days := fs.Int("days", 30, "forget players not seen for this many days (territory owners are kept)")
	_ = fs.Parse(args)
	if *days <= 0 {
		fail(2, "-days must be positive")
	}

	ctx := context.Background()
	st, err := openStore(ctx, *cfgPath)
	if err != nil {
		fail(1, "open store:", err)
	}
	defer st.Close()
	cutoff := time.Now().Add(-time.Duration(*days) * 24 * time.Hour)
	n, err := st.DeleteStaleLastSeen(ctx, cutoff)
	if err != nil {
		fail(1, "prune:", err)
	}
	fmt.Printf("prune ok: removed=%d cutoff=%s\n", n, cutoff.Format(time.RFC3339))
}

func hashTokenCmd(args []string) {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fail(2, "usage: admin hash-token [-cost N] <token>")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(fs.Arg(0)), *cost)
	if err != nil {
		fail(1, "hash:", err)
	}
	fmt.Println(string(hash))
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dir := fs.String("dir", "./data", "audit data directory")
	kind := fs.String("kind", "", "event kind filter (optional)")
	_ = fs.Parse(args)

	files, err := persistlog.NewAuditLog(*dir, nil).Files()
	if err != nil {
		fail(1, "read audit dir:", err)
	}
	for _, path := range files {
		evs, err := persistlog.ReadFile(path)
		if err != nil {
			fail(1, "read:", err)
		}
		for _, e := range evs {
			if *kind != "" && !strings.EqualFold(string(e.Kind), *kind) {
				continue
			}
			center := "-"
			if e.Center != nil {
				center = e.Center.String()
			}
			fmt.Printf("%s %-26s %s owner=%s name=%q tier=%d\n",
				e.Time.Format(time.RFC3339), e.Kind, center, e.OwnerName, e.Name, e.Tier)
		}
	}
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "./configs/server.toml", "server config (toml)")
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(path)
}
