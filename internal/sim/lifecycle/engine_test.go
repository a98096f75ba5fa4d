package lifecycle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/terrain"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/sim/tuning"
)

type stubPayments struct {
	mu    sync.Mutex
	items map[territory.PlayerID]float64
	money map[territory.PlayerID]float64
	// refuse makes Withdraw fail for a currency even when HasFunds said yes.
	refuse map[Currency]bool
}

func newStubPayments() *stubPayments {
	return &stubPayments{items: map[territory.PlayerID]float64{}, money: map[territory.PlayerID]float64{}}
}

func (p *stubPayments) balance(c Currency) map[territory.PlayerID]float64 {
	if c == CurrencyItem {
		return p.items
	}
	return p.money
}

func (p *stubPayments) HasFunds(_ context.Context, player territory.PlayerID, amount float64, c Currency) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(c)[player] >= amount, nil
}

func (p *stubPayments) Withdraw(_ context.Context, player territory.PlayerID, amount float64, c Currency) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.balance(c)
	if p.refuse[c] || b[player] < amount {
		return false, nil
	}
	b[player] -= amount
	return true, nil
}

type testEnv struct {
	eng   *Engine
	world *terrain.Store
	store *store.Memory
	pay   *stubPayments
	rec   *events.Recorder
	now   time.Time
}

func newTestEnv(t *testing.T, mutate func(*tuning.Tuning)) *testEnv {
	t.Helper()
	tu := tuning.Defaults()
	tu.Creation.Steps = 1
	tu.Creation.StepInterval = 1
	if mutate != nil {
		mutate(&tu)
	}
	env := &testEnv{
		world: terrain.NewFlat(63, "world"),
		store: store.NewMemory(),
		pay:   newStubPayments(),
		rec:   &events.Recorder{},
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	env.eng = New(Deps{
		World:    env.world,
		Store:    env.store,
		Payments: env.pay,
		Sink:     env.rec,
		Now:      func() time.Time { return env.now },
	}, tu)
	t.Cleanup(env.eng.anim.StopAll)
	return env
}

func at(x, z int) territory.Location {
	return territory.Location{World: "world", X: x, Y: 64, Z: z}
}

func (env *testEnv) create(t *testing.T, owner territory.PlayerID, center territory.Location) *territory.Territory {
	t.Helper()
	res := env.eng.Create(context.Background(), CreateRequest{Owner: owner, OwnerName: "p", Center: center})
	if !res.OK {
		t.Fatalf("create at %s: %s %s", center, res.Code, res.Detail)
	}
	return res.Territory
}

func TestCreateDrawsBorderAndPersists(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	tr := env.create(t, owner, at(0, 0))

	if tr.Tier() != 1 || tr.Radius() != 16 || tr.Influence() != 1 {
		t.Fatalf("unexpected territory: tier=%d radius=%d influence=%v", tr.Tier(), tr.Radius(), tr.Influence())
	}
	if tr.BorderSize() == 0 {
		t.Fatalf("expected border markers")
	}
	if got := env.world.Count(terrain.Marker); got != tr.BorderSize() {
		t.Fatalf("markers in world=%d border record=%d", got, tr.BorderSize())
	}
	if _, ok := env.store.Territory(at(0, 0)); !ok {
		t.Fatalf("territory not persisted")
	}
	if len(env.rec.OfKind(events.TerritoryCreated)) != 1 {
		t.Fatalf("expected one created event")
	}
	if _, ok := env.eng.Presence().LastSeen(owner); !ok {
		t.Fatalf("owner should have a last-seen entry")
	}
}

func TestCreateRejectsInOrder(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) {
		tu.MaxTerritories = 2
		tu.MinBeaconDistance = 10
	})
	a := uuid.New()
	env.create(t, a, at(0, 0))

	cases := []struct {
		name   string
		owner  territory.PlayerID
		center territory.Location
		code   string
	}{
		{"occupied", uuid.New(), at(0, 0), protocol.ErrOccupied},
		{"too close", uuid.New(), at(5, 0), protocol.ErrTooClose},
		{"overlap", uuid.New(), at(20, 0), protocol.ErrOverlap},
	}
	for _, tc := range cases {
		res := env.eng.Create(context.Background(), CreateRequest{Owner: tc.owner, Center: tc.center})
		if res.OK || res.Code != tc.code {
			t.Fatalf("%s: got ok=%v code=%q want %q", tc.name, res.OK, res.Code, tc.code)
		}
	}

	env.create(t, a, at(100, 0))
	res := env.eng.Create(context.Background(), CreateRequest{Owner: a, Center: at(200, 0)})
	if res.OK || res.Code != protocol.ErrMaxTerritories {
		t.Fatalf("limit: got ok=%v code=%q", res.OK, res.Code)
	}
	if n := len(env.rec.OfKind(events.ActionRejected)); n != 4 {
		t.Fatalf("rejection events=%d want 4", n)
	}
}

func TestCreateNeverProducesOverlap(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) {
		tu.MaxTerritories = 100
		tu.MinBeaconDistance = 0
	})
	for x := -200; x <= 200; x += 7 {
		for z := -200; z <= 200; z += 11 {
			env.eng.Create(context.Background(), CreateRequest{Owner: uuid.New(), Center: at(x, z)})
		}
	}
	if env.eng.Registry().Len() < 2 {
		t.Fatalf("expected several territories, got %d", env.eng.Registry().Len())
	}
	if pairs := env.eng.Registry().OverlappingPairs(); len(pairs) != 0 {
		t.Fatalf("found %d overlapping pairs", len(pairs))
	}
}

func TestUpgradeOnlyToNextTier(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Economy.CostType = tuning.CostItems })
	owner := uuid.New()
	tr := env.create(t, owner, at(0, 0))
	tr.Trust(uuid.New())
	tr.SetInfluence(0.7)

	res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if res.OK || res.Code != protocol.ErrInsufficientFunds {
		t.Fatalf("no funds: got ok=%v code=%q", res.OK, res.Code)
	}
	env.pay.items[owner] = 100
	res = env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 3})
	if res.OK || res.Code != protocol.ErrBadTier {
		t.Fatalf("skip tier: got ok=%v code=%q", res.OK, res.Code)
	}
	res = env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if !res.OK {
		t.Fatalf("upgrade: %s %s", res.Code, res.Detail)
	}
	next := res.Territory
	if next.Tier() != 2 || next.Radius() != 24 {
		t.Fatalf("tier=%d radius=%d", next.Tier(), next.Radius())
	}
	if next.Influence() != 0.7 || len(next.Trusted()) != 1 {
		t.Fatalf("state not carried: influence=%v trusted=%d", next.Influence(), len(next.Trusted()))
	}
	if got, _ := env.eng.Registry().Get(at(0, 0)); got != next {
		t.Fatalf("registry does not hold the upgraded territory")
	}
	if env.pay.items[owner] != 92 {
		t.Fatalf("items left=%v want 92", env.pay.items[owner])
	}
	if got := env.world.Count(terrain.Marker); got != next.BorderSize() {
		t.Fatalf("markers=%d border=%d", got, next.BorderSize())
	}
	if rec, _ := env.store.Territory(at(0, 0)); rec.Tier != 2 {
		t.Fatalf("stored tier=%d", rec.Tier)
	}
}

func TestUpgradeRejectsWithoutChange(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) {
		tu.Economy.CostType = tuning.CostItems
		tu.MaxTerritories = 5
		tu.MinBeaconDistance = 0
	})
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	env.create(t, uuid.New(), at(36, 0))

	env.pay.items[owner] = 100
	res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: uuid.New(), Center: at(0, 0), Tier: 2})
	if res.OK || res.Code != protocol.ErrNoPermission {
		t.Fatalf("stranger: got ok=%v code=%q", res.OK, res.Code)
	}
	res = env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if res.OK || res.Code != protocol.ErrOverlap {
		t.Fatalf("overlap: got ok=%v code=%q", res.OK, res.Code)
	}
	if env.pay.items[owner] != 100 {
		t.Fatalf("rejected upgrade charged the player")
	}
	if got, _ := env.eng.Registry().Get(at(0, 0)); got.Tier() != 1 {
		t.Fatalf("tier changed on rejection")
	}
}

func TestUpgradeAtMaxTier(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Tiers = tu.Tiers[:1] })
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if res.OK || res.Code != protocol.ErrMaxTier {
		t.Fatalf("got ok=%v code=%q", res.OK, res.Code)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.create(t, owner, at(0, 0))

	res := env.eng.Delete(context.Background(), DeleteRequest{Actor: uuid.New(), Center: at(0, 0)})
	if res.OK || res.Code != protocol.ErrNoPermission {
		t.Fatalf("stranger delete: got ok=%v code=%q", res.OK, res.Code)
	}
	res = env.eng.Delete(context.Background(), DeleteRequest{Actor: owner, Center: at(0, 0)})
	if !res.OK {
		t.Fatalf("delete: %s", res.Code)
	}
	if env.world.Count(terrain.Marker) != 0 {
		t.Fatalf("markers left after delete")
	}
	if _, ok := env.eng.Registry().Get(at(0, 0)); ok {
		t.Fatalf("still registered")
	}
	if _, ok := env.store.Territory(at(0, 0)); ok {
		t.Fatalf("still stored")
	}
	drops := env.world.Drops()
	if len(drops) != 1 || drops[0].Item != "BEACON" {
		t.Fatalf("drops=%v", drops)
	}
	res = env.eng.Delete(context.Background(), DeleteRequest{Actor: owner, Center: at(0, 0)})
	if res.OK || res.Code != protocol.ErrNotFound {
		t.Fatalf("second delete: got ok=%v code=%q", res.OK, res.Code)
	}
}

func TestBreakBeaconByStrangerRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	res := env.eng.BreakBeacon(context.Background(), DeleteRequest{Actor: uuid.New(), Center: at(0, 0)})
	if res.OK {
		t.Fatalf("stranger broke the beacon")
	}
	res = env.eng.BreakBeacon(context.Background(), DeleteRequest{Actor: uuid.New(), Center: at(500, 0)})
	if !res.OK || res.Changed {
		t.Fatalf("plain beacon break: %+v", res)
	}
	res = env.eng.BreakBeacon(context.Background(), DeleteRequest{Actor: uuid.New(), Admin: true, Center: at(0, 0)})
	if !res.OK || !res.Changed {
		t.Fatalf("admin break: %+v", res)
	}
}

func TestDecayRestoresOnlineOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	tr := env.create(t, owner, at(0, 0))
	tr.SetInfluence(0.6)
	env.eng.PlayerJoin(owner, "alice")

	st := env.eng.DecayTick(context.Background())
	if st.Restored != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if got := tr.Influence(); math.Abs(got-0.65) > 1e-9 {
		t.Fatalf("influence=%v want 0.65", got)
	}
}

func TestDecayRemovesLongAbsentOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	env.eng.PlayerJoin(owner, "bob")
	env.eng.PlayerQuit(owner)

	env.now = env.now.Add(100 * time.Hour)
	if st := env.eng.DecayTick(context.Background()); st.Decayed != 0 {
		t.Fatalf("decayed before threshold: %+v", st)
	}

	env.now = env.now.Add(70 * time.Hour)
	st := env.eng.DecayTick(context.Background())
	if st.Removed != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if env.eng.Registry().Len() != 0 || env.world.Count(terrain.Marker) != 0 {
		t.Fatalf("territory not fully removed")
	}
	if len(env.rec.OfKind(events.TerritoryDecayed)) != 1 {
		t.Fatalf("expected a decayed event")
	}
}

func TestDecayAmount(t *testing.T) {
	cases := []struct {
		hours int
		want  float64
	}{
		{0, 0}, {159, 0}, {160, 0.1}, {161, 0.2}, {170, 1.1},
	}
	for _, tc := range cases {
		if got := DecayAmount(tc.hours, 160, 0.1); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("DecayAmount(%d)=%v want %v", tc.hours, got, tc.want)
		}
	}
}

func TestDecayUnknownOwnerGetsLastSeen(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.store.UpsertTerritory(context.Background(), territory.New(owner, "", at(0, 0), 1, 16).Snapshot())
	if err := env.eng.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if st := env.eng.DecayTick(context.Background()); st.Decayed != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if _, ok := env.eng.Presence().LastSeen(owner); !ok {
		t.Fatalf("expected last-seen to be recorded")
	}
}

func TestStoreFailureIsRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.create(t, owner, at(0, 0))

	env.store.SetFail(errors.New("disk full"))
	if res := env.eng.Delete(context.Background(), DeleteRequest{Actor: owner, Center: at(0, 0)}); !res.OK {
		t.Fatalf("delete must succeed in memory: %s", res.Code)
	}
	if env.eng.PendingDeletes() != 1 {
		t.Fatalf("pending=%d", env.eng.PendingDeletes())
	}
	if st := env.eng.SaveAll(context.Background()); st.Failed == 0 {
		t.Fatalf("save should report failures while the store is down")
	}

	env.store.SetFail(nil)
	st := env.eng.SaveAll(context.Background())
	if st.Failed != 0 || st.Deletes != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if _, ok := env.store.Territory(at(0, 0)); ok {
		t.Fatalf("row should be gone after retry")
	}
	if env.eng.PendingDeletes() != 0 {
		t.Fatalf("pending=%d", env.eng.PendingDeletes())
	}
}

func TestPendingDeleteSkippedWhenReclaimed(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	env.store.SetFail(errors.New("timeout"))
	env.eng.Delete(context.Background(), DeleteRequest{Actor: owner, Center: at(0, 0)})
	env.store.SetFail(nil)
	env.create(t, owner, at(0, 0))

	env.eng.SaveAll(context.Background())
	if _, ok := env.store.Territory(at(0, 0)); !ok {
		t.Fatalf("re-created territory was deleted by a stale retry")
	}
}

type brokenStore struct{ *store.Memory }

func (brokenStore) LoadAllTerritories(context.Context) ([]territory.Record, error) {
	return nil, errors.New("connection refused")
}

func TestLoadFailureIsFatal(t *testing.T) {
	eng := New(Deps{World: terrain.NewFlat(63, "world"), Store: brokenStore{store.NewMemory()}}, tuning.Defaults())
	if err := eng.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestLoadRestoresState(t *testing.T) {
	env := newTestEnv(t, nil)
	owner, friend := uuid.New(), uuid.New()
	tr := env.create(t, owner, at(0, 0))
	tr.Trust(friend)
	tr.UnlockFeature(territory.FeatureSpeed)
	tr.SetFeatureActive(territory.FeatureSpeed, true)
	tr.SetInfluence(0.4)
	env.eng.SaveAll(context.Background())

	other := New(Deps{World: terrain.NewFlat(63, "world"), Store: env.store}, tuning.Defaults())
	if err := other.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := other.Registry().Get(at(0, 0))
	if !ok {
		t.Fatalf("territory missing after load")
	}
	if !got.IsTrusted(friend) || !got.IsActive(territory.FeatureSpeed) || got.Influence() != 0.4 {
		t.Fatalf("state lost: trusted=%v speed=%v influence=%v", got.IsTrusted(friend), got.IsActive(territory.FeatureSpeed), got.Influence())
	}
	if got.BorderSize() == 0 {
		t.Fatalf("border not redrawn on load")
	}
}

func TestShutdownClearsBorders(t *testing.T) {
	env := newTestEnv(t, nil)
	env.create(t, uuid.New(), at(0, 0))
	if err := env.eng.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if env.world.Count(terrain.Marker) != 0 {
		t.Fatalf("markers left after shutdown")
	}
	env.store.SetFail(errors.New("gone"))
	env.create(t, uuid.New(), at(500, 0))
	var se *SaveError
	if err := env.eng.Shutdown(context.Background()); !errors.As(err, &se) {
		t.Fatalf("expected SaveError, got %v", err)
	}
}

func TestProtection(t *testing.T) {
	env := newTestEnv(t, nil)
	owner, friend, stranger := uuid.New(), uuid.New(), uuid.New()
	tr := env.create(t, owner, at(0, 0))
	env.eng.Trust(context.Background(), Manage{Actor: owner}, friend)

	inside := territory.Location{World: "world", X: 3, Y: 64, Z: 3}
	if d := env.eng.CanBuildAt(stranger, false, inside); d.Allowed || d.Code != protocol.ErrProtected {
		t.Fatalf("stranger build: %+v", d)
	}
	if d := env.eng.CanBuildAt(friend, false, inside); !d.Allowed {
		t.Fatalf("trusted build refused")
	}
	if d := env.eng.CanBuildAt(stranger, false, at(300, 300)); !d.Allowed {
		t.Fatalf("wilderness build refused")
	}
	marker := tr.Border()[0]
	if d := env.eng.CanBreakAt(owner, false, marker); d.Allowed || d.Code != protocol.ErrBorderBlock {
		t.Fatalf("owner broke a marker: %+v", d)
	}
	if d := env.eng.CanInteractAt(stranger, false, inside, true); d.Allowed {
		t.Fatalf("container opened by stranger")
	}
	if d := env.eng.CanInteractAt(stranger, false, inside, false); !d.Allowed {
		t.Fatalf("non-container interaction refused")
	}

	kept := env.eng.FilterExplosion([]territory.Location{inside, marker, at(0, 0), at(300, 300)})
	if len(kept) != 1 || kept[0] != at(300, 300) {
		t.Fatalf("explosion kept %v", kept)
	}

	pos := territory.Point{World: "world", X: 1, Y: 64, Z: 1}
	if d := env.eng.AllowPvP(pos); !d.Allowed {
		t.Fatalf("pvp should default on")
	}
	env.eng.SetPvP(context.Background(), Manage{Actor: owner}, false)
	if d := env.eng.AllowPvP(pos); d.Allowed || d.Code != protocol.ErrPvPDisabled {
		t.Fatalf("pvp: %+v", d)
	}
	env.eng.SetMobSpawning(context.Background(), Manage{Actor: owner}, false)
	if d := env.eng.AllowMobSpawn(pos); d.Allowed {
		t.Fatalf("mobs allowed")
	}
}

func TestManageCommands(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Effects = map[string]float64{"speed": 50} })
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	ctx := context.Background()
	m := Manage{Actor: owner}

	if res := env.eng.Trust(ctx, m, owner); res.OK || res.Code != protocol.ErrSelfTrust {
		t.Fatalf("self trust: %+v", res)
	}
	friend := uuid.New()
	if res := env.eng.Trust(ctx, m, friend); !res.Changed {
		t.Fatalf("trust: %+v", res)
	}
	if res := env.eng.Trust(ctx, m, friend); !res.OK || res.Changed {
		t.Fatalf("repeat trust: %+v", res)
	}
	if res := env.eng.Rename(ctx, m, "  Home\x07 "); !res.OK || res.Territory.Name() != "Home" {
		t.Fatalf("rename: %+v", res)
	}
	if res := env.eng.ToggleFeature(ctx, m, territory.FeatureSpeed); res.Code != protocol.ErrFeatureLocked {
		t.Fatalf("toggle locked: %+v", res)
	}
	if res := env.eng.UnlockFeature(ctx, m, territory.FeatureSpeed); res.Code != protocol.ErrInsufficientFunds {
		t.Fatalf("unlock without money: %+v", res)
	}
	env.pay.money[owner] = 60
	if res := env.eng.UnlockFeature(ctx, m, territory.FeatureSpeed); !res.Changed {
		t.Fatalf("unlock: %+v", res)
	}
	if env.pay.money[owner] != 10 {
		t.Fatalf("money left=%v", env.pay.money[owner])
	}
	if res := env.eng.ToggleFeature(ctx, m, territory.FeatureSpeed); !res.OK || res.Territory.IsActive(territory.FeatureSpeed) {
		t.Fatalf("toggle off: %+v", res)
	}
	if res := env.eng.Rename(ctx, Manage{Actor: uuid.New(), Center: ptr(at(0, 0))}, "x"); res.Code != protocol.ErrNoPermission {
		t.Fatalf("stranger rename: %+v", res)
	}
	if res := env.eng.Rename(ctx, Manage{Actor: uuid.New()}, "x"); res.Code != protocol.ErrNotFound {
		t.Fatalf("no territory: %+v", res)
	}
}

func ptr[T any](v T) *T { return &v }

func TestPresenceEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	owner, visitor := uuid.New(), uuid.New()
	tr := env.create(t, owner, at(0, 0))
	tr.UnlockFeature(territory.FeatureRegeneration)
	tr.SetFeatureActive(territory.FeatureRegeneration, true)

	env.eng.PlayerJoin(owner, "owner")
	env.eng.PlayerJoin(visitor, "visitor")
	env.eng.PlayerMove(owner, territory.Point{World: "world", X: 2, Y: 64, Z: 2})
	env.eng.PlayerMove(visitor, territory.Point{World: "world", X: 4, Y: 64, Z: 4})
	env.eng.CheckPresence()
	if n := len(env.rec.OfKind(events.PlayerEntered)); n != 2 {
		t.Fatalf("entered=%d", n)
	}
	env.eng.CheckPresence()
	if n := len(env.rec.OfKind(events.PlayerEntered)); n != 2 {
		t.Fatalf("re-entered without moving: %d", n)
	}
	if n := env.eng.ApplyEffects(); n != 1 {
		t.Fatalf("effects applied to %d players, want only the owner", n)
	}

	env.eng.PlayerMove(visitor, territory.Point{World: "world", X: 300, Y: 64, Z: 0})
	env.eng.CheckPresence()
	left := env.rec.OfKind(events.PlayerLeft)
	if len(left) != 1 || left[0].Player != visitor {
		t.Fatalf("left=%v", left)
	}
}

func TestCleanupLastSeenKeepsOwners(t *testing.T) {
	env := newTestEnv(t, nil)
	owner, drifter := uuid.New(), uuid.New()
	env.create(t, owner, at(0, 0))
	env.eng.PlayerJoin(owner, "o")
	env.eng.PlayerQuit(owner)
	env.eng.PlayerJoin(drifter, "d")
	env.eng.PlayerQuit(drifter)
	env.eng.SaveAll(context.Background())

	env.now = env.now.Add(31 * 24 * time.Hour)
	n, err := env.eng.CleanupLastSeen(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed=%d", n)
	}
	if _, ok := env.eng.Presence().LastSeen(owner); !ok {
		t.Fatalf("owner entry pruned")
	}
	stored, err := env.store.LoadLastSeen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stored[owner]; !ok {
		t.Fatalf("owner row dropped from store")
	}
	if _, ok := stored[drifter]; ok {
		t.Fatalf("drifter row kept in store")
	}
}

func TestUpgradePaymentPolicies(t *testing.T) {
	// Tier 1 -> 2 costs 8 items or 8*100 money under the default tuning.
	cases := []struct {
		name                 string
		policy               tuning.CostType
		items, money         float64
		ok                   bool
		leftItems, leftMoney float64
	}{
		{"items paid", tuning.CostItems, 10, 0, true, 2, 0},
		{"items short", tuning.CostItems, 5, 1000, false, 5, 1000},
		{"money paid", tuning.CostMoney, 10, 1000, true, 10, 200},
		{"money short", tuning.CostMoney, 10, 500, false, 10, 500},
		{"both paid", tuning.CostBoth, 8, 800, true, 0, 0},
		{"both missing money", tuning.CostBoth, 8, 799, false, 8, 799},
		{"both missing items", tuning.CostBoth, 7, 800, false, 7, 800},
		{"either prefers items", tuning.CostEither, 8, 800, true, 0, 800},
		{"either falls back to money", tuning.CostEither, 3, 800, true, 3, 0},
		{"either short", tuning.CostEither, 3, 100, false, 3, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Economy.CostType = tc.policy })
			owner := uuid.New()
			env.create(t, owner, at(0, 0))
			env.pay.items[owner] = tc.items
			env.pay.money[owner] = tc.money

			res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
			if res.OK != tc.ok {
				t.Fatalf("ok=%v code=%q detail=%q", res.OK, res.Code, res.Detail)
			}
			if !tc.ok && res.Code != protocol.ErrInsufficientFunds {
				t.Fatalf("code=%q", res.Code)
			}
			if env.pay.items[owner] != tc.leftItems || env.pay.money[owner] != tc.leftMoney {
				t.Fatalf("left items=%v money=%v, want %v/%v", env.pay.items[owner], env.pay.money[owner], tc.leftItems, tc.leftMoney)
			}
			wantTier := 1
			if tc.ok {
				wantTier = 2
			}
			if got, _ := env.eng.Registry().Get(at(0, 0)); got.Tier() != wantTier {
				t.Fatalf("tier=%d want %d", got.Tier(), wantTier)
			}
		})
	}
}

func TestUpgradeGoesThroughAfterPartialPayment(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Economy.CostType = tuning.CostBoth })
	owner := uuid.New()
	env.create(t, owner, at(0, 0))
	env.pay.items[owner] = 8
	env.pay.money[owner] = 800
	env.pay.refuse = map[Currency]bool{CurrencyMoney: true}

	res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if !res.OK || res.Territory.Tier() != 2 {
		t.Fatalf("upgrade: ok=%v code=%q", res.OK, res.Code)
	}
	if env.pay.items[owner] != 0 || env.pay.money[owner] != 800 {
		t.Fatalf("items=%v money=%v", env.pay.items[owner], env.pay.money[owner])
	}

	// Nothing collected: refused outright.
	other := uuid.New()
	env.create(t, other, at(500, 0))
	env.pay.items[other] = 8
	env.pay.money[other] = 800
	env.pay.refuse = map[Currency]bool{CurrencyItem: true}
	res = env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: other, Center: at(500, 0), Tier: 2})
	if res.OK || res.Code != protocol.ErrInsufficientFunds {
		t.Fatalf("expected refusal, got ok=%v code=%q", res.OK, res.Code)
	}
	if env.pay.items[other] != 8 || env.pay.money[other] != 800 {
		t.Fatalf("refused upgrade charged: items=%v money=%v", env.pay.items[other], env.pay.money[other])
	}
}

func TestUpgradeKeepsNameFromLatestJoin(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) { tu.Economy.CostType = tuning.CostItems })
	owner := uuid.New()
	tr := env.create(t, owner, at(0, 0))
	env.pay.items[owner] = 8

	// The join landed in presence but its registry pass missed this value.
	env.eng.Presence().Join(owner, "renamed", env.now)
	if tr.OwnerName() != "p" {
		t.Fatalf("setup: owner name=%q", tr.OwnerName())
	}
	res := env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if !res.OK {
		t.Fatalf("upgrade: %s %s", res.Code, res.Detail)
	}
	if got := res.Territory.OwnerName(); got != "renamed" {
		t.Fatalf("owner name=%q", got)
	}
}

func TestRejectionDetailIsDiagnostic(t *testing.T) {
	env := newTestEnv(t, func(tu *tuning.Tuning) {
		tu.MaxTerritories = 1
		tu.Economy.CostType = tuning.CostBoth
	})
	owner := uuid.New()
	env.create(t, owner, at(0, 0))

	res := env.eng.Create(context.Background(), CreateRequest{Owner: owner, OwnerName: "p", Center: at(1000, 0)})
	if res.OK || res.Code != protocol.ErrMaxTerritories || res.Detail != "owned=1 max=1" {
		t.Fatalf("create: ok=%v code=%q detail=%q", res.OK, res.Code, res.Detail)
	}
	res = env.eng.Upgrade(context.Background(), UpgradeRequest{Actor: owner, Center: at(0, 0), Tier: 2})
	if res.Code != protocol.ErrInsufficientFunds || res.Detail != "policy=BOTH items=8 money=800" {
		t.Fatalf("upgrade: code=%q detail=%q", res.Code, res.Detail)
	}
}
