package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/sim/tuning"
)

// Manage identifies the territory an owner command applies to. A nil Center
// selects the actor's own territory.
type Manage struct {
	Actor  territory.PlayerID
	Admin  bool
	Center *territory.Location
}

// managedLocked resolves m to a territory the actor may manage. The caller
// holds e.mu.
func (e *Engine) managedLocked(m Manage) (*territory.Territory, Result, bool) {
	var (
		t  *territory.Territory
		ok bool
	)
	if m.Center != nil {
		t, ok = e.reg.Get(*m.Center)
	} else {
		t, ok = e.reg.FindByOwner(m.Actor)
	}
	if !ok {
		return nil, e.reject(m.Actor, m.Center, protocol.ErrNotFound), false
	}
	if t.Owner() != m.Actor && !m.Admin {
		c := t.Center()
		return nil, e.reject(m.Actor, &c, protocol.ErrNoPermission, "owner", t.Owner()), false
	}
	return t, Result{}, true
}

func (e *Engine) Trust(ctx context.Context, m Manage, target territory.PlayerID) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	if target == t.Owner() {
		c := t.Center()
		return e.reject(m.Actor, &c, protocol.ErrSelfTrust)
	}
	if !t.Trust(target) {
		return unchanged(t)
	}
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.TrustChanged, Actor: m.Actor, Player: target, Enabled: true}, t))
	return accepted(t)
}

func (e *Engine) Untrust(ctx context.Context, m Manage, target territory.PlayerID) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	if !t.Untrust(target) {
		return unchanged(t)
	}
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.TrustChanged, Actor: m.Actor, Player: target, Enabled: false}, t))
	return accepted(t)
}

func (e *Engine) Rename(ctx context.Context, m Manage, name string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	before := t.Name()
	if after := t.SetName(name); after == before {
		return unchanged(t)
	}
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.TerritoryRenamed, Actor: m.Actor}, t))
	return accepted(t)
}

// UnlockFeature buys a feature with money and activates it.
func (e *Engine) UnlockFeature(ctx context.Context, m Manage, f territory.Feature) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	c := t.Center()
	if !f.Valid() {
		return e.reject(m.Actor, &c, protocol.ErrUnknownFeature, "feature", int(f))
	}
	if t.IsUnlocked(f) {
		return unchanged(t)
	}
	price := e.pricer.FeaturePrice(f, e.Tuning().EffectCost(f.String()))
	charges, code, err := e.plan(ctx, m.Actor, tuning.CostMoney, 0, price)
	if err != nil {
		e.log.Warn("funds check failed", zap.Stringer("player", m.Actor), zap.Error(err))
		return e.reject(m.Actor, &c, protocol.ErrInternal, "err", err)
	}
	if code != "" {
		return e.reject(m.Actor, &c, code, "money", price)
	}
	if !e.collect(ctx, m.Actor, charges) {
		return e.reject(m.Actor, &c, protocol.ErrInsufficientFunds, "money", price)
	}
	t.UnlockFeature(f)
	t.SetFeatureActive(f, true)
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.FeatureChanged, Actor: m.Actor, Feature: f.String(), Enabled: true}, t))
	return accepted(t)
}

// ToggleFeature flips an unlocked feature. Locked features are refused.
func (e *Engine) ToggleFeature(ctx context.Context, m Manage, f territory.Feature) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	c := t.Center()
	if !f.Valid() {
		return e.reject(m.Actor, &c, protocol.ErrUnknownFeature, "feature", int(f))
	}
	if !t.IsUnlocked(f) {
		return e.reject(m.Actor, &c, protocol.ErrFeatureLocked, "feature", f)
	}
	on := t.ToggleFeature(f)
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.FeatureChanged, Actor: m.Actor, Feature: f.String(), Enabled: on}, t))
	return accepted(t)
}

func (e *Engine) SetPvP(ctx context.Context, m Manage, on bool) Result {
	return e.setFlag(ctx, m, "pvp", on, (*territory.Territory).PvPEnabled, (*territory.Territory).SetPvP)
}

func (e *Engine) SetMobSpawning(ctx context.Context, m Manage, on bool) Result {
	return e.setFlag(ctx, m, "mob_spawning", on, (*territory.Territory).MobSpawningEnabled, (*territory.Territory).SetMobSpawning)
}

func (e *Engine) setFlag(ctx context.Context, m Manage, name string, on bool, get func(*territory.Territory) bool, set func(*territory.Territory, bool)) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, res, ok := e.managedLocked(m)
	if !ok {
		return res
	}
	if get(t) == on {
		return unchanged(t)
	}
	set(t, on)
	e.persist(ctx, t)
	e.notify(events.About(events.Event{Kind: events.FlagChanged, Actor: m.Actor, Feature: name, Enabled: on}, t))
	return accepted(t)
}

// Info returns the territory at center, or the one containing pos when
// center is nil.
func (e *Engine) Info(center *territory.Location, pos *territory.Point) (*territory.Territory, bool) {
	if center != nil {
		return e.reg.Get(*center)
	}
	if pos != nil {
		return e.reg.FindContaining(*pos)
	}
	return nil, false
}

// List returns the territories of owner, or of every player whose cached
// name matches ownerName when it is set.
func (e *Engine) List(owner territory.PlayerID, ownerName string) []*territory.Territory {
	if ownerName != "" {
		return e.reg.FindByOwnerName(ownerName)
	}
	return e.reg.ListByOwner(owner)
}
