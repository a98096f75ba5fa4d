package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

type UpgradeRequest struct {
	Actor  territory.PlayerID
	Admin  bool
	Center territory.Location
	Tier   int
}

// UpgradeQuote is the price of the next tier under the current rules.
type UpgradeQuote struct {
	From, To int
	Radius   int
	Items    int
	Money    float64
	Policy   string
}

func (e *Engine) Quote(t *territory.Territory) (UpgradeQuote, bool) {
	tu := e.Tuning()
	to := t.Tier() + 1
	if to > tu.MaxTier() {
		return UpgradeQuote{}, false
	}
	items, money := e.pricer.UpgradePrice(t.Tier(), to, tu.UpgradeCost(t.Tier(), to), tu.UpgradeMoneyCost(t.Tier(), to))
	return UpgradeQuote{
		From:   t.Tier(),
		To:     to,
		Radius: tu.RadiusForTier(to),
		Items:  items,
		Money:  money,
		Policy: string(tu.Economy.CostType),
	}, true
}

// Upgrade moves a territory to exactly the next tier. The replacement value
// carries influence, trust, features and flags and is swapped into the
// registry in one step; the border is then redrawn at the new radius.
func (e *Engine) Upgrade(ctx context.Context, req UpgradeRequest) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	old, ok := e.reg.Get(req.Center)
	if !ok {
		return e.reject(req.Actor, &req.Center, protocol.ErrNotFound, "center", req.Center)
	}
	if old.Owner() != req.Actor && !req.Admin {
		return e.reject(req.Actor, &req.Center, protocol.ErrNoPermission, "owner", old.Owner())
	}
	tu := e.Tuning()
	if req.Tier != old.Tier()+1 {
		return e.reject(req.Actor, &req.Center, protocol.ErrBadTier, "tier", old.Tier(), "requested", req.Tier)
	}
	if req.Tier > tu.MaxTier() {
		return e.reject(req.Actor, &req.Center, protocol.ErrMaxTier, "max", tu.MaxTier())
	}
	radius := tu.RadiusForTier(req.Tier)
	if e.reg.WouldOverlapExcept(req.Center, radius, req.Center) {
		return e.reject(req.Actor, &req.Center, protocol.ErrOverlap, "radius", radius)
	}

	q, _ := e.Quote(old)
	charges, code, err := e.plan(ctx, req.Actor, tu.Economy.CostType, q.Items, q.Money)
	if err != nil {
		e.log.Warn("funds check failed", zap.Stringer("player", req.Actor), zap.Error(err))
		return e.reject(req.Actor, &req.Center, protocol.ErrInternal, "err", err)
	}
	if code != "" {
		return e.reject(req.Actor, &req.Center, code, "policy", q.Policy, "items", q.Items, "money", q.Money)
	}
	if !e.collect(ctx, req.Actor, charges) {
		return e.reject(req.Actor, &req.Center, protocol.ErrInsufficientFunds, "policy", q.Policy, "items", q.Items, "money", q.Money)
	}

	next := old.Upgraded(req.Tier, radius)
	if err := e.reg.Replace(req.Center, old, next); err != nil {
		e.log.Error("upgrade swap failed after payment", zap.Stringer("center", req.Center), zap.Error(err))
		return e.reject(req.Actor, &req.Center, protocol.ErrConflict, "center", req.Center)
	}
	// A join that raced the swap may have renamed old after it was copied.
	if name, ok := e.presence.Name(next.Owner()); ok && name != "" && name != next.OwnerName() {
		next.SetOwnerName(name)
	}
	e.border.Rebuild(ctx, next)
	e.persist(ctx, next)
	e.notify(events.About(events.Event{Kind: events.TerritoryUpgraded, Actor: req.Actor}, next))
	e.log.Info("territory upgraded",
		zap.Stringer("center", req.Center),
		zap.Int("tier", next.Tier()),
		zap.Int("radius", next.Radius()))
	return accepted(next)
}
