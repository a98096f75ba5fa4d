package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

type CreateRequest struct {
	Owner     territory.PlayerID
	OwnerName string
	Center    territory.Location
}

// checkPlacement returns the first failed placement rule, in the order
// count, proximity, overlap, with its detail.
func (e *Engine) checkPlacement(owner territory.PlayerID, center territory.Location) (ok bool, code string, kv []any) {
	tu := e.Tuning()
	if _, taken := e.reg.Get(center); taken {
		return false, protocol.ErrOccupied, []any{"center", center}
	}
	if n := e.reg.CountByOwner(owner); n >= tu.MaxTerritories {
		return false, protocol.ErrMaxTerritories, []any{"owned", n, "max", tu.MaxTerritories}
	}
	if e.reg.IsCloseToAnyBeacon(center, float64(tu.MinBeaconDistance)) {
		return false, protocol.ErrTooClose, []any{"min_distance", tu.MinBeaconDistance}
	}
	if r := tu.RadiusForTier(1); e.reg.WouldOverlap(center, r) {
		return false, protocol.ErrOverlap, []any{"radius", r}
	}
	return true, "", nil
}

// CheckPlacement is the early check run when a beacon is placed. It does not
// reserve anything; Create validates again.
func (e *Engine) CheckPlacement(req CreateRequest) Result {
	if ok, code, kv := e.checkPlacement(req.Owner, req.Center); !ok {
		return e.reject(req.Owner, &req.Center, code, kv...)
	}
	return Result{OK: true}
}

// Create claims a tier-1 territory around an activated beacon.
func (e *Engine) Create(ctx context.Context, req CreateRequest) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ok, code, kv := e.checkPlacement(req.Owner, req.Center); !ok {
		return e.reject(req.Owner, &req.Center, code, kv...)
	}
	tu := e.Tuning()
	t := territory.New(req.Owner, req.OwnerName, req.Center, 1, tu.RadiusForTier(1))
	if err := e.reg.Add(req.Center, t); err != nil {
		return e.reject(req.Owner, &req.Center, protocol.ErrOccupied, "err", err)
	}
	e.presence.SeenIfUnknown(req.Owner, e.now())

	e.persist(ctx, t)
	e.border.Rebuild(ctx, t)
	base := events.About(events.Event{}, t)
	e.anim.Start(req.Center, base)
	e.notify(events.About(events.Event{Kind: events.TerritoryCreated, Actor: req.Owner}, t))
	e.log.Info("territory created",
		zap.Stringer("owner", req.Owner),
		zap.String("owner_name", req.OwnerName),
		zap.Stringer("center", req.Center),
		zap.Int("radius", t.Radius()))
	return accepted(t)
}

// persist writes t now. A failure is logged; the next save cycle retries
// since SaveAll writes every live territory.
func (e *Engine) persist(ctx context.Context, t *territory.Territory) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertTerritory(ctx, t.Snapshot()); err != nil {
		e.log.Warn("persist territory failed", zap.Stringer("center", t.Center()), zap.Error(err))
	}
}
