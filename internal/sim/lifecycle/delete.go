package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

type DeleteRequest struct {
	Actor  territory.PlayerID
	Admin  bool
	Center territory.Location
}

// Delete removes a territory on the owner's or an admin's request.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.reg.Get(req.Center)
	if !ok {
		return e.reject(req.Actor, &req.Center, protocol.ErrNotFound, "center", req.Center)
	}
	if t.Owner() != req.Actor && !req.Admin {
		return e.reject(req.Actor, &req.Center, protocol.ErrNoPermission, "owner", t.Owner())
	}
	e.destroyLocked(ctx, t, events.TerritoryDeleted, req.Actor)
	return accepted(t)
}

// BreakBeacon handles the beacon block itself being broken. Owners and
// admins delete the territory; anyone else is refused. Breaking a beacon
// that is not a territory center is allowed and changes nothing.
func (e *Engine) BreakBeacon(ctx context.Context, req DeleteRequest) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.reg.Get(req.Center)
	if !ok {
		return unchanged(nil)
	}
	if t.Owner() != req.Actor && !req.Admin {
		return e.reject(req.Actor, &req.Center, protocol.ErrNoPermission, "owner", t.Owner())
	}
	e.destroyLocked(ctx, t, events.TerritoryDeleted, req.Actor)
	return accepted(t)
}

// destroyLocked is the single deletion routine for explicit deletes, beacon
// breaks and decay. The caller holds e.mu.
func (e *Engine) destroyLocked(ctx context.Context, t *territory.Territory, kind events.Kind, actor territory.PlayerID) bool {
	center := t.Center()
	e.anim.Cancel(center)
	if left := e.border.Clear(ctx, t); left > 0 {
		e.log.Warn("border markers left in world", zap.Stringer("center", center), zap.Int("cells", left))
	}
	if !e.reg.RemoveIf(center, t) {
		return false
	}
	if e.store != nil {
		if err := e.store.DeleteTerritory(ctx, center, t.Owner()); err != nil {
			e.log.Warn("persist delete failed; will retry", zap.Stringer("center", center), zap.Error(err))
			e.queueDelete(center, t.Owner())
		}
	}
	if e.world != nil {
		if err := e.world.RemoveBlock(ctx, center); err != nil {
			e.log.Warn("beacon removal failed", zap.Stringer("center", center), zap.Error(err))
		} else if err := e.world.DropItem(ctx, center, e.Tuning().Economy.BeaconItem); err != nil {
			e.log.Warn("beacon drop failed", zap.Stringer("center", center), zap.Error(err))
		}
	}
	e.notify(events.About(events.Event{Kind: kind, Actor: actor}, t))
	e.log.Info("territory removed",
		zap.String("reason", string(kind)),
		zap.Stringer("owner", t.Owner()),
		zap.Stringer("center", center))
	return true
}

func (e *Engine) queueDelete(center territory.Location, owner territory.PlayerID) {
	e.pendingMu.Lock()
	e.pendingDeletes[center] = owner
	e.pendingMu.Unlock()
}

// PendingDeletes reports deletions waiting for a store retry.
func (e *Engine) PendingDeletes() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pendingDeletes)
}
