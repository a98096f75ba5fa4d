package lifecycle

import (
	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/territory"
)

// CanBuildAt gates block placement, including explosives.
func (e *Engine) CanBuildAt(actor territory.PlayerID, admin bool, at territory.Location) Decision {
	t, ok := e.reg.FindContainingBlock(at)
	if !ok {
		return allow(nil)
	}
	if !t.CanBuild(actor, admin) {
		return deny(protocol.ErrProtected, t)
	}
	return allow(t)
}

// CanBreakAt gates breaking an ordinary block. Border markers cannot be
// broken by anyone; beacon centers go through BreakBeacon instead.
func (e *Engine) CanBreakAt(actor territory.PlayerID, admin bool, at territory.Location) Decision {
	if t, ok := e.reg.FindBorderOwner(at); ok {
		return deny(protocol.ErrBorderBlock, t)
	}
	return e.CanBuildAt(actor, admin, at)
}

// IsBeacon reports whether at is the center of a territory.
func (e *Engine) IsBeacon(at territory.Location) bool {
	_, ok := e.reg.Get(at)
	return ok
}

// CanInteractAt gates container access when container protection is on.
func (e *Engine) CanInteractAt(actor territory.PlayerID, admin bool, at territory.Location, container bool) Decision {
	if !container || !e.Tuning().ProtectContainers {
		return allow(nil)
	}
	return e.CanBuildAt(actor, admin, at)
}

// FilterExplosion returns the blocks an explosion may destroy. With
// explosion protection on, blocks inside any territory are kept. Border
// markers and beacons are always kept.
func (e *Engine) FilterExplosion(blocks []territory.Location) []territory.Location {
	protect := e.Tuning().PreventExplosions
	out := make([]territory.Location, 0, len(blocks))
	for _, b := range blocks {
		if _, ok := e.reg.FindBorderOwner(b); ok || e.IsBeacon(b) {
			continue
		}
		if protect {
			if _, ok := e.reg.FindContainingBlock(b); ok {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// AllowPvP reports whether a player standing at victimPos may be attacked.
func (e *Engine) AllowPvP(victimPos territory.Point) Decision {
	t, ok := e.reg.FindContaining(victimPos)
	if !ok {
		return allow(nil)
	}
	if !t.PvPEnabled() {
		return deny(protocol.ErrPvPDisabled, t)
	}
	return allow(t)
}

// AllowMobSpawn reports whether a hostile mob may spawn at pos.
func (e *Engine) AllowMobSpawn(pos territory.Point) Decision {
	t, ok := e.reg.FindContaining(pos)
	if !ok {
		return allow(nil)
	}
	if !t.MobSpawningEnabled() {
		return deny(protocol.ErrMobsBlocked, t)
	}
	return allow(t)
}
