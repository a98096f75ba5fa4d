package lifecycle

import (
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

// PlayerJoin records the join time and refreshes the cached owner name on
// the player's territories. It runs without the engine lock; Upgrade reads
// the name back from presence after its swap.
func (e *Engine) PlayerJoin(id territory.PlayerID, name string) {
	e.presence.Join(id, name, e.now())
	if name == "" {
		return
	}
	for _, t := range e.reg.ListByOwner(id) {
		if t.OwnerName() != name {
			t.SetOwnerName(name)
		}
	}
}

// PlayerQuit records the disconnect time as last-seen.
func (e *Engine) PlayerQuit(id territory.PlayerID) {
	e.presence.Quit(id, e.now())
}

func (e *Engine) PlayerMove(id territory.PlayerID, pos territory.Point) bool {
	return e.presence.UpdatePosition(id, pos)
}

// CheckPresence compares each online player's position with the territory
// they were last seen in and emits enter and leave events on change.
func (e *Engine) CheckPresence() {
	for _, p := range e.presence.Online() {
		if !p.HasPos {
			continue
		}
		var now *territory.Territory
		if t, ok := e.reg.FindContaining(p.Pos); ok {
			now = t
		}
		switch {
		case now == nil && p.Current == nil:
			continue
		case now != nil && p.Current != nil && *p.Current == now.Center():
			continue
		}
		if p.Current != nil {
			ev := events.Event{Kind: events.PlayerLeft, Player: p.ID, Center: p.Current}
			if prev, ok := e.reg.Get(*p.Current); ok {
				ev = events.About(ev, prev)
			}
			e.notify(ev)
		}
		if now != nil {
			c := now.Center()
			e.presence.SetCurrent(p.ID, &c)
			e.notify(events.About(events.Event{Kind: events.PlayerEntered, Player: p.ID}, now))
		} else {
			e.presence.SetCurrent(p.ID, nil)
		}
	}
}

// ApplyEffects emits the active features for every online player standing
// in a territory they may build in.
func (e *Engine) ApplyEffects() int {
	n := 0
	for _, p := range e.presence.Online() {
		if !p.HasPos {
			continue
		}
		t, ok := e.reg.FindContaining(p.Pos)
		if !ok || !t.CanBuild(p.ID, false) {
			continue
		}
		fs := t.ActiveFeatures()
		if len(fs) == 0 {
			continue
		}
		e.notify(events.About(events.Event{Kind: events.EffectsApply, Player: p.ID, Features: fs}, t))
		n++
	}
	return n
}
