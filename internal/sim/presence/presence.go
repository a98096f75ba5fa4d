package presence

import (
	"sync"
	"time"

	"territorybeacons.dev/internal/sim/territory"
)

type session struct {
	name    string
	pos     territory.Point
	hasPos  bool
	current *territory.Location
}

// Tracker records last-seen times and the live state of online players.
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[territory.PlayerID]time.Time
	online   map[territory.PlayerID]*session
	dirty    map[territory.PlayerID]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		lastSeen: map[territory.PlayerID]time.Time{},
		online:   map[territory.PlayerID]*session{},
		dirty:    map[territory.PlayerID]struct{}{},
	}
}

// Join marks id online and records now as last-seen.
func (t *Tracker) Join(id territory.PlayerID, name string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[id] = now
	t.dirty[id] = struct{}{}
	if s, ok := t.online[id]; ok {
		s.name = name
		return
	}
	t.online[id] = &session{name: name}
}

// Quit records now as last-seen so offline time counts from the disconnect.
func (t *Tracker) Quit(id territory.PlayerID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[id] = now
	t.dirty[id] = struct{}{}
	delete(t.online, id)
}

// SeenIfUnknown records now as last-seen for a player with no entry yet.
func (t *Tracker) SeenIfUnknown(id territory.PlayerID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastSeen[id]; ok {
		return
	}
	t.lastSeen[id] = now
	t.dirty[id] = struct{}{}
}

func (t *Tracker) IsOnline(id territory.PlayerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

func (t *Tracker) Name(id territory.PlayerID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.online[id]
	if !ok {
		return "", false
	}
	return s.name, true
}

func (t *Tracker) LastSeen(id territory.PlayerID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[id]
	return ts, ok
}

// UpdatePosition is ignored for players that are not online.
func (t *Tracker) UpdatePosition(id territory.PlayerID, p territory.Point) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.online[id]
	if !ok {
		return false
	}
	s.pos = p
	s.hasPos = true
	return true
}

type Online struct {
	ID      territory.PlayerID
	Name    string
	Pos     territory.Point
	HasPos  bool
	Current *territory.Location
}

func (t *Tracker) Online() []Online {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Online, 0, len(t.online))
	for id, s := range t.online {
		o := Online{ID: id, Name: s.name, Pos: s.pos, HasPos: s.hasPos}
		if s.current != nil {
			c := *s.current
			o.Current = &c
		}
		out = append(out, o)
	}
	return out
}

func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// SetCurrent records the territory center a player is standing in; nil means
// wilderness.
func (t *Tracker) SetCurrent(id territory.PlayerID, center *territory.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.online[id]
	if !ok {
		return
	}
	if center == nil {
		s.current = nil
		return
	}
	c := *center
	s.current = &c
}

func (t *Tracker) LoadLastSeen(m map[territory.PlayerID]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ts := range m {
		if cur, ok := t.lastSeen[id]; !ok || ts.After(cur) {
			t.lastSeen[id] = ts
		}
	}
}

func (t *Tracker) LastSeenSnapshot() map[territory.PlayerID]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[territory.PlayerID]time.Time, len(t.lastSeen))
	for id, ts := range t.lastSeen {
		out[id] = ts
	}
	return out
}

// TakeDirty returns last-seen entries changed since the previous call.
func (t *Tracker) TakeDirty() map[territory.PlayerID]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[territory.PlayerID]time.Time, len(t.dirty))
	for id := range t.dirty {
		out[id] = t.lastSeen[id]
	}
	t.dirty = map[territory.PlayerID]struct{}{}
	return out
}

// MarkDirty requeues entries whose write failed.
func (t *Tracker) MarkDirty(ids ...territory.PlayerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if _, ok := t.lastSeen[id]; ok {
			t.dirty[id] = struct{}{}
		}
	}
}

// Prune drops last-seen entries older than cutoff for offline players for
// whom keep returns false. It returns the removed ids.
func (t *Tracker) Prune(cutoff time.Time, keep func(territory.PlayerID) bool) []territory.PlayerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []territory.PlayerID
	for id, ts := range t.lastSeen {
		if !ts.Before(cutoff) {
			continue
		}
		if _, on := t.online[id]; on {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(t.lastSeen, id)
		delete(t.dirty, id)
		out = append(out, id)
	}
	return out
}
