package store

import (
	"context"
	"sync"
	"time"

	"territorybeacons.dev/internal/sim/territory"
)

// Memory keeps everything in process. Fail, when set, is returned by every
// write.
type Memory struct {
	mu          sync.Mutex
	territories map[territory.Location]territory.Record
	lastSeen    map[territory.PlayerID]time.Time
	Fail        error
}

func NewMemory() *Memory {
	return &Memory{
		territories: map[territory.Location]territory.Record{},
		lastSeen:    map[territory.PlayerID]time.Time{},
	}
}

func (m *Memory) SetFail(err error) {
	m.mu.Lock()
	m.Fail = err
	m.mu.Unlock()
}

func (m *Memory) LoadAllTerritories(ctx context.Context) ([]territory.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]territory.Record, 0, len(m.territories))
	for _, r := range m.territories {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) UpsertTerritory(ctx context.Context, r territory.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	r.Trusted = append([]territory.PlayerID(nil), r.Trusted...)
	r.Unlocked = append([]territory.Feature(nil), r.Unlocked...)
	r.Active = append([]territory.Feature(nil), r.Active...)
	m.territories[r.Center] = r
	return nil
}

func (m *Memory) DeleteTerritory(ctx context.Context, center territory.Location, owner territory.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if r, ok := m.territories[center]; ok && r.Owner == owner {
		delete(m.territories, center)
	}
	return nil
}

func (m *Memory) LoadLastSeen(ctx context.Context) (map[territory.PlayerID]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[territory.PlayerID]time.Time, len(m.lastSeen))
	for id, ts := range m.lastSeen {
		out[id] = ts
	}
	return out, nil
}

func (m *Memory) UpsertLastSeen(ctx context.Context, id territory.PlayerID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.lastSeen[id] = at
	return nil
}

func (m *Memory) DeleteStaleLastSeen(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	owners := map[territory.PlayerID]bool{}
	for _, r := range m.territories {
		owners[r.Owner] = true
	}
	var n int64
	for id, ts := range m.lastSeen {
		if ts.Before(olderThan) && !owners[id] {
			delete(m.lastSeen, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

// Territory returns the stored record at center.
func (m *Memory) Territory(center territory.Location) (territory.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.territories[center]
	return r, ok
}
