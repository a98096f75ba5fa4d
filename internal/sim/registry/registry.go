package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/cases"

	"territorybeacons.dev/internal/sim/territory"
)

var (
	ErrOccupied    = errors.New("registry: center already claimed")
	ErrKeyMismatch = errors.New("registry: key does not match territory center")
	ErrStale       = errors.New("registry: territory was replaced or removed")
)

// Registry is the authoritative center -> Territory map. Reads run
// concurrently; structural writes hold the write lock briefly. Iterating
// callers work over snapshots so removal during a scan is safe.
type Registry struct {
	mu sync.RWMutex
	m  map[territory.Location]*territory.Territory
}

func New() *Registry {
	return &Registry{m: map[territory.Location]*territory.Territory{}}
}

// Add inserts t at center. An occupied center is rejected, never overwritten.
func (r *Registry) Add(center territory.Location, t *territory.Territory) error {
	if t == nil || t.Center() != center {
		return ErrKeyMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[center]; ok {
		return fmt.Errorf("%w: %s", ErrOccupied, center)
	}
	r.m[center] = t
	return nil
}

func (r *Registry) Remove(center territory.Location) (*territory.Territory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.m[center]
	if ok {
		delete(r.m, center)
	}
	return t, ok
}

// RemoveIf removes the entry only while it still holds exactly t.
func (r *Registry) RemoveIf(center territory.Location, t *territory.Territory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m[center] != t {
		return false
	}
	delete(r.m, center)
	return true
}

func (r *Registry) Get(center territory.Location) (*territory.Territory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[center]
	return t, ok
}

// Replace swaps old for next in one step. It fails with ErrStale when the
// entry no longer holds old.
func (r *Registry) Replace(center territory.Location, old, next *territory.Territory) error {
	if next == nil || next.Center() != center {
		return ErrKeyMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[center]; !ok || cur != old {
		return ErrStale
	}
	r.m[center] = next
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// All returns a snapshot ordered by center.
func (r *Registry) All() []*territory.Territory {
	r.mu.RLock()
	out := make([]*territory.Territory, 0, len(r.m))
	for _, t := range r.m {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return territory.LocationLess(out[i].Center(), out[j].Center())
	})
	return out
}

// FindContaining returns the first territory containing p in center order.
// Overlaps are prevented at creation; if they exist anyway, the match is
// ambiguous and the lowest center wins.
func (r *Registry) FindContaining(p territory.Point) (*territory.Territory, bool) {
	for _, t := range r.All() {
		if t.Contains(p) {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) FindContainingBlock(l territory.Location) (*territory.Territory, bool) {
	return r.FindContaining(l.Point())
}

// FindBorderOwner returns the territory that recorded l as a marker cell.
func (r *Registry) FindBorderOwner(l territory.Location) (*territory.Territory, bool) {
	for _, t := range r.All() {
		if t.IsBorderBlock(l) {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) FindByOwner(owner territory.PlayerID) (*territory.Territory, bool) {
	for _, t := range r.All() {
		if t.Owner() == owner {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) ListByOwner(owner territory.PlayerID) []*territory.Territory {
	var out []*territory.Territory
	for _, t := range r.All() {
		if t.Owner() == owner {
			out = append(out, t)
		}
	}
	return out
}

// FindByOwnerName matches the cached display name case-insensitively.
func (r *Registry) FindByOwnerName(name string) []*territory.Territory {
	fold := cases.Fold()
	want := fold.String(name)
	var out []*territory.Territory
	for _, t := range r.All() {
		if fold.String(t.OwnerName()) == want {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) CountByOwner(owner territory.PlayerID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.m {
		if t.Owner() == owner {
			n++
		}
	}
	return n
}

func (r *Registry) CountsByOwner() map[territory.PlayerID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[territory.PlayerID]int, len(r.m))
	for _, t := range r.m {
		out[t.Owner()]++
	}
	return out
}

// IsCloseToAnyBeacon reports whether any center in the same world lies
// strictly closer than minDistance.
func (r *Registry) IsCloseToAnyBeacon(p territory.Location, minDistance float64) bool {
	pt := p.Point()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.m {
		if c.World != p.World {
			continue
		}
		if pt.DistanceSq(c.Point()) < minDistance*minDistance {
			return true
		}
	}
	return false
}

// WouldOverlap reports whether a circle of candidateRadius at p would
// intersect an existing territory in the same world.
func (r *Registry) WouldOverlap(p territory.Location, candidateRadius int) bool {
	pt := p.Point()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c, t := range r.m {
		if c.World != p.World {
			continue
		}
		sum := float64(t.Radius() + candidateRadius)
		if pt.DistanceSq(c.Point()) < sum*sum {
			return true
		}
	}
	return false
}

// WouldOverlapExcept is WouldOverlap ignoring the entry at skip.
func (r *Registry) WouldOverlapExcept(p territory.Location, candidateRadius int, skip territory.Location) bool {
	pt := p.Point()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c, t := range r.m {
		if c.World != p.World || c == skip {
			continue
		}
		sum := float64(t.Radius() + candidateRadius)
		if pt.DistanceSq(c.Point()) < sum*sum {
			return true
		}
	}
	return false
}

type Pair struct {
	A, B *territory.Territory
}

// OverlappingPairs lists intersecting territories. It only reports; nothing
// is repaired.
func (r *Registry) OverlappingPairs() []Pair {
	all := r.All()
	var out []Pair
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.Center().World != b.Center().World {
				continue
			}
			sum := float64(a.Radius() + b.Radius())
			if a.Center().Point().DistanceSq(b.Center().Point()) < sum*sum {
				out = append(out, Pair{A: a, B: b})
			}
		}
	}
	return out
}
