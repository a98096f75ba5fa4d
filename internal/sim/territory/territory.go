package territory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// PlayerID is the stable player identity.
type PlayerID = uuid.UUID

const MaxNameRunes = 32

// Territory is a claim around a beacon. Owner, center, tier and radius never
// change on a value; an upgrade replaces the whole value in the registry.
type Territory struct {
	owner  PlayerID
	center Location
	tier   int
	radius int

	mu        sync.RWMutex
	ownerName string
	name      string
	influence float64
	trusted   map[PlayerID]struct{}
	border    map[Location]struct{}
	unlocked  FeatureSet
	active    FeatureSet
	pvp       bool
	mobs      bool
}

func New(owner PlayerID, ownerName string, center Location, tier, radius int) *Territory {
	if tier < 1 {
		tier = 1
	}
	return &Territory{
		owner:     owner,
		center:    center,
		tier:      tier,
		radius:    radius,
		ownerName: ownerName,
		name:      DefaultName(ownerName),
		influence: 1,
		trusted:   map[PlayerID]struct{}{},
		border:    map[Location]struct{}{},
		pvp:       true,
		mobs:      true,
	}
}

func DefaultName(ownerName string) string {
	if ownerName == "" {
		return "Territory"
	}
	return ownerName + "'s Territory"
}

func (t *Territory) Owner() PlayerID   { return t.owner }
func (t *Territory) Center() Location { return t.center }
func (t *Territory) Tier() int         { return t.tier }
func (t *Territory) Radius() int       { return t.radius }

// SameAs compares the natural key (center, owner).
func (t *Territory) SameAs(o *Territory) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.center == o.center && t.owner == o.owner
}

// Contains reports whether p lies within radius of the center, boundary
// inclusive.
func (t *Territory) Contains(p Point) bool {
	r := float64(t.radius)
	return t.center.Point().DistanceSq(p) <= r*r
}

func (t *Territory) ContainsBlock(l Location) bool { return t.Contains(l.Point()) }

// CanBuild gates build, break, container access and explosive placement.
func (t *Territory) CanBuild(actor PlayerID, isAdmin bool) bool {
	if isAdmin || actor == t.owner {
		return true
	}
	return t.IsTrusted(actor)
}

func (t *Territory) OwnerName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ownerName
}

func (t *Territory) SetOwnerName(name string) {
	t.mu.Lock()
	t.ownerName = name
	t.mu.Unlock()
}

func (t *Territory) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// SetName stores a normalized label; an empty label restores the default.
func (t *Territory) SetName(name string) string {
	n := NormalizeName(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if n == "" {
		n = DefaultName(t.ownerName)
	}
	t.name = n
	return n
}

// NormalizeName applies NFC, drops control characters, trims and truncates.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if rs := []rune(s); len(rs) > MaxNameRunes {
		s = strings.TrimSpace(string(rs[:MaxNameRunes]))
	}
	return s
}

func (t *Territory) Influence() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.influence
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// SetInfluence clamps to [0,1]. NaN is stored as 0.
func (t *Territory) SetInfluence(v float64) {
	t.mu.Lock()
	t.influence = clamp01(v)
	t.mu.Unlock()
}

// DecayInfluence lowers influence by amount and returns the new value.
func (t *Territory) DecayInfluence(amount float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.influence = clamp01(t.influence - amount)
	return t.influence
}

// RestoreInfluence raises influence by amount and returns the new value.
func (t *Territory) RestoreInfluence(amount float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.influence = clamp01(t.influence + amount)
	return t.influence
}

// Trust adds id to the trust list. It reports whether the list changed; the
// owner is never stored.
func (t *Territory) Trust(id PlayerID) bool {
	if id == t.owner {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.trusted[id]; ok {
		return false
	}
	t.trusted[id] = struct{}{}
	return true
}

func (t *Territory) Untrust(id PlayerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.trusted[id]; !ok {
		return false
	}
	delete(t.trusted, id)
	return true
}

func (t *Territory) IsTrusted(id PlayerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.trusted[id]
	return ok
}

func (t *Territory) Trusted() []PlayerID {
	t.mu.RLock()
	out := make([]PlayerID, 0, len(t.trusted))
	for id := range t.trusted {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// UnlockFeature is idempotent; it reports whether the feature was newly
// unlocked.
func (t *Territory) UnlockFeature(f Feature) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unlocked.Has(f) {
		return false
	}
	t.unlocked = t.unlocked.With(f)
	return true
}

// ToggleFeature flips the active flag and returns the new state. Callers
// must check IsUnlocked first.
func (t *Territory) ToggleFeature(f Feature) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active.Has(f) {
		t.active = t.active.Without(f)
		return false
	}
	t.active = t.active.With(f)
	return true
}

func (t *Territory) SetFeatureActive(f Feature, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on {
		t.active = t.active.With(f)
	} else {
		t.active = t.active.Without(f)
	}
}

func (t *Territory) IsUnlocked(f Feature) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unlocked.Has(f)
}

func (t *Territory) IsActive(f Feature) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active.Has(f)
}

// ActiveFeatures lists features that are both unlocked and active.
func (t *Territory) ActiveFeatures() []Feature {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return (t.active & t.unlocked).List()
}

func (t *Territory) UnlockedFeatures() []Feature {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unlocked.List()
}

func (t *Territory) PvPEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pvp
}

func (t *Territory) SetPvP(on bool) {
	t.mu.Lock()
	t.pvp = on
	t.mu.Unlock()
}

func (t *Territory) MobSpawningEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mobs
}

func (t *Territory) SetMobSpawning(on bool) {
	t.mu.Lock()
	t.mobs = on
	t.mu.Unlock()
}

// Border returns the recorded marker cells sorted by position.
func (t *Territory) Border() []Location {
	t.mu.RLock()
	out := make([]Location, 0, len(t.border))
	for l := range t.border {
		out = append(out, l)
	}
	t.mu.RUnlock()
	SortLocations(out)
	return out
}

func (t *Territory) BorderSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.border)
}

func (t *Territory) IsBorderBlock(l Location) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.border[l]
	return ok
}

// ReplaceBorder swaps the recorded marker set. Only the border engine calls it.
func (t *Territory) ReplaceBorder(cells []Location) {
	m := make(map[Location]struct{}, len(cells))
	for _, l := range cells {
		m[l] = struct{}{}
	}
	t.mu.Lock()
	t.border = m
	t.mu.Unlock()
}

// Upgraded builds the replacement value for an upgrade. Influence, trust,
// features, flags, name and the recorded border carry over.
func (t *Territory) Upgraded(tier, radius int) *Territory {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := &Territory{
		owner:     t.owner,
		center:    t.center,
		tier:      tier,
		radius:    radius,
		ownerName: t.ownerName,
		name:      t.name,
		influence: t.influence,
		trusted:   make(map[PlayerID]struct{}, len(t.trusted)),
		border:    make(map[Location]struct{}, len(t.border)),
		unlocked:  t.unlocked,
		active:    t.active,
		pvp:       t.pvp,
		mobs:      t.mobs,
	}
	for id := range t.trusted {
		n.trusted[id] = struct{}{}
	}
	for l := range t.border {
		n.border[l] = struct{}{}
	}
	return n
}

func SortLocations(ls []Location) {
	sort.Slice(ls, func(i, j int) bool { return LocationLess(ls[i], ls[j]) })
}

func LocationLess(a, b Location) bool {
	if a.World != b.World {
		return a.World < b.World
	}
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Y < b.Y
}
