package territory

// Record is the plain storage and transport form of a Territory. The border
// set is runtime state and is not recorded.
type Record struct {
	Owner       PlayerID   `json:"owner"`
	OwnerName   string     `json:"owner_name"`
	Name        string     `json:"name"`
	Center      Location   `json:"center"`
	Tier        int        `json:"tier"`
	Radius      int        `json:"radius"`
	Influence   float64    `json:"influence"`
	Trusted     []PlayerID `json:"trusted,omitempty"`
	Unlocked    []Feature  `json:"unlocked,omitempty"`
	Active      []Feature  `json:"active,omitempty"`
	PvP         bool       `json:"pvp"`
	MobSpawning bool       `json:"mob_spawning"`
}

func (t *Territory) Snapshot() Record {
	trusted := t.Trusted()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Record{
		Owner:       t.owner,
		OwnerName:   t.ownerName,
		Name:        t.name,
		Center:      t.center,
		Tier:        t.tier,
		Radius:      t.radius,
		Influence:   t.influence,
		Trusted:     trusted,
		Unlocked:    t.unlocked.List(),
		Active:      t.active.List(),
		PvP:         t.pvp,
		MobSpawning: t.mobs,
	}
}

// FromRecord rehydrates a Territory. Influence is clamped and an active flag
// without the matching unlock is dropped.
func FromRecord(r Record) *Territory {
	t := New(r.Owner, r.OwnerName, r.Center, r.Tier, r.Radius)
	if n := NormalizeName(r.Name); n != "" {
		t.name = n
	}
	t.influence = clamp01(r.Influence)
	for _, id := range r.Trusted {
		if id != r.Owner {
			t.trusted[id] = struct{}{}
		}
	}
	t.unlocked = SetOf(r.Unlocked...)
	t.active = SetOf(r.Active...) & t.unlocked
	t.pvp = r.PvP
	t.mobs = r.MobSpawning
	return t
}
