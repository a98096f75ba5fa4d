package events

import (
	"sync"
	"time"

	"territorybeacons.dev/internal/sim/territory"
)

type Kind string

const (
	TerritoryCreated  Kind = "TERRITORY_CREATED"
	TerritoryUpgraded Kind = "TERRITORY_UPGRADED"
	TerritoryDeleted  Kind = "TERRITORY_DELETED"
	TerritoryDecayed  Kind = "TERRITORY_DECAYED"
	TerritoryRenamed  Kind = "TERRITORY_RENAMED"
	TrustChanged      Kind = "TRUST_CHANGED"
	FeatureChanged    Kind = "FEATURE_CHANGED"
	FlagChanged       Kind = "FLAG_CHANGED"
	PlayerEntered     Kind = "PLAYER_ENTERED_TERRITORY"
	PlayerLeft        Kind = "PLAYER_LEFT_TERRITORY"
	ActionRejected    Kind = "ACTION_REJECTED"
	CreationEffect    Kind = "CREATION_EFFECT"
	EffectsApply      Kind = "EFFECTS_APPLY"
)

// Event carries data for a presentation layer; it never holds formatted
// player-facing text.
type Event struct {
	Kind      Kind                `json:"kind"`
	Time      time.Time           `json:"time"`
	Owner     territory.PlayerID  `json:"owner,omitempty"`
	OwnerName string              `json:"owner_name,omitempty"`
	Actor     territory.PlayerID  `json:"actor,omitempty"`
	Player    territory.PlayerID  `json:"player,omitempty"`
	Center    *territory.Location `json:"center,omitempty"`
	Name      string              `json:"name,omitempty"`
	Tier      int                 `json:"tier,omitempty"`
	Radius    int                 `json:"radius,omitempty"`
	Influence float64             `json:"influence,omitempty"`
	Code      string              `json:"code,omitempty"`
	Feature   string              `json:"feature,omitempty"`
	Features  []territory.Feature `json:"features,omitempty"`
	Enabled   bool                `json:"enabled,omitempty"`
	Step      int                 `json:"step,omitempty"`
	EffectR   float64             `json:"effect_radius,omitempty"`
}

// Lifecycle reports whether the kind changes durable state. Presence and
// effect chatter is not lifecycle.
func (k Kind) Lifecycle() bool {
	switch k {
	case PlayerEntered, PlayerLeft, CreationEffect, EffectsApply:
		return false
	}
	return true
}

// About fills the territory fields of e from t.
func About(e Event, t *territory.Territory) Event {
	c := t.Center()
	e.Center = &c
	e.Owner = t.Owner()
	e.OwnerName = t.OwnerName()
	e.Name = t.Name()
	e.Tier = t.Tier()
	e.Radius = t.Radius()
	e.Influence = t.Influence()
	return e
}

type Sink interface {
	Notify(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

type nop struct{}

func (nop) Notify(Event) {}

func Nop() Sink { return nop{} }

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(e)
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
