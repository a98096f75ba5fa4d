package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/sim/border"
	"territorybeacons.dev/internal/sim/effects"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/presence"
	"territorybeacons.dev/internal/sim/registry"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/sim/tuning"
)

type Deps struct {
	Registry *registry.Registry
	World    border.World
	Store    store.Store
	Presence *presence.Tracker
	Payments Payments
	Pricer   Pricer
	Sink     events.Sink
	Animator *effects.Animator
	Log      *zap.Logger
	Now      func() time.Time
}

// Engine applies every state transition on territories. Structural changes
// (create, upgrade, delete) and in-place mutations are serialized by one
// write lock; queries read the registry directly.
type Engine struct {
	reg      *registry.Registry
	world    border.World
	border   *border.Engine
	store    store.Store
	presence *presence.Tracker
	pay      Payments
	pricer   Pricer
	sink     events.Sink
	anim     *effects.Animator
	log      *zap.Logger
	now      func() time.Time

	tuning atomic.Pointer[tuning.Tuning]

	mu sync.Mutex

	pendingMu      sync.Mutex
	pendingDeletes map[territory.Location]territory.PlayerID
}

func New(d Deps, t tuning.Tuning) *Engine {
	if d.Registry == nil {
		d.Registry = registry.New()
	}
	if d.Presence == nil {
		d.Presence = presence.NewTracker()
	}
	if d.Pricer == nil {
		d.Pricer = BasePricer{}
	}
	if d.Sink == nil {
		d.Sink = events.Nop()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Animator == nil {
		d.Animator = effects.NewAnimator(d.Sink, t.Creation.Steps, time.Duration(t.Creation.StepInterval)*time.Millisecond)
	}
	e := &Engine{
		reg:            d.Registry,
		world:          d.World,
		border:         border.NewEngine(d.World, d.Log.Named("border"), t.Border.StepDegrees, t.Border.Tolerance),
		store:          d.Store,
		presence:       d.Presence,
		pay:            d.Payments,
		pricer:         d.Pricer,
		sink:           d.Sink,
		anim:           d.Animator,
		log:            d.Log,
		now:            d.Now,
		pendingDeletes: map[territory.Location]territory.PlayerID{},
	}
	e.SetTuning(t)
	return e
}

func (e *Engine) Tuning() tuning.Tuning { return *e.tuning.Load() }

// SetTuning swaps the rules. Stored radii of existing territories are not
// touched; a new tier radius applies on the territory's next upgrade.
func (e *Engine) SetTuning(t tuning.Tuning) {
	t.Normalize()
	e.tuning.Store(&t)
}

func (e *Engine) Registry() *registry.Registry { return e.reg }
func (e *Engine) Presence() *presence.Tracker  { return e.presence }

func (e *Engine) notify(ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.sink.Notify(ev)
}

// Load rehydrates the registry and last-seen table from the store and draws
// every border. A store that cannot be read is fatal to the caller.
func (e *Engine) Load(ctx context.Context) error {
	recs, err := e.store.LoadAllTerritories(ctx)
	if err != nil {
		return err
	}
	seen, err := e.store.LoadLastSeen(ctx)
	if err != nil {
		return err
	}
	e.presence.LoadLastSeen(seen)

	for _, r := range recs {
		t := territory.FromRecord(r)
		if err := e.reg.Add(t.Center(), t); err != nil {
			e.log.Warn("skipping duplicate territory", zap.Stringer("center", r.Center), zap.Error(err))
			continue
		}
	}
	for _, p := range e.reg.OverlappingPairs() {
		e.log.Warn("overlapping territories",
			zap.Stringer("a", p.A.Center()), zap.Int("a_radius", p.A.Radius()),
			zap.Stringer("b", p.B.Center()), zap.Int("b_radius", p.B.Radius()))
	}
	for _, t := range e.reg.All() {
		e.border.Rebuild(ctx, t)
	}
	e.log.Info("territories loaded", zap.Int("territories", e.reg.Len()), zap.Int("last_seen", len(seen)))
	return nil
}

// Shutdown stops animations, clears borders and writes everything. The
// scheduler must be stopped first.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.anim.StopAll()
	e.mu.Lock()
	for _, t := range e.reg.All() {
		e.border.Clear(ctx, t)
	}
	e.mu.Unlock()
	st := e.SaveAll(ctx)
	if st.Failed > 0 {
		return &SaveError{Stats: st}
	}
	return nil
}
