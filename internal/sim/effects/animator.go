package effects

import (
	"context"
	"sync"
	"time"

	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

// RadiusStep is how far the creation ring grows per frame.
const RadiusStep = 0.5

type run struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Animator plays the creation effect for a beacon. At most one animation
// runs per location; starting another cancels the previous one first.
type Animator struct {
	sink     events.Sink
	steps    int
	interval time.Duration

	mu     sync.Mutex
	nextID uint64
	runs   map[territory.Location]*run
	closed bool
}

func NewAnimator(sink events.Sink, steps int, interval time.Duration) *Animator {
	if sink == nil {
		sink = events.Nop()
	}
	if steps <= 0 {
		steps = 21
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Animator{sink: sink, steps: steps, interval: interval, runs: map[territory.Location]*run{}}
}

// Start begins the animation at center. base supplies the territory fields
// copied into every frame.
func (a *Animator) Start(center territory.Location, base events.Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	prev := a.runs[center]
	a.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: a.nextID, cancel: cancel, done: make(chan struct{})}
	a.runs[center] = r
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	go a.play(ctx, center, r, base)
}

func (a *Animator) play(ctx context.Context, center territory.Location, r *run, base events.Event) {
	defer func() {
		a.mu.Lock()
		if cur := a.runs[center]; cur != nil && cur.id == r.id {
			delete(a.runs, center)
		}
		a.mu.Unlock()
		close(r.done)
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for step := 0; step < a.steps; step++ {
		if step > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		e := base
		e.Kind = events.CreationEffect
		e.Time = time.Now()
		c := center
		e.Center = &c
		e.Step = step
		e.EffectR = float64(step) * RadiusStep
		a.sink.Notify(e)
	}
}

// Cancel stops the animation at center, if any, and waits for it to exit.
func (a *Animator) Cancel(center territory.Location) {
	a.mu.Lock()
	r := a.runs[center]
	a.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (a *Animator) Running(center territory.Location) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.runs[center]
	return ok
}

// StopAll cancels every animation and refuses new ones.
func (a *Animator) StopAll() {
	a.mu.Lock()
	a.closed = true
	runs := make([]*run, 0, len(a.runs))
	for _, r := range a.runs {
		runs = append(runs, r)
	}
	a.mu.Unlock()
	for _, r := range runs {
		r.cancel()
		<-r.done
	}
}
