package lifecycle

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

// DecayStats summarizes one decay tick.
type DecayStats struct {
	Restored int
	Decayed  int
	Removed  int
}

// HoursOffline is the whole number of hours between lastSeen and now.
func HoursOffline(now, lastSeen time.Time) int {
	h := now.Sub(lastSeen) / time.Hour
	if h < 0 {
		return 0
	}
	return int(h)
}

// DecayAmount returns the influence lost in one tick after hours offline.
// Decay starts once hours reaches threshold and grows by one step for every
// further hour.
func DecayAmount(hours, threshold int, step float64) float64 {
	if hours < threshold {
		return 0
	}
	return step * float64(hours-threshold+1)
}

// DecayTick applies one round of decay and restoration. Owners online gain
// the restore step; owners offline past the threshold lose influence, and
// territories reaching zero are removed through the common deletion path.
func (e *Engine) DecayTick(ctx context.Context) DecayStats {
	tu := e.Tuning()
	now := e.now()
	var st DecayStats
	for _, t := range e.reg.All() {
		if ctx.Err() != nil {
			break
		}
		owner := t.Owner()
		if e.presence.IsOnline(owner) {
			e.mu.Lock()
			if cur, ok := e.reg.Get(t.Center()); ok && cur == t {
				t.RestoreInfluence(tu.RestoreStep)
				st.Restored++
			}
			e.mu.Unlock()
			continue
		}

		last, ok := e.presence.LastSeen(owner)
		if !ok {
			e.presence.SeenIfUnknown(owner, now)
			continue
		}
		amount := DecayAmount(HoursOffline(now, last), tu.DecayThresholdHours, tu.DecayStep)
		if amount <= 0 {
			continue
		}

		e.mu.Lock()
		cur, ok := e.reg.Get(t.Center())
		if !ok || cur != t {
			e.mu.Unlock()
			continue
		}
		left := t.DecayInfluence(amount)
		st.Decayed++
		e.log.Debug("territory decayed",
			zap.Stringer("center", t.Center()),
			zap.Float64("amount", amount),
			zap.Float64("influence", left))
		if left <= 0 || nearZero(left) {
			if e.destroyLocked(ctx, t, events.TerritoryDecayed, territory.PlayerID{}) {
				st.Removed++
			}
		}
		e.mu.Unlock()
	}
	return st
}

func nearZero(v float64) bool { return math.Abs(v) < 1e-9 }
