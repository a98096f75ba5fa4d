package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/sim/territory"
)

type SaveStats struct {
	Territories int
	LastSeen    int
	Deletes     int
	Failed      int
}

type SaveError struct{ Stats SaveStats }

func (e *SaveError) Error() string {
	return fmt.Sprintf("save: %d writes failed", e.Stats.Failed)
}

// SaveAll retries queued deletes, then writes every live territory and every
// changed last-seen entry. Failures are logged and retried next cycle.
func (e *Engine) SaveAll(ctx context.Context) SaveStats {
	var st SaveStats
	if e.store == nil {
		return st
	}

	e.pendingMu.Lock()
	pending := make(map[territory.Location]territory.PlayerID, len(e.pendingDeletes))
	for c, o := range e.pendingDeletes {
		pending[c] = o
	}
	e.pendingMu.Unlock()
	for center, owner := range pending {
		if t, ok := e.reg.Get(center); ok && t.Owner() == owner {
			// Reclaimed at the same spot; the upsert below wins.
			e.dropPending(center)
			continue
		}
		if err := e.store.DeleteTerritory(ctx, center, owner); err != nil {
			st.Failed++
			e.log.Warn("retry delete failed", zap.Stringer("center", center), zap.Error(err))
			continue
		}
		e.dropPending(center)
		st.Deletes++
	}

	for _, t := range e.reg.All() {
		if err := e.store.UpsertTerritory(ctx, t.Snapshot()); err != nil {
			st.Failed++
			e.log.Warn("save territory failed", zap.Stringer("center", t.Center()), zap.Error(err))
			continue
		}
		st.Territories++
	}

	var retry []territory.PlayerID
	for id, ts := range e.presence.TakeDirty() {
		if err := e.store.UpsertLastSeen(ctx, id, ts); err != nil {
			st.Failed++
			retry = append(retry, id)
			e.log.Warn("save last seen failed", zap.Stringer("player", id), zap.Error(err))
			continue
		}
		st.LastSeen++
	}
	e.presence.MarkDirty(retry...)

	e.log.Debug("save complete",
		zap.Int("territories", st.Territories),
		zap.Int("last_seen", st.LastSeen),
		zap.Int("deletes", st.Deletes),
		zap.Int("failed", st.Failed))
	return st
}

func (e *Engine) dropPending(center territory.Location) {
	e.pendingMu.Lock()
	delete(e.pendingDeletes, center)
	e.pendingMu.Unlock()
}

// CleanupLastSeen forgets players not seen within the retention window who
// own no territory.
func (e *Engine) CleanupLastSeen(ctx context.Context) (int, error) {
	days := e.Tuning().LastSeenRetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed := e.presence.Prune(cutoff, func(id territory.PlayerID) bool {
		return e.reg.CountByOwner(id) > 0
	})
	if e.store == nil {
		return len(removed), nil
	}
	n, err := e.store.DeleteStaleLastSeen(ctx, cutoff)
	if err != nil {
		return len(removed), err
	}
	e.log.Info("last seen cleanup", zap.Int("memory", len(removed)), zap.Int64("store", n))
	return len(removed), nil
}

// RebuildBorders redraws every border, used when the world becomes
// reachable again.
func (e *Engine) RebuildBorders(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.reg.All() {
		n += e.border.Rebuild(ctx, t)
	}
	return n
}
