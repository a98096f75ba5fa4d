package border

import (
	"context"
	"math"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/sim/territory"
)

// World is the block access the engine needs. Any call may fail; a failed
// sample is skipped.
type World interface {
	// TopmostSurface returns the highest non-empty block of the column.
	TopmostSurface(ctx context.Context, world string, x, z int) (territory.Location, error)
	IsSolidSupport(ctx context.Context, l territory.Location) (bool, error)
	IsEmpty(ctx context.Context, l territory.Location) (bool, error)
	PlaceMarker(ctx context.Context, l territory.Location) error
	// ClearMarker empties l only if it still holds a marker.
	ClearMarker(ctx context.Context, l territory.Location) error
	RemoveBlock(ctx context.Context, l territory.Location) error
	DropItem(ctx context.Context, l territory.Location, item string) error
}

const (
	DefaultStepDegrees = 10.0
	DefaultTolerance   = 1.5
)

type Engine struct {
	world World
	log   *zap.Logger

	stepDegrees float64
	tolerance   float64
}

func NewEngine(w World, log *zap.Logger, stepDegrees, tolerance float64) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if stepDegrees <= 0 {
		stepDegrees = DefaultStepDegrees
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Engine{world: w, log: log, stepDegrees: stepDegrees, tolerance: tolerance}
}

// Column is a sampled (x, z) column on the ring.
type Column struct{ X, Z int }

// Ring returns the distinct candidate columns for a circle of radius around
// center, in sampling order. Columns whose planar distance strays outside the
// tolerance band are dropped.
func (e *Engine) Ring(center territory.Location, radius int) []Column {
	seen := map[Column]struct{}{}
	var out []Column
	r := float64(radius)
	for deg := 0.0; deg < 360; deg += e.stepDegrees {
		rad := deg * math.Pi / 180
		c := Column{
			X: int(math.Floor(float64(center.X) + r*math.Cos(rad))),
			Z: int(math.Floor(float64(center.Z) + r*math.Sin(rad))),
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		d := math.Hypot(float64(c.X-center.X), float64(c.Z-center.Z))
		if math.Abs(d-r) >= e.tolerance {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Rebuild clears the recorded ring of t and places a fresh one at its
// current radius. Cells whose clear failed stay recorded next to the new
// ring. It returns the number of markers placed.
func (e *Engine) Rebuild(ctx context.Context, t *territory.Territory) int {
	e.Clear(ctx, t)
	kept := t.Border()

	center := t.Center()
	var placed []territory.Location
	for _, col := range e.Ring(center, t.Radius()) {
		if ctx.Err() != nil {
			break
		}
		l, ok := e.eligible(ctx, center.World, col)
		if !ok {
			continue
		}
		if err := e.world.PlaceMarker(ctx, l); err != nil {
			e.log.Debug("border place failed", zap.Stringer("cell", l), zap.Error(err))
			continue
		}
		placed = append(placed, l)
	}
	t.ReplaceBorder(append(kept, placed...))
	return len(placed)
}

func (e *Engine) eligible(ctx context.Context, world string, col Column) (territory.Location, bool) {
	top, err := e.world.TopmostSurface(ctx, world, col.X, col.Z)
	if err != nil {
		e.log.Debug("border sample skipped", zap.Int("x", col.X), zap.Int("z", col.Z), zap.Error(err))
		return territory.Location{}, false
	}
	cell := top.Above()
	empty, err := e.world.IsEmpty(ctx, cell)
	if err != nil || !empty {
		return territory.Location{}, false
	}
	solid, err := e.world.IsSolidSupport(ctx, top)
	if err != nil || !solid {
		return territory.Location{}, false
	}
	return cell, true
}

// Clear reverts every recorded marker of t. Cells the world failed to clear
// stay recorded for the next Clear or Rebuild; the count of those is
// returned. Calling it on a territory with no markers does nothing.
func (e *Engine) Clear(ctx context.Context, t *territory.Territory) int {
	cells := t.Border()
	if len(cells) == 0 {
		return 0
	}
	var failed []territory.Location
	for _, l := range cells {
		if err := e.world.ClearMarker(ctx, l); err != nil {
			e.log.Warn("border clear failed", zap.Stringer("cell", l), zap.Error(err))
			failed = append(failed, l)
		}
	}
	t.ReplaceBorder(failed)
	return len(failed)
}
