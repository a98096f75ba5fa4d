package store

import (
	"territorybeacons.dev/internal/sim/territory"
)

type featureRow struct {
	name   string
	active bool
}

// featureRows flattens the unlocked and active sets into one row per
// unlocked feature.
func featureRows(r territory.Record) []featureRow {
	active := territory.SetOf(r.Active...)
	out := make([]featureRow, 0, len(r.Unlocked))
	for _, f := range r.Unlocked {
		out = append(out, featureRow{name: f.String(), active: active.Has(f)})
	}
	return out
}

func applyFeature(r *territory.Record, name string, active bool) error {
	f, err := territory.ParseFeature(name)
	if err != nil {
		return err
	}
	r.Unlocked = append(r.Unlocked, f)
	if active {
		r.Active = append(r.Active, f)
	}
	return nil
}
