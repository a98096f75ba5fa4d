package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CostType selects how upgrades are paid.
type CostType string

const (
	CostItems  CostType = "DIAMONDS"
	CostMoney  CostType = "MONEY"
	CostBoth   CostType = "BOTH"
	CostEither CostType = "EITHER"
)

const DefaultRadius = 16

type Tuning struct {
	DecayThresholdHours int     `yaml:"decay_threshold_hours"`
	DecayStep           float64 `yaml:"decay_step"`
	RestoreStep         float64 `yaml:"restore_step"`

	MinBeaconDistance int `yaml:"min_beacon_distance"`
	MaxTerritories    int `yaml:"max_territories_per_player"`

	ProtectContainers bool `yaml:"protect_containers"`
	PreventExplosions bool `yaml:"prevent_explosions"`

	LastSeenRetentionDays int `yaml:"last_seen_retention_days"`

	Economy Economy            `yaml:"economy"`
	Tiers   []Tier             `yaml:"tiers"`
	Effects map[string]float64 `yaml:"effects"`

	Border   Border   `yaml:"border"`
	Creation Creation `yaml:"creation_effect"`
}

type Economy struct {
	CostType   CostType `yaml:"cost_type"`
	Multiplier float64  `yaml:"upgrade_cost_multiplier"`
	// ItemKind is the item currency. BeaconItem is dropped for a removed beacon.
	ItemKind   string `yaml:"item_kind"`
	BeaconItem string `yaml:"beacon_item"`
}

// Tier is one row of the progression table. UpgradeCost is the item price of
// reaching this tier from the previous one; tier 1 has none.
type Tier struct {
	Tier        int `yaml:"tier"`
	Radius      int `yaml:"radius"`
	UpgradeCost int `yaml:"upgrade_cost"`
}

type Border struct {
	StepDegrees float64 `yaml:"step_degrees"`
	Tolerance   float64 `yaml:"tolerance"`
}

type Creation struct {
	Steps        int `yaml:"steps"`
	StepInterval int `yaml:"step_interval_ms"`
}

func Defaults() Tuning {
	return Tuning{
		DecayThresholdHours:   160,
		DecayStep:             0.1,
		RestoreStep:           0.05,
		MinBeaconDistance:     260,
		MaxTerritories:        1,
		ProtectContainers:     true,
		PreventExplosions:     true,
		LastSeenRetentionDays: 30,
		Economy: Economy{
			CostType:   CostBoth,
			Multiplier: 100,
			ItemKind:   "DIAMOND",
			BeaconItem: "BEACON",
		},
		Tiers: []Tier{
			{Tier: 1, Radius: 16},
			{Tier: 2, Radius: 24, UpgradeCost: 8},
			{Tier: 3, Radius: 32, UpgradeCost: 16},
			{Tier: 4, Radius: 48, UpgradeCost: 32},
			{Tier: 5, Radius: 64, UpgradeCost: 64},
		},
		Effects: map[string]float64{},
		Border:  Border{StepDegrees: 10, Tolerance: 1.5},
		Creation: Creation{
			Steps:        21,
			StepInterval: 100,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	ct := CostType(strings.ToUpper(strings.TrimSpace(string(t.Economy.CostType))))
	switch ct {
	case "ITEMS", "ITEM":
		ct = CostItems
	case "":
		ct = CostBoth
	}
	t.Economy.CostType = ct
	if t.Economy.ItemKind == "" {
		t.Economy.ItemKind = "DIAMOND"
	}
	if t.Economy.BeaconItem == "" {
		t.Economy.BeaconItem = "BEACON"
	}
	sort.Slice(t.Tiers, func(i, j int) bool { return t.Tiers[i].Tier < t.Tiers[j].Tier })
	if t.Effects == nil {
		t.Effects = map[string]float64{}
	}
	norm := make(map[string]float64, len(t.Effects))
	for k, v := range t.Effects {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	t.Effects = norm
	if t.Border.StepDegrees <= 0 {
		t.Border.StepDegrees = 10
	}
	if t.Border.Tolerance <= 0 {
		t.Border.Tolerance = 1.5
	}
	if t.Creation.Steps <= 0 {
		t.Creation.Steps = 21
	}
	if t.Creation.StepInterval <= 0 {
		t.Creation.StepInterval = 100
	}
}

func (t Tuning) Validate() error {
	switch t.Economy.CostType {
	case CostItems, CostMoney, CostBoth, CostEither:
	default:
		return fmt.Errorf("economy.cost_type: unknown %q", t.Economy.CostType)
	}
	if len(t.Tiers) == 0 {
		return fmt.Errorf("tiers: at least tier 1 is required")
	}
	for i, tr := range t.Tiers {
		if tr.Tier != i+1 {
			return fmt.Errorf("tiers: expected tier %d, got %d", i+1, tr.Tier)
		}
		if tr.Radius <= 0 {
			return fmt.Errorf("tiers[%d]: radius must be positive", tr.Tier)
		}
		if tr.UpgradeCost < 0 {
			return fmt.Errorf("tiers[%d]: upgrade_cost must be >= 0", tr.Tier)
		}
	}
	if t.DecayThresholdHours < 0 {
		return fmt.Errorf("decay_threshold_hours must be >= 0")
	}
	if t.DecayStep < 0 || t.RestoreStep < 0 {
		return fmt.Errorf("decay_step and restore_step must be >= 0")
	}
	if t.MaxTerritories < 1 {
		return fmt.Errorf("max_territories_per_player must be >= 1")
	}
	if t.MinBeaconDistance < 0 {
		return fmt.Errorf("min_beacon_distance must be >= 0")
	}
	if t.Economy.Multiplier < 0 {
		return fmt.Errorf("economy.upgrade_cost_multiplier must be >= 0")
	}
	for name, cost := range t.Effects {
		if cost < 0 {
			return fmt.Errorf("effects.%s: cost must be >= 0", name)
		}
	}
	return nil
}

func (t Tuning) MaxTier() int { return len(t.Tiers) }

// RadiusForTier falls back to DefaultRadius for tiers outside the table.
func (t Tuning) RadiusForTier(tier int) int {
	if tier < 1 || tier > len(t.Tiers) {
		return DefaultRadius
	}
	return t.Tiers[tier-1].Radius
}

// UpgradeCost returns the item price of moving from -> to; only adjacent
// tiers have a price.
func (t Tuning) UpgradeCost(from, to int) int {
	if to != from+1 || to < 2 || to > len(t.Tiers) {
		return 0
	}
	return t.Tiers[to-1].UpgradeCost
}

func (t Tuning) UpgradeMoneyCost(from, to int) float64 {
	return float64(t.UpgradeCost(from, to)) * t.Economy.Multiplier
}

func (t Tuning) EffectCost(name string) float64 {
	return t.Effects[strings.ToLower(name)]
}
