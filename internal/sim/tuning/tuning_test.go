package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRepoTuning(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.MaxTier() != 5 {
		t.Fatalf("max tier: %d", tu.MaxTier())
	}
	if tu.RadiusForTier(1) != 16 || tu.DecayThresholdHours != 160 {
		t.Fatalf("unexpected values: %+v", tu)
	}
	if tu.EffectCost("Speed") != 2500 {
		t.Fatalf("effect cost lookup should ignore case")
	}
}

func TestUpgradeCostOnlyForAdjacentTiers(t *testing.T) {
	tu := Defaults()
	if got := tu.UpgradeCost(1, 2); got != 8 {
		t.Fatalf("1->2: %d", got)
	}
	if got := tu.UpgradeCost(2, 4); got != 0 {
		t.Fatalf("2->4 must have no price, got %d", got)
	}
	if got := tu.UpgradeMoneyCost(1, 2); got != 800 {
		t.Fatalf("money 1->2: %v", got)
	}
	if got := tu.RadiusForTier(99); got != DefaultRadius {
		t.Fatalf("out of table radius: %d", got)
	}
}

func TestLoadRejectsGappedTiers(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := "tiers:\n  - { tier: 1, radius: 16 }\n  - { tier: 3, radius: 32 }\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil || !strings.Contains(err.Error(), "expected tier 2") {
		t.Fatalf("expected gap error, got %v", err)
	}
}

func TestNormalizeCostType(t *testing.T) {
	tu := Defaults()
	tu.Economy.CostType = " items "
	tu.Normalize()
	if tu.Economy.CostType != CostItems {
		t.Fatalf("cost type: %q", tu.Economy.CostType)
	}
	tu.Economy.CostType = "barter"
	if err := tu.Validate(); err == nil {
		t.Fatalf("unknown cost type should fail validation")
	}
}
