package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"territorybeacons.dev/internal/sim/territory"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPricingHooks(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pricing.lua", `
function upgrade_cost(from, to, items, money)
  return items * 2, money / 2
end
function feature_cost(name, money)
  if name == "speed" then return 1 end
  return money
end
`)
	p, err := NewPricing(dir, nil)
	if err != nil {
		t.Fatalf("NewPricing: %v", err)
	}
	defer p.Close()

	items, money := p.UpgradePrice(1, 2, 8, 800)
	if items != 16 || money != 400 {
		t.Fatalf("upgrade price=%d,%v", items, money)
	}
	if got := p.FeaturePrice(territory.FeatureSpeed, 50); got != 1 {
		t.Fatalf("speed=%v", got)
	}
	if got := p.FeaturePrice(territory.FeatureLuck, 50); got != 50 {
		t.Fatalf("luck=%v", got)
	}
}

func TestPricingFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", `
function upgrade_cost(from, to, items, money)
  error("boom")
end
function feature_cost(name, money)
  return -5
end
`)
	p, err := NewPricing(dir, nil)
	if err != nil {
		t.Fatalf("NewPricing: %v", err)
	}
	defer p.Close()
	if items, money := p.UpgradePrice(2, 3, 16, 1600); items != 16 || money != 1600 {
		t.Fatalf("fallback=%d,%v", items, money)
	}
	if got := p.FeaturePrice(territory.FeatureHaste, 30); got != 30 {
		t.Fatalf("negative price accepted: %v", got)
	}
}

func TestPricingMissingDir(t *testing.T) {
	p, err := NewPricing(filepath.Join(t.TempDir(), "none"), nil)
	if err != nil {
		t.Fatalf("NewPricing: %v", err)
	}
	defer p.Close()
	if items, money := p.UpgradePrice(1, 2, 8, 800); items != 8 || money != 800 {
		t.Fatalf("price=%d,%v", items, money)
	}
}

func TestPricingSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", "function (")
	if _, err := NewPricing(dir, nil); err == nil {
		t.Fatalf("expected load error")
	}
}
