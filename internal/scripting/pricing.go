package scripting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"territorybeacons.dev/internal/sim/territory"
)

// Pricing runs price hooks from Lua scripts. Scripts may define
//
//	upgrade_cost(from, to, items, money) -> items, money
//	feature_cost(name, money) -> money
//
// A missing hook or a script error keeps the configured price.
type Pricing struct {
	dir string
	log *zap.Logger

	mu sync.Mutex
	vm *lua.LState
}

// NewPricing loads every *.lua file in dir. A missing dir yields a Pricing
// that always returns the configured prices.
func NewPricing(dir string, log *zap.Logger) (*Pricing, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pricing{dir: dir, log: log}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload builds a fresh VM from the scripts on disk and swaps it in. On
// error the previous VM stays active.
func (p *Pricing) Reload() error {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	n, err := loadDir(vm, p.dir, p.log)
	if err != nil {
		vm.Close()
		return err
	}
	p.mu.Lock()
	old := p.vm
	p.vm = vm
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	p.log.Info("pricing scripts loaded", zap.String("dir", p.dir), zap.Int("files", n))
	return nil
}

func loadDir(vm *lua.LState, dir string, log *zap.Logger) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := vm.DoFile(path); err != nil {
			return 0, fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug("loaded lua script", zap.String("file", path))
	}
	return len(names), nil
}

func (p *Pricing) UpgradePrice(from, to, items int, money float64) (int, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn := p.vm.GetGlobal("upgrade_cost")
	if fn == lua.LNil {
		return items, money
	}
	if err := p.vm.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true},
		lua.LNumber(from), lua.LNumber(to), lua.LNumber(items), lua.LNumber(money)); err != nil {
		p.log.Error("lua upgrade_cost error", zap.Error(err))
		return items, money
	}
	rm := p.vm.Get(-1)
	ri := p.vm.Get(-2)
	p.vm.Pop(2)

	outItems, outMoney := items, money
	if n, ok := ri.(lua.LNumber); ok && validPrice(float64(n)) {
		outItems = int(math.Ceil(float64(n)))
	}
	if n, ok := rm.(lua.LNumber); ok && validPrice(float64(n)) {
		outMoney = float64(n)
	}
	return outItems, outMoney
}

func (p *Pricing) FeaturePrice(f territory.Feature, money float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn := p.vm.GetGlobal("feature_cost")
	if fn == lua.LNil {
		return money
	}
	if err := p.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(f.String()), lua.LNumber(money)); err != nil {
		p.log.Error("lua feature_cost error", zap.Error(err))
		return money
	}
	ret := p.vm.Get(-1)
	p.vm.Pop(1)
	if n, ok := ret.(lua.LNumber); ok && validPrice(float64(n)) {
		return float64(n)
	}
	return money
}

func validPrice(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (p *Pricing) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vm != nil {
		p.vm.Close()
		p.vm = nil
	}
}
