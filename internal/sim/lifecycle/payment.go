package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/sim/tuning"
)

type Currency string

const (
	CurrencyItem  Currency = "ITEM"
	CurrencyMoney Currency = "MONEY"
)

// Payments is the economy and inventory boundary.
type Payments interface {
	HasFunds(ctx context.Context, player territory.PlayerID, amount float64, c Currency) (bool, error)
	Withdraw(ctx context.Context, player territory.PlayerID, amount float64, c Currency) (bool, error)
}

// Pricer may adjust the configured prices.
type Pricer interface {
	UpgradePrice(from, to, items int, money float64) (int, float64)
	FeaturePrice(f territory.Feature, money float64) float64
}

type BasePricer struct{}

func (BasePricer) UpgradePrice(from, to, items int, money float64) (int, float64) { return items, money }
func (BasePricer) FeaturePrice(f territory.Feature, money float64) float64        { return money }

type charge struct {
	currency Currency
	amount   float64
}

// plan picks what to withdraw under the cost policy. It returns the
// rejection code when the player cannot pay.
func (e *Engine) plan(ctx context.Context, player territory.PlayerID, policy tuning.CostType, items int, money float64) ([]charge, string, error) {
	has := func(c Currency, amount float64) (bool, error) {
		if amount <= 0 {
			return true, nil
		}
		if e.pay == nil {
			return false, fmt.Errorf("no payment provider")
		}
		return e.pay.HasFunds(ctx, player, amount, c)
	}
	itemCharge := charge{currency: CurrencyItem, amount: float64(items)}
	moneyCharge := charge{currency: CurrencyMoney, amount: money}

	switch policy {
	case tuning.CostItems:
		ok, err := has(CurrencyItem, itemCharge.amount)
		if err != nil || !ok {
			return nil, protocol.ErrInsufficientFunds, err
		}
		return []charge{itemCharge}, "", nil
	case tuning.CostMoney:
		ok, err := has(CurrencyMoney, moneyCharge.amount)
		if err != nil || !ok {
			return nil, protocol.ErrInsufficientFunds, err
		}
		return []charge{moneyCharge}, "", nil
	case tuning.CostBoth:
		okItems, err := has(CurrencyItem, itemCharge.amount)
		if err != nil {
			return nil, protocol.ErrInsufficientFunds, err
		}
		okMoney, err := has(CurrencyMoney, moneyCharge.amount)
		if err != nil || !okItems || !okMoney {
			return nil, protocol.ErrInsufficientFunds, err
		}
		return []charge{itemCharge, moneyCharge}, "", nil
	case tuning.CostEither:
		if ok, err := has(CurrencyItem, itemCharge.amount); err == nil && ok {
			return []charge{itemCharge}, "", nil
		}
		ok, err := has(CurrencyMoney, moneyCharge.amount)
		if err != nil || !ok {
			return nil, protocol.ErrInsufficientFunds, err
		}
		return []charge{moneyCharge}, "", nil
	}
	return nil, protocol.ErrInternal, fmt.Errorf("unknown cost type %q", policy)
}

// collect withdraws every planned charge. It reports whether anything was
// taken: once a charge has been collected the purchase goes through even if
// a later withdrawal fails, so the player is never charged for nothing.
func (e *Engine) collect(ctx context.Context, player territory.PlayerID, charges []charge) bool {
	paid := false
	for _, c := range charges {
		if c.amount <= 0 {
			continue
		}
		ok, err := e.pay.Withdraw(ctx, player, c.amount, c.currency)
		if err != nil || !ok {
			fields := []zap.Field{
				zap.Stringer("player", player),
				zap.String("currency", string(c.currency)),
				zap.Float64("amount", c.amount),
				zap.Error(err),
			}
			if paid {
				e.log.Error("partial payment collected; purchase proceeds", fields...)
				return true
			}
			e.log.Warn("withdraw failed", fields...)
			return false
		}
		paid = true
	}
	return true
}
