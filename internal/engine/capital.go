package engine

import (
	"context"
	"fmt"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/valuation"

	"github.com/shopspring/decimal"
)

const baselineKeyPrefix = "capital.deposit_baseline."

func baselineKey(ownerID string) string { return baselineKeyPrefix + ownerID }

// CapitalSnapshot is the deposit/deployed/available triple.
type CapitalSnapshot struct {
	Deposit   decimal.Decimal `json:"deposit"`
	Deployed  decimal.Decimal `json:"deployed"`
	Available decimal.Decimal `json:"available"`
}

func (e *Engine) DepositBaseline(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	snap, err := e.CapitalSnapshot(ctx, ownerID)
	return snap.Deposit, err
}

// SetDepositBaseline replaces the owner's deposit baseline.
func (e *Engine) SetDepositBaseline(ctx context.Context, ownerID string, amount decimal.Decimal) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if amount.IsNegative() {
		return apperr.InvalidArgument("deposit baseline must not be negative, got %s", amount)
	}
	return e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		return tx.SetSetting(ctx, baselineKey(ownerID), amount.String())
	})
}

func (e *Engine) DeployedCapital(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	snap, err := e.CapitalSnapshot(ctx, ownerID)
	return snap.Deployed, err
}

// AvailableCapital is the deposit baseline minus deployed capital.
func (e *Engine) AvailableCapital(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	snap, err := e.CapitalSnapshot(ctx, ownerID)
	return snap.Available, err
}

func (e *Engine) CapitalSnapshot(ctx context.Context, ownerID string) (CapitalSnapshot, error) {
	if err := requireOwner(ownerID); err != nil {
		return CapitalSnapshot{}, err
	}
	var snap CapitalSnapshot
	err := e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		var err error
		snap, err = e.capital(ctx, tx, ownerID)
		return err
	})
	return snap, err
}

func (e *Engine) capital(ctx context.Context, tx database.Tx, ownerID string) (CapitalSnapshot, error) {
	deposit, err := e.baseline(ctx, tx, ownerID)
	if err != nil {
		return CapitalSnapshot{}, err
	}
	deployed, err := deployed(ctx, tx, ownerID)
	if err != nil {
		return CapitalSnapshot{}, err
	}
	return CapitalSnapshot{Deposit: deposit, Deployed: deployed, Available: deposit.Sub(deployed)}, nil
}

// baseline reads the owner's deposit baseline, storing the default on first read.
func (e *Engine) baseline(ctx context.Context, tx database.Tx, ownerID string) (decimal.Decimal, error) {
	key := baselineKey(ownerID)
	raw, ok, err := tx.GetSetting(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("malformed deposit baseline %s=%q: %w", key, raw, err)
		}
		return v, nil
	}
	if err := tx.SetSetting(ctx, key, e.cfg.DefaultDeposit.String()); err != nil {
		return decimal.Zero, err
	}
	return e.cfg.DefaultDeposit, nil
}

func deployed(ctx context.Context, tx database.Tx, ownerID string) (decimal.Decimal, error) {
	txns, err := tx.ListOwnerTransactions(ctx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, hist := range groupByHolding(txns) {
		total = total.Add(valuation.DeployedCost(hist))
	}
	return total, nil
}
