package engine

import (
	"context"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/models"
	"equityjournal/internal/valuation"

	"github.com/shopspring/decimal"
)

func (e *Engine) positions(ctx context.Context, tx database.Tx, ownerID string) ([]valuation.Position, error) {
	holdings, err := tx.ListHoldings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	txns, err := tx.ListOwnerTransactions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	byHolding := groupByHolding(txns)
	out := make([]valuation.Position, 0, len(holdings))
	for _, h := range holdings {
		closes, err := tx.ClosePrices(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		p := valuation.Position{Holding: h, Transactions: byHolding[h.ID], Closes: closes}
		if e.quotes != nil {
			q, ok, err := e.quotes.LatestPrice(ctx, h.ID)
			if err != nil {
				e.log.Warnf("quote lookup for %s failed: %v", h.Symbol, err)
			} else if ok {
				p.Quote = decimal.NewNullDecimal(q)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ValueAsOf values the owner's open holdings on date.
func (e *Engine) ValueAsOf(ctx context.Context, ownerID string, date time.Time) (valuation.Valuation, error) {
	if err := requireOwner(ownerID); err != nil {
		return valuation.Valuation{}, err
	}
	var v valuation.Valuation
	err := e.store.View(ctx, func(tx database.Tx) error {
		positions, err := e.positions(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		v = valuation.AsOf(positions, date)
		return nil
	})
	return v, err
}

// ValueSeries values the owner's holdings on every date with a close observation.
func (e *Engine) ValueSeries(ctx context.Context, ownerID string) ([]valuation.Point, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	var pts []valuation.Point
	err := e.store.View(ctx, func(tx database.Tx) error {
		positions, err := e.positions(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		pts = valuation.Series(positions)
		return nil
	})
	return pts, err
}

// FinancialYearRollup sums realized P&L of SELLs dated within [start, end].
func (e *Engine) FinancialYearRollup(ctx context.Context, ownerID string, start, end time.Time) (valuation.Rollup, error) {
	if err := requireOwner(ownerID); err != nil {
		return valuation.Rollup{}, err
	}
	if models.Day(end).Before(models.Day(start)) {
		return valuation.Rollup{}, apperr.InvalidArgument("rollup end %s is before start %s",
			end.Format(models.DateFormat), start.Format(models.DateFormat))
	}
	var r valuation.Rollup
	err := e.store.View(ctx, func(tx database.Tx) error {
		holdings, err := tx.ListHoldings(ctx, ownerID)
		if err != nil {
			return err
		}
		txns, err := tx.ListOwnerTransactions(ctx, ownerID)
		if err != nil {
			return err
		}
		byHolding := groupByHolding(txns)
		positions := make([]valuation.Position, 0, len(holdings))
		for _, h := range holdings {
			positions = append(positions, valuation.Position{Holding: h, Transactions: byHolding[h.ID]})
		}
		r = valuation.RealizedRollup(positions, start, end)
		return nil
	})
	return r, err
}

// PeriodGain is the change in holdings value plus cash over (from, to], net of
// deposits and withdrawals in that window.
func (e *Engine) PeriodGain(ctx context.Context, ownerID string, from, to time.Time) (valuation.Gain, error) {
	if err := requireOwner(ownerID); err != nil {
		return valuation.Gain{}, err
	}
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return valuation.Gain{}, apperr.InvalidArgument("gain window end %s is before start %s",
			to.Format(models.DateFormat), from.Format(models.DateFormat))
	}
	g := valuation.Gain{From: from, To: to}
	err := e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		entries, err := e.loadLedger(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		positions, err := e.positions(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		g.StartHoldings = valuation.AsOf(positions, from).Total
		g.EndHoldings = valuation.AsOf(positions, to).Total
		g.StartCash = sumSignedAsOf(entries, from)
		g.EndCash = sumSignedAsOf(entries, to)
		g.NetExternalFlow = externalFlow(entries, from, to)
		return nil
	})
	if err != nil {
		return valuation.Gain{}, err
	}
	return valuation.ComputeGain(g), nil
}

// RecordClosePrice stores the close of a holding on date, replacing any earlier value.
func (e *Engine) RecordClosePrice(ctx context.Context, holdingID int64, date time.Time, price decimal.Decimal) error {
	if !price.IsPositive() {
		return apperr.InvalidArgument("close price must be positive, got %s", price)
	}
	if date.IsZero() {
		return apperr.InvalidArgument("close date is required")
	}
	owner, err := e.OwnerOfHolding(ctx, holdingID)
	if err != nil {
		return err
	}
	return e.store.Update(ctx, owner, func(tx database.Tx) error {
		return tx.UpsertClosePrice(ctx, holdingID, models.Day(date), price)
	})
}

// LatestCloses returns the most recent close of every holding that has one.
func (e *Engine) LatestCloses(ctx context.Context) ([]models.PricePoint, error) {
	var out []models.PricePoint
	err := e.store.View(ctx, func(tx database.Tx) error {
		var err error
		out, err = tx.LatestClosePrices(ctx)
		return err
	})
	return out, err
}
