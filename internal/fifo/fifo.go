// Package fifo allocates sells against the oldest open buy lots of a holding.
//
// All functions are pure: they take a holding's transaction history, order it by
// (trade date, insertion id) and never touch storage.
package fifo

import (
	"sort"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

// Lot is the unconsumed part of one BUY transaction.
type Lot struct {
	TransactionID int64
	TradeDate     time.Time
	Price         decimal.Decimal
	Remaining     int64
}

// Match is the portion of one lot consumed by a sell.
type Match struct {
	BuyTransactionID int64
	Quantity         int64
	BuyPrice         decimal.Decimal
	SellPrice        decimal.Decimal
	RealizedPnL      decimal.Decimal
}

// Result is the outcome of settling one sell.
type Result struct {
	Quantity    int64
	SellPrice   decimal.Decimal
	CostBasis   decimal.Decimal
	RealizedPnL decimal.Decimal
	Matches     []Match
}

// Settlement pairs a historical SELL with its replayed result.
type Settlement struct {
	Transaction models.Transaction
	Result      Result
}

type lots []Lot

func (l lots) available() int64 {
	var n int64
	for _, lot := range l {
		n += lot.Remaining
	}
	return n
}

// settle consumes quantity from the oldest lots first. It assumes the caller checked availability.
func (l lots) settle(quantity int64, price decimal.Decimal) Result {
	res := Result{Quantity: quantity, SellPrice: price, CostBasis: decimal.Zero, RealizedPnL: decimal.Zero}
	for i := range l {
		if quantity == 0 {
			break
		}
		if l[i].Remaining == 0 {
			continue
		}
		take := l[i].Remaining
		if take > quantity {
			take = quantity
		}
		q := decimal.NewFromInt(take)
		cost := l[i].Price.Mul(q)
		pnl := price.Sub(l[i].Price).Mul(q)
		res.CostBasis = res.CostBasis.Add(cost)
		res.RealizedPnL = res.RealizedPnL.Add(pnl)
		res.Matches = append(res.Matches, Match{
			BuyTransactionID: l[i].TransactionID,
			Quantity:         take,
			BuyPrice:         l[i].Price,
			SellPrice:        price,
			RealizedPnL:      pnl,
		})
		l[i].Remaining -= take
		quantity -= take
	}
	return res
}

// drain deducts quantity without recording matches; lots never go below zero.
func (l lots) drain(quantity int64) {
	for i := range l {
		if quantity == 0 {
			return
		}
		take := l[i].Remaining
		if take > quantity {
			take = quantity
		}
		l[i].Remaining -= take
		quantity -= take
	}
}

// Sorted returns a copy of history in settlement order.
func Sorted(history []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// OpenLots replays every prior sell against the buys and returns the lots that
// still have remaining quantity, oldest first.
func OpenLots(history []models.Transaction) []Lot {
	var l lots
	for _, t := range Sorted(history) {
		switch t.Side {
		case models.Buy:
			l = append(l, Lot{TransactionID: t.ID, TradeDate: t.TradeDate, Price: t.Price, Remaining: t.Quantity})
		case models.Sell:
			l.drain(t.Quantity)
		}
	}
	open := make([]Lot, 0, len(l))
	for _, lot := range l {
		if lot.Remaining > 0 {
			open = append(open, lot)
		}
	}
	return open
}

// Available is the open quantity left after replaying history.
func Available(history []models.Transaction) int64 {
	return lots(OpenLots(history)).available()
}

// Settle settles a new sell of quantity at price against history.
func Settle(history []models.Transaction, quantity int64, price decimal.Decimal) (Result, error) {
	if quantity <= 0 {
		return Result{}, apperr.InvalidArgument("sell quantity must be positive, got %d", quantity)
	}
	if !price.IsPositive() {
		return Result{}, apperr.InvalidArgument("sell price must be positive, got %s", price)
	}
	open := lots(OpenLots(history))
	if avail := open.available(); quantity > avail {
		return Result{}, apperr.InsufficientHoldings(avail, quantity)
	}
	return open.settle(quantity, price), nil
}

// Replay walks history chronologically and settles each sell against the lots
// open at that point. It fails if any sell exceeds the running open quantity.
func Replay(history []models.Transaction) ([]Settlement, error) {
	var (
		l   lots
		out []Settlement
	)
	for _, t := range Sorted(history) {
		switch t.Side {
		case models.Buy:
			l = append(l, Lot{TransactionID: t.ID, TradeDate: t.TradeDate, Price: t.Price, Remaining: t.Quantity})
		case models.Sell:
			if avail := l.available(); t.Quantity > avail {
				return nil, apperr.InsufficientHoldings(avail, t.Quantity).
					WithDetails(map[string]interface{}{"transaction_id": t.ID, "trade_date": t.TradeDate.Format(models.DateFormat)})
			}
			out = append(out, Settlement{Transaction: t, Result: l.settle(t.Quantity, t.Price)})
		}
	}
	return out, nil
}

// NetQuantity is bought minus sold over history.
func NetQuantity(history []models.Transaction) int64 {
	var n int64
	for _, t := range history {
		switch t.Side {
		case models.Buy:
			n += t.Quantity
		case models.Sell:
			n -= t.Quantity
		}
	}
	return n
}
