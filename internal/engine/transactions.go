package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/fifo"
	"equityjournal/internal/models"
	"equityjournal/internal/valuation"

	"github.com/shopspring/decimal"
)

const defaultExchange = "NSE"

// Realized carries caller-computed figures for a SELL.
type Realized struct {
	PnL       decimal.Decimal
	CostBasis decimal.Decimal
}

// NewTransaction identifies the holding either by HoldingID or by owner and
// symbol; a holding is created on the first trade of a new symbol.
type NewTransaction struct {
	HoldingID int64
	OwnerID   string
	Symbol    string
	Name      string
	Exchange  string

	Side      models.Side
	Quantity  int64
	Price     decimal.Decimal
	TradeDate time.Time

	InvestmentHorizon string
	TargetPrice       decimal.NullDecimal
	Thesis            string

	// Realized skips FIFO matching for a SELL.
	Realized *Realized
}

// TransactionPatch lists the fields an update may change; nil leaves a field as is.
type TransactionPatch struct {
	Side              *models.Side
	Quantity          *int64
	Price             *decimal.Decimal
	TradeDate         *time.Time
	InvestmentHorizon *string
	TargetPrice       *decimal.NullDecimal
	Thesis            *string
}

func (p TransactionPatch) economic() bool {
	return p.Side != nil || p.Quantity != nil || p.Price != nil || p.TradeDate != nil
}

func validateTrade(side models.Side, qty int64, price decimal.Decimal) error {
	if !side.Valid() {
		return apperr.InvalidArgument("side must be BUY or SELL, got %q", side)
	}
	if qty <= 0 {
		return apperr.InvalidArgument("quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return apperr.InvalidArgument("price must be positive, got %s", price)
	}
	return nil
}

// HoldingSummary is a holding with its open position.
type HoldingSummary struct {
	models.Holding
	OpenQuantity    int64           `json:"open_quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
	DeployedCost    decimal.Decimal `json:"deployed_cost"`
}

// AddTransaction records a trade. SELLs are settled FIFO unless realized figures
// are supplied; BUYs are gated by available capital and booked against cash.
func (e *Engine) AddTransaction(ctx context.Context, in NewTransaction) (models.Transaction, error) {
	if err := validateTrade(in.Side, in.Quantity, in.Price); err != nil {
		return models.Transaction{}, err
	}
	if in.Realized != nil && in.Side != models.Sell {
		return models.Transaction{}, apperr.InvalidArgument("realized figures apply to SELL only")
	}
	owner := in.OwnerID
	if in.HoldingID != 0 {
		var err error
		if owner, err = e.OwnerOfHolding(ctx, in.HoldingID); err != nil {
			return models.Transaction{}, err
		}
	} else {
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" {
			return models.Transaction{}, apperr.InvalidArgument("symbol or holding id is required")
		}
		if err := requireOwner(owner); err != nil {
			return models.Transaction{}, err
		}
	}
	date := in.TradeDate
	if date.IsZero() {
		date = e.today()
	}

	t := models.Transaction{
		Side:              in.Side,
		Quantity:          in.Quantity,
		Price:             in.Price,
		TradeDate:         models.Day(date),
		InvestmentHorizon: in.InvestmentHorizon,
		TargetPrice:       in.TargetPrice,
		Thesis:            in.Thesis,
	}
	err := e.store.Update(ctx, owner, func(tx database.Tx) error {
		if err := e.seedLedger(ctx, tx, owner, t.TradeDate); err != nil {
			return err
		}
		h, err := e.holdingFor(ctx, tx, owner, in)
		if err != nil {
			return err
		}
		t.HoldingID = h.ID
		history, err := tx.ListTransactions(ctx, h.ID)
		if err != nil {
			return err
		}
		backdated := len(history) > 0 && t.TradeDate.Before(history[len(history)-1].TradeDate)

		var (
			matches   []fifo.Match
			available decimal.Decimal
		)
		if t.Side == models.Buy {
			if available, err = e.gateBuy(ctx, tx, owner, t); err != nil {
				return err
			}
		} else if !backdated {
			if in.Realized != nil {
				if avail := fifo.Available(history); t.Quantity > avail {
					return apperr.InsufficientHoldings(avail, t.Quantity)
				}
				setProvided(&t, *in.Realized)
			} else {
				res, err := fifo.Settle(history, t.Quantity, t.Price)
				if err != nil {
					return err
				}
				setMatched(&t, res)
				matches = res.Matches
			}
		} else if in.Realized != nil {
			setProvided(&t, *in.Realized)
		} else {
			t.MatchMethod = models.MatchFIFO
		}

		if err := tx.InsertTransaction(ctx, &t); err != nil {
			return err
		}
		if err := insertMatches(ctx, tx, t, matches); err != nil {
			return err
		}
		if backdated {
			if err := e.rematch(ctx, tx, h.ID); err != nil {
				return err
			}
			if t, err = tx.GetTransaction(ctx, t.ID); err != nil {
				return err
			}
		}
		return e.book(ctx, tx, owner, t, h.Symbol, available)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return t, nil
}

func (e *Engine) holdingFor(ctx context.Context, tx database.Tx, owner string, in NewTransaction) (models.Holding, error) {
	if in.HoldingID != 0 {
		h, err := tx.GetHolding(ctx, in.HoldingID)
		return h, notFound("holding", in.HoldingID, err)
	}
	h, err := tx.FindHolding(ctx, owner, in.Symbol)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return models.Holding{}, err
	}
	h = models.Holding{OwnerID: owner, Symbol: in.Symbol, Name: in.Name, Exchange: in.Exchange}
	if h.Name == "" {
		h.Name = in.Symbol
	}
	if h.Exchange == "" {
		h.Exchange = defaultExchange
	}
	if err := tx.CreateHolding(ctx, &h); err != nil {
		return models.Holding{}, err
	}
	return h, nil
}

// gateBuy rejects a BUY whose cost exceeds available capital and returns the
// pre-trade available figure.
func (e *Engine) gateBuy(ctx context.Context, tx database.Tx, owner string, t models.Transaction) (decimal.Decimal, error) {
	snap, err := e.capital(ctx, tx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	if cost := t.Amount(); cost.GreaterThan(snap.Available) {
		return decimal.Zero, apperr.InsufficientAvailableCapital(snap.Available, cost)
	}
	return snap.Available, nil
}

// gateBuyEdit rejects a BUY edit that raises its cost and leaves available
// capital negative. The pre-edit cost counts as headroom.
func (e *Engine) gateBuyEdit(ctx context.Context, tx database.Tx, owner string, availableBefore, oldCost, newCost decimal.Decimal) error {
	if !newCost.GreaterThan(oldCost) {
		return nil
	}
	after, err := e.capital(ctx, tx, owner)
	if err != nil {
		return err
	}
	if after.Available.IsNegative() {
		return apperr.InsufficientAvailableCapital(availableBefore.Add(oldCost), newCost)
	}
	return nil
}

// book writes the cash side of a new trade. A BUY first tops the ledger up to
// the pre-trade available capital when the ledger holds less.
func (e *Engine) book(ctx context.Context, tx database.Tx, owner string, t models.Transaction, symbol string, available decimal.Decimal) error {
	entry, ok := derivedEntry(owner, t, symbol)
	if !ok {
		return nil
	}
	if t.Side == models.Sell {
		return e.addEntry(ctx, tx, &entry, false)
	}
	entries, err := tx.ListLedgerEntries(ctx, owner)
	if err != nil {
		return err
	}
	bal := sumSigned(entries)
	if gap := available.Sub(bal); gap.IsPositive() {
		dep := models.LedgerEntry{
			OwnerID:   owner,
			Kind:      models.Deposit,
			Amount:    gap,
			EntryDate: t.TradeDate,
			Note:      "auto-aligned to available capital",
		}
		if err := tx.InsertLedgerEntry(ctx, &dep); err != nil {
			return err
		}
		e.log.Infof("aligned cash ledger for %s with deposit of %s", owner, gap.StringFixed(2))
		bal = bal.Add(gap)
	}
	// The capital gate already dated the trade; cash only has to cover it in total.
	if bal.LessThan(entry.Amount) {
		return apperr.InsufficientCash(bal, entry.Amount)
	}
	return tx.InsertLedgerEntry(ctx, &entry)
}

func setMatched(t *models.Transaction, res fifo.Result) {
	t.RealizedPnL = decimal.NewNullDecimal(res.RealizedPnL)
	t.RealizedCostBasis = decimal.NewNullDecimal(res.CostBasis)
	t.MatchMethod = models.MatchFIFO
}

func setProvided(t *models.Transaction, r Realized) {
	t.RealizedPnL = decimal.NewNullDecimal(r.PnL)
	t.RealizedCostBasis = decimal.NewNullDecimal(r.CostBasis)
	t.MatchMethod = models.MatchProvided
}

func insertMatches(ctx context.Context, tx database.Tx, sell models.Transaction, matches []fifo.Match) error {
	for _, m := range matches {
		lm := models.LotMatch{
			SellTransactionID: sell.ID,
			BuyTransactionID:  m.BuyTransactionID,
			Quantity:          m.Quantity,
			BuyPrice:          m.BuyPrice,
			SellPrice:         m.SellPrice,
			RealizedPnL:       m.RealizedPnL,
		}
		if err := tx.InsertLotMatch(ctx, &lm); err != nil {
			return err
		}
	}
	return nil
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// rematch replays the holding in chronological order and rewrites the realized
// figures and lot matches of every FIFO sell. PROVIDED sells keep their figures.
func (e *Engine) rematch(ctx context.Context, tx database.Tx, holdingID int64) error {
	history, err := tx.ListTransactions(ctx, holdingID)
	if err != nil {
		return err
	}
	settlements, err := fifo.Replay(history)
	if err != nil {
		return err
	}
	if err := tx.DeleteHoldingLotMatches(ctx, holdingID); err != nil {
		return err
	}
	for _, t := range history {
		if t.Side != models.Buy || (!t.RealizedPnL.Valid && !t.RealizedCostBasis.Valid && t.MatchMethod == "") {
			continue
		}
		t.RealizedPnL, t.RealizedCostBasis, t.MatchMethod = decimal.NullDecimal{}, decimal.NullDecimal{}, ""
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
	}
	for _, s := range settlements {
		t := s.Transaction
		if t.MatchMethod == models.MatchProvided {
			continue
		}
		before := t
		setMatched(&t, s.Result)
		if !nullEqual(before.RealizedPnL, t.RealizedPnL) || !nullEqual(before.RealizedCostBasis, t.RealizedCostBasis) || before.MatchMethod != t.MatchMethod {
			if err := tx.SaveTransaction(ctx, t); err != nil {
				return err
			}
		}
		if err := insertMatches(ctx, tx, t, s.Result.Matches); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTransaction applies patch and reconciles the owner's ledger. Economic
// changes re-run FIFO settlement for the whole holding.
func (e *Engine) UpdateTransaction(ctx context.Context, id int64, patch TransactionPatch) (models.Transaction, error) {
	owner, err := e.OwnerOfTransaction(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	var out models.Transaction
	err = e.store.Update(ctx, owner, func(tx database.Tx) error {
		if err := e.ensureLedger(ctx, tx, owner); err != nil {
			return err
		}
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return notFound("transaction", id, err)
		}
		wasSell := t.Side == models.Sell
		oldCost := decimal.Zero
		if !wasSell {
			oldCost = t.Amount()
		}
		before, err := e.capital(ctx, tx, owner)
		if err != nil {
			return err
		}
		applyPatch(&t, patch)
		if err := validateTrade(t.Side, t.Quantity, t.Price); err != nil {
			return err
		}
		if wasSell && t.Side == models.Buy {
			t.RealizedPnL, t.RealizedCostBasis, t.MatchMethod = decimal.NullDecimal{}, decimal.NullDecimal{}, ""
		} else if !wasSell && t.Side == models.Sell {
			t.MatchMethod = models.MatchFIFO
		}
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		if patch.economic() {
			if err := e.rematch(ctx, tx, t.HoldingID); err != nil {
				return err
			}
			if t.Side == models.Buy {
				if err := e.gateBuyEdit(ctx, tx, owner, before.Available, oldCost, t.Amount()); err != nil {
					return err
				}
			}
		}
		if _, err := e.reconcile(ctx, tx, owner); err != nil {
			return err
		}
		out, err = tx.GetTransaction(ctx, id)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return out, nil
}

func applyPatch(t *models.Transaction, p TransactionPatch) {
	if p.Side != nil {
		t.Side = models.Side(strings.ToUpper(string(*p.Side)))
	}
	if p.Quantity != nil {
		t.Quantity = *p.Quantity
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	if p.TradeDate != nil {
		t.TradeDate = models.Day(*p.TradeDate)
	}
	if p.InvestmentHorizon != nil {
		t.InvestmentHorizon = *p.InvestmentHorizon
	}
	if p.TargetPrice != nil {
		t.TargetPrice = *p.TargetPrice
	}
	if p.Thesis != nil {
		t.Thesis = *p.Thesis
	}
}

// unlink removes lot matches and derived ledger entries of the given
// transactions and clears references held by external entries.
func unlink(ctx context.Context, tx database.Tx, ownerID string, ids []int64) error {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		if err := tx.DeleteLotMatches(ctx, id); err != nil {
			return err
		}
	}
	entries, err := tx.ListLedgerEntries(ctx, ownerID)
	if err != nil {
		return err
	}
	var derived []int64
	for _, en := range entries {
		if en.Kind.Derived() && en.Reference != nil && drop[*en.Reference] {
			derived = append(derived, en.ID)
		}
	}
	if err := tx.DeleteLedgerEntries(ctx, derived); err != nil {
		return err
	}
	return tx.DetachLedgerEntries(ctx, ids)
}

// DeleteTransaction removes a transaction, re-settles its holding and reconciles.
func (e *Engine) DeleteTransaction(ctx context.Context, id int64) error {
	owner, err := e.OwnerOfTransaction(ctx, id)
	if err != nil {
		return err
	}
	return e.store.Update(ctx, owner, func(tx database.Tx) error {
		if err := e.ensureLedger(ctx, tx, owner); err != nil {
			return err
		}
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return notFound("transaction", id, err)
		}
		if err := unlink(ctx, tx, owner, []int64{id}); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return notFound("transaction", id, err)
		}
		if err := e.rematch(ctx, tx, t.HoldingID); err != nil {
			return err
		}
		_, err = e.reconcile(ctx, tx, owner)
		return err
	})
}

// DeleteHolding removes a holding with its transactions, lot matches and prices.
func (e *Engine) DeleteHolding(ctx context.Context, id int64) error {
	owner, err := e.OwnerOfHolding(ctx, id)
	if err != nil {
		return err
	}
	return e.store.Update(ctx, owner, func(tx database.Tx) error {
		if err := e.ensureLedger(ctx, tx, owner); err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteHoldingLotMatches(ctx, id); err != nil {
			return err
		}
		ids := make([]int64, 0, len(txns))
		for _, t := range txns {
			ids = append(ids, t.ID)
		}
		if err := unlink(ctx, tx, owner, ids); err != nil {
			return err
		}
		for _, tid := range ids {
			if err := tx.DeleteTransaction(ctx, tid); err != nil {
				return err
			}
		}
		if err := tx.DeletePrices(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteHolding(ctx, id); err != nil {
			return notFound("holding", id, err)
		}
		_, err = e.reconcile(ctx, tx, owner)
		return err
	})
}

func (e *Engine) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	var t models.Transaction
	err := e.store.View(ctx, func(tx database.Tx) error {
		var err error
		t, err = tx.GetTransaction(ctx, id)
		return notFound("transaction", id, err)
	})
	return t, err
}

// ListTransactions returns a holding's history ordered by trade date, then id.
func (e *Engine) ListTransactions(ctx context.Context, holdingID int64) ([]models.Transaction, error) {
	var out []models.Transaction
	err := e.store.View(ctx, func(tx database.Tx) error {
		if _, err := tx.GetHolding(ctx, holdingID); err != nil {
			return notFound("holding", holdingID, err)
		}
		var err error
		out, err = tx.ListTransactions(ctx, holdingID)
		return err
	})
	return out, err
}

// ListLotMatches returns lot matches where the transaction is either side.
func (e *Engine) ListLotMatches(ctx context.Context, transactionID int64) ([]models.LotMatch, error) {
	var out []models.LotMatch
	err := e.store.View(ctx, func(tx database.Tx) error {
		if _, err := tx.GetTransaction(ctx, transactionID); err != nil {
			return notFound("transaction", transactionID, err)
		}
		var err error
		out, err = tx.ListLotMatches(ctx, transactionID)
		return err
	})
	return out, err
}

func (e *Engine) ListHoldings(ctx context.Context, ownerID string) ([]HoldingSummary, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	out := []HoldingSummary{}
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
		for _, h := range holdings {
			hist := byHolding[h.ID]
			avg, _ := valuation.AverageBuyPrice(hist)
			out = append(out, HoldingSummary{
				Holding:         h,
				OpenQuantity:    fifo.NetQuantity(hist),
				AverageBuyPrice: avg,
				DeployedCost:    valuation.DeployedCost(hist),
			})
		}
		return nil
	})
	return out, err
}
