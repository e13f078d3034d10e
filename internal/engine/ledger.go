package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 5000
)

// NewEntry is a cash movement to append to an owner's ledger.
type NewEntry struct {
	OwnerID   string
	Kind      models.EntryKind
	Amount    decimal.Decimal
	Date      time.Time
	Note      string
	Reference *int64
	// EnforceBalance rejects debits that would take the balance below zero.
	EnforceBalance bool
}

// AddEntry appends one entry, bootstrapping the ledger first if it is empty.
func (e *Engine) AddEntry(ctx context.Context, in NewEntry) (models.LedgerEntry, error) {
	if err := requireOwner(in.OwnerID); err != nil {
		return models.LedgerEntry{}, err
	}
	if _, ok := in.Kind.Sign(); !ok {
		return models.LedgerEntry{}, apperr.UnsupportedEntryKind(string(in.Kind))
	}
	if !in.Amount.IsPositive() {
		return models.LedgerEntry{}, apperr.InvalidArgument("ledger amount must be positive, got %s", in.Amount)
	}
	date := in.Date
	if date.IsZero() {
		date = e.today()
	}
	entry := models.LedgerEntry{
		OwnerID:   in.OwnerID,
		Kind:      in.Kind,
		Amount:    in.Amount,
		EntryDate: models.Day(date),
		Note:      in.Note,
		Reference: in.Reference,
	}
	err := e.store.Update(ctx, in.OwnerID, func(tx database.Tx) error {
		if entry.Reference != nil {
			if err := checkReference(ctx, tx, in.OwnerID, *entry.Reference); err != nil {
				return err
			}
		}
		if err := e.seedLedger(ctx, tx, in.OwnerID, entry.EntryDate); err != nil {
			return err
		}
		return e.addEntry(ctx, tx, &entry, in.EnforceBalance)
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}

func (e *Engine) addEntry(ctx context.Context, tx database.Tx, entry *models.LedgerEntry, enforce bool) error {
	sign, ok := entry.Kind.Sign()
	if !ok {
		return apperr.UnsupportedEntryKind(string(entry.Kind))
	}
	if enforce && sign < 0 {
		entries, err := tx.ListLedgerEntries(ctx, entry.OwnerID)
		if err != nil {
			return err
		}
		low := lowestBalanceFrom(entries, entry.EntryDate)
		if low.Sub(entry.Amount).IsNegative() {
			return apperr.InsufficientCash(low, entry.Amount)
		}
	}
	return tx.InsertLedgerEntry(ctx, entry)
}

// checkReference requires the transaction to exist and belong to ownerID.
func checkReference(ctx context.Context, tx database.Tx, ownerID string, id int64) error {
	t, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return notFound("transaction", id, err)
	}
	h, err := tx.GetHolding(ctx, t.HoldingID)
	if err != nil {
		return notFound("holding", t.HoldingID, err)
	}
	if h.OwnerID != ownerID {
		return apperr.InvalidArgument("transaction %d belongs to another owner", id)
	}
	return nil
}

// lowestBalanceFrom is the smallest end-of-day balance on date or any later
// entry date. A debit dated date must fit under it.
func lowestBalanceFrom(entries []models.LedgerEntry, date time.Time) decimal.Decimal {
	sorted := make([]models.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EntryDate.Before(sorted[j].EntryDate) })

	low := sumSignedAsOf(sorted, date)
	run := decimal.Zero
	for i, en := range sorted {
		run = run.Add(en.Signed())
		endOfDay := i == len(sorted)-1 || !sorted[i+1].EntryDate.Equal(en.EntryDate)
		if endOfDay && en.EntryDate.After(date) && run.LessThan(low) {
			low = run
		}
	}
	return low
}

func sumSigned(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, en := range entries {
		total = total.Add(en.Signed())
	}
	return total
}

func sumSignedAsOf(entries []models.LedgerEntry, date time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, en := range entries {
		if en.EntryDate.After(date) {
			continue
		}
		total = total.Add(en.Signed())
	}
	return total
}

// Balance is the signed sum of all the owner's entries.
func (e *Engine) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return e.balance(ctx, ownerID, time.Time{})
}

// BalanceAsOf is the signed sum of entries dated on or before date.
func (e *Engine) BalanceAsOf(ctx context.Context, ownerID string, date time.Time) (decimal.Decimal, error) {
	return e.balance(ctx, ownerID, models.Day(date))
}

func (e *Engine) balance(ctx context.Context, ownerID string, asOf time.Time) (decimal.Decimal, error) {
	if err := requireOwner(ownerID); err != nil {
		return decimal.Zero, err
	}
	bal := decimal.Zero
	err := e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		entries, err := e.loadLedger(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if asOf.IsZero() {
			bal = sumSigned(entries)
		} else {
			bal = sumSignedAsOf(entries, asOf)
		}
		return nil
	})
	return bal, err
}

// ListEntries returns up to limit entries, newest first.
func (e *Engine) ListEntries(ctx context.Context, ownerID string, limit int) ([]models.LedgerEntry, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	var out []models.LedgerEntry
	err := e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		entries, err := e.loadLedger(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		sort.SliceStable(entries, func(i, j int) bool {
			if !entries[i].EntryDate.Equal(entries[j].EntryDate) {
				return entries[i].EntryDate.After(entries[j].EntryDate)
			}
			return entries[i].ID > entries[j].ID
		})
		if len(entries) > limit {
			entries = entries[:limit]
		}
		out = entries
		return nil
	})
	return out, err
}

// ExternalCashFlow is the signed sum of deposits and withdrawals dated in (from, to].
func (e *Engine) ExternalCashFlow(ctx context.Context, ownerID string, from, to time.Time) (decimal.Decimal, error) {
	if err := requireOwner(ownerID); err != nil {
		return decimal.Zero, err
	}
	flow := decimal.Zero
	err := e.store.View(ctx, func(tx database.Tx) error {
		entries, err := tx.ListLedgerEntries(ctx, ownerID)
		if err != nil {
			return err
		}
		flow = externalFlow(entries, models.Day(from), models.Day(to))
		return nil
	})
	return flow, err
}

func externalFlow(entries []models.LedgerEntry, from, to time.Time) decimal.Decimal {
	flow := decimal.Zero
	for _, en := range entries {
		if !en.Kind.External() {
			continue
		}
		if !en.EntryDate.After(from) || en.EntryDate.After(to) {
			continue
		}
		flow = flow.Add(en.Signed())
	}
	return flow
}

func (e *Engine) loadLedger(ctx context.Context, tx database.Tx, ownerID string) ([]models.LedgerEntry, error) {
	if err := e.ensureLedger(ctx, tx, ownerID); err != nil {
		return nil, err
	}
	return tx.ListLedgerEntries(ctx, ownerID)
}

func (e *Engine) ensureLedger(ctx context.Context, tx database.Tx, ownerID string) error {
	return e.seedLedger(ctx, tx, ownerID, time.Time{})
}

// seedLedger seeds an empty ledger with the initial credit and one derived
// entry per historical trade, then tops up the initial credit. The seed is
// dated no later than the earliest trade or notAfter.
func (e *Engine) seedLedger(ctx context.Context, tx database.Tx, ownerID string, notAfter time.Time) error {
	entries, err := tx.ListLedgerEntries(ctx, ownerID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	txns, err := tx.ListOwnerTransactions(ctx, ownerID)
	if err != nil {
		return err
	}
	symbols, err := symbolsByHolding(ctx, tx, ownerID)
	if err != nil {
		return err
	}

	date := e.today()
	if len(txns) > 0 {
		date = txns[0].TradeDate
	}
	if !notAfter.IsZero() && notAfter.Before(date) {
		date = models.Day(notAfter)
	}
	if e.cfg.InitialCredit.IsPositive() {
		seed := models.LedgerEntry{
			OwnerID:   ownerID,
			Kind:      models.InitialDeposit,
			Amount:    e.cfg.InitialCredit,
			EntryDate: date,
			Note:      "initial credit",
		}
		if err := tx.InsertLedgerEntry(ctx, &seed); err != nil {
			return err
		}
	}
	for _, t := range txns {
		d, ok := derivedEntry(ownerID, t, symbols[t.HoldingID])
		if !ok {
			continue
		}
		if err := tx.InsertLedgerEntry(ctx, &d); err != nil {
			return err
		}
	}
	e.log.Infof("bootstrapped cash ledger for %s: initial credit %s, %d trades", ownerID, e.cfg.InitialCredit.StringFixed(2), len(txns))
	return e.topUp(ctx, tx, ownerID, txns)
}

// topUp raises the initial deposit total to the configured floor unless the
// owner has ever recorded a deposit or withdrawal.
func (e *Engine) topUp(ctx context.Context, tx database.Tx, ownerID string, txns []models.Transaction) error {
	entries, err := tx.ListLedgerEntries(ctx, ownerID)
	if err != nil {
		return err
	}
	initial := decimal.Zero
	var date time.Time
	for _, en := range entries {
		if en.Kind.External() {
			return nil
		}
		if en.Kind == models.InitialDeposit {
			initial = initial.Add(en.Amount)
			if date.IsZero() {
				date = en.EntryDate
			}
		}
	}
	missing := e.cfg.InitialCredit.Sub(initial)
	if !missing.IsPositive() {
		return nil
	}
	if date.IsZero() {
		date = e.today()
		if len(txns) > 0 {
			date = txns[0].TradeDate
		}
	}
	entry := models.LedgerEntry{
		OwnerID:   ownerID,
		Kind:      models.InitialDeposit,
		Amount:    missing,
		EntryDate: date,
		Note:      "initial credit top-up",
	}
	if err := tx.InsertLedgerEntry(ctx, &entry); err != nil {
		return err
	}
	e.log.Infof("topped up initial credit for %s by %s", ownerID, missing.StringFixed(2))
	return nil
}

// derivedEntry is the ledger booking of one trade; ok is false for zero amounts.
func derivedEntry(ownerID string, t models.Transaction, symbol string) (models.LedgerEntry, bool) {
	amount := t.Amount()
	if !amount.IsPositive() {
		return models.LedgerEntry{}, false
	}
	kind := models.TradeDebit
	if t.Side == models.Sell {
		kind = models.TradeCredit
	}
	ref := t.ID
	return models.LedgerEntry{
		OwnerID:   ownerID,
		Kind:      kind,
		Amount:    amount,
		EntryDate: t.TradeDate,
		Note:      tradeNote(t, symbol),
		Reference: &ref,
	}, true
}

func tradeNote(t models.Transaction, symbol string) string {
	return fmt.Sprintf("%s %d %s @ %s", t.Side, t.Quantity, symbol, t.Price.StringFixed(2))
}
