package engine

import (
	"context"
	"testing"

	"equityjournal/internal/database"
	"equityjournal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTrades(t *testing.T, e *Engine) int64 {
	t.Helper()
	b := mustAdd(t, e, trade(models.Buy, "RELIANCE", 10, "100", "2025-01-01"))
	mustAdd(t, e, trade(models.Buy, "RELIANCE", 10, "120", "2025-01-02"))
	mustAdd(t, e, trade(models.Sell, "RELIANCE", 15, "130", "2025-01-03"))
	return b.HoldingID
}

func TestReconcileIsIdempotent(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	seedTrades(t, e)

	rep, err := e.Reconcile(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Kept)
	assert.Zero(t, rep.Added)
	assert.Zero(t, rep.Removed)
	first := derivedEntries(t, store, owner)

	_, err = e.Reconcile(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, first, derivedEntries(t, store, owner))
}

func TestReconcileRepairsDerivedEntries(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	seedTrades(t, e)

	derived := derivedEntries(t, store, owner)
	err := store.Update(ctx, owner, func(tx database.Tx) error {
		if err := tx.DeleteLedgerEntries(ctx, []int64{derived[0].ID}); err != nil {
			return err
		}
		stray := models.LedgerEntry{OwnerID: owner, Kind: models.TradeDebit, Amount: dec("42"), EntryDate: day("2025-01-04")}
		return tx.InsertLedgerEntry(ctx, &stray)
	})
	require.NoError(t, err)

	rep, err := e.Reconcile(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.Added)

	bal, err := e.Balance(ctx, owner)
	require.NoError(t, err)
	// 100000 - 1000 - 1200 + 1950
	assert.True(t, bal.Equal(dec("99750")), bal.String())
}

func TestReconcilePreservesExternalEntries(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	holdingID := seedTrades(t, e)
	_, err := e.AddEntry(ctx, NewEntry{OwnerID: owner, Kind: models.Deposit, Amount: dec("2500"), Date: day("2025-01-02"), Note: "salary"})
	require.NoError(t, err)
	_, err = e.AddEntry(ctx, NewEntry{OwnerID: owner, Kind: models.Withdrawal, Amount: dec("700"), Date: day("2025-01-04")})
	require.NoError(t, err)

	external := func() []models.LedgerEntry {
		var out []models.LedgerEntry
		for _, en := range allEntries(t, store, owner) {
			if !en.Kind.Derived() {
				out = append(out, en)
			}
		}
		return out
	}
	before := external()
	require.Len(t, before, 3)

	txns, err := e.ListTransactions(ctx, holdingID)
	require.NoError(t, err)
	price := dec("105")
	_, err = e.UpdateTransaction(ctx, txns[0].ID, TransactionPatch{Price: &price})
	require.NoError(t, err)
	_, err = e.Reconcile(ctx, owner)
	require.NoError(t, err)

	assert.Equal(t, before, external())
}
