package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"equityjournal/internal/database"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const owner = "alice"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	d, err := models.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeQuotes map[int64]decimal.Decimal

func (f fakeQuotes) LatestPrice(_ context.Context, holdingID int64) (decimal.Decimal, bool, error) {
	q, ok := f[holdingID]
	return q, ok, nil
}

func newEngine(t *testing.T) (*Engine, *database.Memory) {
	t.Helper()
	store := database.NewMemory()
	log := logrus.New()
	log.SetOutput(io.Discard)
	e := New(store, nil, Config{InitialCredit: dec("100000"), DefaultDeposit: dec("100000")}, log)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return e, store
}

func trade(side models.Side, symbol string, qty int64, price, date string) NewTransaction {
	return NewTransaction{
		OwnerID:   owner,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     dec(price),
		TradeDate: day(date),
	}
}

func mustAdd(t *testing.T, e *Engine, in NewTransaction) models.Transaction {
	t.Helper()
	txn, err := e.AddTransaction(context.Background(), in)
	require.NoError(t, err)
	return txn
}

func derivedEntries(t *testing.T, store database.Store, ownerID string) []models.LedgerEntry {
	t.Helper()
	var out []models.LedgerEntry
	err := store.View(context.Background(), func(tx database.Tx) error {
		entries, err := tx.ListLedgerEntries(context.Background(), ownerID)
		if err != nil {
			return err
		}
		for _, en := range entries {
			if en.Kind.Derived() {
				out = append(out, en)
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func allEntries(t *testing.T, store database.Store, ownerID string) []models.LedgerEntry {
	t.Helper()
	var out []models.LedgerEntry
	err := store.View(context.Background(), func(tx database.Tx) error {
		var err error
		out, err = tx.ListLedgerEntries(context.Background(), ownerID)
		return err
	})
	require.NoError(t, err)
	return out
}
