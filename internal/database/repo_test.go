package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"equityjournal/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres"), logrus.New()), mock
}

func TestUpdateTakesOwnerLockAndCommits(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value FROM app_settings WHERE key = (.+)").
		WithArgs("capital.deposit_baseline.alice").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("100000"))
	mock.ExpectCommit()

	var got string
	err := r.Update(context.Background(), "alice", func(tx Tx) error {
		v, ok, err := tx.GetSetting(context.Background(), "capital.deposit_baseline.alice")
		if err != nil {
			return err
		}
		require.True(t, ok)
		got = v
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "100000", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRollsBackAndReturnsCallbackError(t *testing.T) {
	r, mock := newMockRepo(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO app_settings (.+)").WithArgs("k", "v").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := r.Update(context.Background(), "alice", func(tx Tx) error {
		require.NoError(t, tx.SetSetting(context.Background(), "k", "v"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHoldingMapsNoRowsToNotFound(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("bob").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM holdings WHERE id = (.+)").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "symbol", "name", "exchange", "created_at"}))
	mock.ExpectRollback()

	err := r.Update(context.Background(), "bob", func(tx Tx) error {
		_, err := tx.GetHolding(context.Background(), 42)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLedgerEntryReturnsID(t *testing.T) {
	r, mock := newMockRepo(t)
	now := time.Now().UTC()
	ref := int64(7)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO cash_ledger (.+) RETURNING id, created_at").
		WithArgs("alice", "BUY_DEBIT", "2500", sqlmock.AnyArg(), "BUY RELIANCE", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, now))
	mock.ExpectCommit()

	e := models.LedgerEntry{
		OwnerID:   "alice",
		Kind:      models.TradeDebit,
		Amount:    decimal.NewFromInt(2500),
		EntryDate: now,
		Note:      "BUY RELIANCE",
		Reference: &ref,
	}
	err := r.Update(context.Background(), "alice", func(tx Tx) error {
		return tx.InsertLedgerEntry(context.Background(), &e)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWithoutAffectedRowsIsNotFound(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM transactions WHERE id = (.+)").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := r.Update(context.Background(), "alice", func(tx Tx) error {
		return tx.DeleteTransaction(context.Background(), 9)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmptyIDListsSkipTheDatabase(t *testing.T) {
	r, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock(.+)").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := r.Update(context.Background(), "alice", func(tx Tx) error {
		if err := tx.DeleteLedgerEntries(context.Background(), nil); err != nil {
			return err
		}
		return tx.DetachLedgerEntries(context.Background(), []int64{})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func setupDB(t *testing.T) (*sqlx.DB, *Repo) {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL is not set; skipping integration tests")
	}
	db, err := sqlx.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := New(db, logrus.New())
	require.NoError(t, r.Migrate(context.Background()))
	return db, r
}

func cleanupOwner(t *testing.T, db *sqlx.DB, owner string) {
	t.Helper()
	stmts := []string{
		`DELETE FROM cash_ledger WHERE owner_id = $1`,
		`DELETE FROM lot_matches WHERE sell_transaction_id IN (SELECT t.id FROM transactions t JOIN holdings h ON h.id = t.holding_id WHERE h.owner_id = $1)`,
		`DELETE FROM price_history WHERE holding_id IN (SELECT id FROM holdings WHERE owner_id = $1)`,
		`DELETE FROM transactions WHERE holding_id IN (SELECT id FROM holdings WHERE owner_id = $1)`,
		`DELETE FROM holdings WHERE owner_id = $1`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s, owner); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	db, r := setupDB(t)
	ctx := context.Background()
	owner := fmt.Sprintf("it-roundtrip-%d", time.Now().UnixNano())
	cleanupOwner(t, db, owner)
	defer cleanupOwner(t, db, owner)

	day, _ := models.ParseDay("2025-01-10")
	var txnID int64
	err := r.Update(ctx, owner, func(tx Tx) error {
		h := models.Holding{OwnerID: owner, Symbol: "RELIANCE", Exchange: "NSE"}
		if err := tx.CreateHolding(ctx, &h); err != nil {
			return err
		}
		buy := models.Transaction{HoldingID: h.ID, Side: models.Buy, Quantity: 10, Price: decimal.NewFromInt(2500), TradeDate: day}
		if err := tx.InsertTransaction(ctx, &buy); err != nil {
			return err
		}
		txnID = buy.ID
		e := models.LedgerEntry{OwnerID: owner, Kind: models.TradeDebit, Amount: buy.Amount(), EntryDate: day, Reference: &buy.ID}
		if err := tx.InsertLedgerEntry(ctx, &e); err != nil {
			return err
		}
		return tx.UpsertClosePrice(ctx, h.ID, day, decimal.NewFromInt(2550))
	})
	require.NoError(t, err)

	err = r.View(ctx, func(tx Tx) error {
		got, err := tx.GetTransaction(ctx, txnID)
		require.NoError(t, err)
		assert.Equal(t, models.Buy, got.Side)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(2500)))
		assert.False(t, got.RealizedPnL.Valid)
		assert.True(t, got.TradeDate.Equal(day))

		entries, err := tx.ListLedgerEntries(ctx, owner)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].Reference)
		assert.Equal(t, txnID, *entries[0].Reference)

		owners, err := tx.ListOwners(ctx)
		require.NoError(t, err)
		assert.Contains(t, owners, owner)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresRollbackLeavesNoRows(t *testing.T) {
	db, r := setupDB(t)
	ctx := context.Background()
	owner := fmt.Sprintf("it-rollback-%d", time.Now().UnixNano())
	cleanupOwner(t, db, owner)
	defer cleanupOwner(t, db, owner)

	boom := errors.New("abort")
	err := r.Update(ctx, owner, func(tx Tx) error {
		h := models.Holding{OwnerID: owner, Symbol: "TCS", Exchange: "NSE"}
		if err := tx.CreateHolding(ctx, &h); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.Get(&n, `SELECT count(*) FROM holdings WHERE owner_id = $1`, owner))
	assert.Equal(t, 0, n)
}

func TestPostgresLatestClosePrices(t *testing.T) {
	db, r := setupDB(t)
	ctx := context.Background()
	owner := fmt.Sprintf("it-prices-%d", time.Now().UnixNano())
	cleanupOwner(t, db, owner)
	defer cleanupOwner(t, db, owner)

	twoDaysAgo := models.Day(time.Now().UTC().AddDate(0, 0, -2))
	yesterday := models.Day(time.Now().UTC().AddDate(0, 0, -1))
	var hid int64
	err := r.Update(ctx, owner, func(tx Tx) error {
		h := models.Holding{OwnerID: owner, Symbol: "INFY", Exchange: "NSE"}
		if err := tx.CreateHolding(ctx, &h); err != nil {
			return err
		}
		hid = h.ID
		if err := tx.UpsertClosePrice(ctx, h.ID, twoDaysAgo, decimal.NewFromInt(1500)); err != nil {
			return err
		}
		if err := tx.UpsertClosePrice(ctx, h.ID, yesterday, decimal.NewFromInt(1490)); err != nil {
			return err
		}
		return tx.UpsertClosePrice(ctx, h.ID, yesterday, decimal.NewFromInt(1520))
	})
	require.NoError(t, err)

	err = r.View(ctx, func(tx Tx) error {
		closes, err := tx.ClosePrices(ctx, hid)
		require.NoError(t, err)
		require.Len(t, closes, 2)
		latest, err := tx.LatestClosePrices(ctx)
		require.NoError(t, err)
		for _, p := range latest {
			if p.HoldingID == hid {
				assert.True(t, p.Close.Equal(decimal.NewFromInt(1520)), p.Close.String())
				assert.True(t, p.Date.Equal(yesterday))
				return nil
			}
		}
		t.Fatalf("no latest close for holding %d", hid)
		return nil
	})
	require.NoError(t, err)
}
