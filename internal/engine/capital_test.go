package engine

import (
	"context"
	"testing"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapitalSnapshot(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	seedTrades(t, e)

	snap, err := e.CapitalSnapshot(ctx, owner)
	require.NoError(t, err)
	assert.True(t, snap.Deposit.Equal(dec("100000")))
	// 5 open at an average of 110
	assert.True(t, snap.Deployed.Equal(dec("550")), snap.Deployed.String())
	assert.True(t, snap.Available.Equal(dec("99450")))

	avail, err := e.AvailableCapital(ctx, owner)
	require.NoError(t, err)
	assert.True(t, avail.Equal(snap.Available))
}

func TestRaisedBaselineAlignsLedgerOnBuy(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.SetDepositBaseline(ctx, owner, dec("150000")))

	base, err := e.DepositBaseline(ctx, owner)
	require.NoError(t, err)
	assert.True(t, base.Equal(dec("150000")))

	mustAdd(t, e, trade(models.Buy, "TCS", 10, "100", "2025-01-05"))

	var aligned []models.LedgerEntry
	for _, en := range allEntries(t, store, owner) {
		if en.Kind == models.Deposit {
			aligned = append(aligned, en)
		}
	}
	require.Len(t, aligned, 1)
	assert.True(t, aligned[0].Amount.Equal(dec("50000")), aligned[0].Amount.String())
	assert.True(t, aligned[0].EntryDate.Equal(day("2025-01-05")))

	bal, err := e.Balance(ctx, owner)
	require.NoError(t, err)
	avail, err := e.AvailableCapital(ctx, owner)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("149000")), bal.String())
	assert.True(t, avail.Equal(bal))
}

func TestBuyWithinBaselineNeedsNoAlignment(t *testing.T) {
	e, store := newEngine(t)
	mustAdd(t, e, trade(models.Buy, "TCS", 10, "100", "2025-01-05"))
	for _, en := range allEntries(t, store, owner) {
		assert.NotEqual(t, models.Deposit, en.Kind)
	}
}

func TestSetDepositBaselineValidation(t *testing.T) {
	e, _ := newEngine(t)
	err := e.SetDepositBaseline(context.Background(), owner, dec("-1"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	err = e.SetDepositBaseline(context.Background(), "", dec("1"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestMalformedBaselineIsReportedAndKept(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, owner, func(tx database.Tx) error {
		return tx.SetSetting(ctx, baselineKey(owner), "lots")
	}))

	_, err := e.CapitalSnapshot(ctx, owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed deposit baseline")

	var raw string
	require.NoError(t, store.View(ctx, func(tx database.Tx) error {
		var err error
		raw, _, err = tx.GetSetting(ctx, baselineKey(owner))
		return err
	}))
	assert.Equal(t, "lots", raw)

	require.NoError(t, e.SetDepositBaseline(ctx, owner, dec("5000")))
	snap, err := e.CapitalSnapshot(ctx, owner)
	require.NoError(t, err)
	assert.True(t, snap.Deposit.Equal(dec("5000")))
}
