package fifo

import (
	"errors"
	"testing"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := models.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tx(id int64, side models.Side, qty int64, price int64, date string) models.Transaction {
	return models.Transaction{ID: id, Side: side, Quantity: qty, Price: decimal.NewFromInt(price), TradeDate: day(date)}
}

func TestSettleOldestLotsFirst(t *testing.T) {
	history := []models.Transaction{
		tx(1, models.Buy, 10, 100, "2025-01-01"),
		tx(2, models.Buy, 10, 120, "2025-02-01"),
	}
	res, err := Settle(history, 15, decimal.NewFromInt(130))
	require.NoError(t, err)

	assert.True(t, res.CostBasis.Equal(decimal.NewFromInt(1600)), res.CostBasis.String())
	assert.True(t, res.RealizedPnL.Equal(decimal.NewFromInt(350)), res.RealizedPnL.String())
	require.Len(t, res.Matches, 2)
	assert.Equal(t, int64(1), res.Matches[0].BuyTransactionID)
	assert.Equal(t, int64(10), res.Matches[0].Quantity)
	assert.Equal(t, int64(2), res.Matches[1].BuyTransactionID)
	assert.Equal(t, int64(5), res.Matches[1].Quantity)
	assert.True(t, res.Matches[1].RealizedPnL.Equal(decimal.NewFromInt(50)))
}

func TestSettleReplaysPriorSells(t *testing.T) {
	history := []models.Transaction{
		tx(2, models.Buy, 10, 120, "2025-02-01"),
		tx(1, models.Buy, 10, 100, "2025-01-01"),
		tx(3, models.Sell, 12, 110, "2025-03-01"),
	}
	res, err := Settle(history, 8, decimal.NewFromInt(150))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, int64(2), res.Matches[0].BuyTransactionID)
	assert.True(t, res.CostBasis.Equal(decimal.NewFromInt(960)))
	assert.True(t, res.RealizedPnL.Equal(decimal.NewFromInt(240)))
}

func TestSettleSameDayTieBreakByID(t *testing.T) {
	history := []models.Transaction{
		tx(5, models.Buy, 1, 90, "2025-01-01"),
		tx(4, models.Buy, 1, 80, "2025-01-01"),
	}
	res, err := Settle(history, 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Matches[0].BuyTransactionID)
}

func TestSettleInsufficientHoldings(t *testing.T) {
	history := []models.Transaction{
		tx(1, models.Buy, 10, 100, "2025-01-01"),
		tx(2, models.Sell, 4, 100, "2025-01-05"),
	}
	_, err := Settle(history, 7, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientHoldings))
	assert.Equal(t, int64(6), Available(history))
}

func TestSettleRejectsBadInput(t *testing.T) {
	_, err := Settle(nil, 0, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	_, err = Settle(nil, 1, decimal.Zero)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestSettleDecimalPrecision(t *testing.T) {
	var history []models.Transaction
	for i := int64(1); i <= 1000; i++ {
		history = append(history, models.Transaction{
			ID: i, Side: models.Buy, Quantity: 1,
			Price: decimal.RequireFromString("0.1"), TradeDate: day("2025-01-01"),
		})
	}
	res, err := Settle(history, 1000, decimal.RequireFromString("0.3"))
	require.NoError(t, err)
	assert.Equal(t, "100", res.CostBasis.String())
	assert.Equal(t, "200", res.RealizedPnL.String())
}

func TestReplayChronological(t *testing.T) {
	history := []models.Transaction{
		tx(1, models.Buy, 10, 100, "2025-01-01"),
		tx(3, models.Sell, 5, 130, "2025-03-01"),
		tx(2, models.Buy, 10, 120, "2025-02-01"),
		tx(4, models.Sell, 10, 140, "2025-04-01"),
	}
	settled, err := Replay(history)
	require.NoError(t, err)
	require.Len(t, settled, 2)

	first := settled[0]
	assert.Equal(t, int64(3), first.Transaction.ID)
	assert.True(t, first.Result.CostBasis.Equal(decimal.NewFromInt(500)))

	second := settled[1]
	require.Len(t, second.Result.Matches, 2)
	// 5 left from lot 1 at 100, then 5 from lot 2 at 120.
	assert.True(t, second.Result.CostBasis.Equal(decimal.NewFromInt(1100)))
	assert.True(t, second.Result.RealizedPnL.Equal(decimal.NewFromInt(300)))
}

func TestReplayDetectsNegativeRunningQuantity(t *testing.T) {
	history := []models.Transaction{
		tx(1, models.Sell, 5, 100, "2025-01-01"),
		tx(2, models.Buy, 10, 90, "2025-02-01"),
	}
	_, err := Replay(history)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientHoldings))

	// Matching against the full history ignores the ordering problem.
	assert.Equal(t, int64(10), Available(history))
}

func TestNetQuantity(t *testing.T) {
	history := []models.Transaction{
		tx(1, models.Buy, 10, 100, "2025-01-01"),
		tx(2, models.Sell, 3, 100, "2025-01-02"),
	}
	assert.Equal(t, int64(7), NetQuantity(history))
}
