package main

import (
	"testing"
	"time"

	"equityjournal/internal/engine"
	"equityjournal/internal/valuation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCapitalMarkdown(t *testing.T) {
	md := capitalMarkdown("alice", engine.CapitalSnapshot{
		Deposit:   decimal.NewFromInt(100000),
		Deployed:  decimal.NewFromInt(550),
		Available: decimal.NewFromInt(99450),
	}, "USD")
	assert.Contains(t, md, "# Capital for alice")
	assert.Contains(t, md, "$99,450.00")
}

func TestRollupMarkdown(t *testing.T) {
	fy := valuation.FinancialYearOf(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	md := rollupMarkdown("alice", fy, valuation.Rollup{}, "USD")
	assert.Contains(t, md, "FY2024-25")
	assert.Contains(t, md, "No sells")

	md = rollupMarkdown("alice", fy, valuation.Rollup{
		Total:     decimal.NewFromInt(60),
		ByHolding: []valuation.HoldingPnL{{Symbol: "ITC", Sells: 1, RealizedPnL: decimal.NewFromInt(60)}},
	}, "USD")
	assert.Contains(t, md, "| ITC | 1 | $60.00 |")
}

func TestSnapshotMarkdown(t *testing.T) {
	v := valuation.Valuation{
		Date:  time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC),
		Total: decimal.NewFromInt(26000),
		Holdings: []valuation.HoldingValue{
			{Symbol: "RELIANCE", Quantity: 10, Price: decimal.NewFromInt(2600), PriceSource: valuation.SourceClose, Value: decimal.NewFromInt(26000)},
		},
	}
	md := snapshotMarkdown("alice", v, decimal.NewFromInt(1000), "USD")
	assert.Contains(t, md, "2025-01-25")
	assert.Contains(t, md, "RELIANCE")
	assert.Contains(t, md, "Net worth: $27,000.00")
}

func TestParseAmount(t *testing.T) {
	d, err := parseAmount(" 1500.25 ")
	assert.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1500.25")))
	_, err = parseAmount("ten")
	assert.Error(t, err)
}
