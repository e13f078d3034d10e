package valuation

import (
	"fmt"
	"sort"
	"time"

	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

// FinancialYear runs April 1 to March 31.
type FinancialYear struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// FinancialYearOf returns the financial year containing ref.
func FinancialYearOf(ref time.Time) FinancialYear {
	ref = models.Day(ref)
	startYear := ref.Year()
	if ref.Month() < time.April {
		startYear--
	}
	return FinancialYear{
		Start: time.Date(startYear, time.April, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(startYear+1, time.March, 31, 0, 0, 0, 0, time.UTC),
		Label: fmt.Sprintf("FY%d-%02d", startYear, (startYear+1)%100),
	}
}

type HoldingPnL struct {
	HoldingID   int64           `json:"holding_id"`
	Symbol      string          `json:"symbol"`
	Sells       int             `json:"sells"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

type Rollup struct {
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Total     decimal.Decimal `json:"total"`
	ByHolding []HoldingPnL    `json:"by_holding"`
}

// RealizedRollup sums realized P&L of SELLs dated within [start, end].
func RealizedRollup(positions []Position, start, end time.Time) Rollup {
	start, end = models.Day(start), models.Day(end)
	r := Rollup{Start: start, End: end, Total: decimal.Zero, ByHolding: []HoldingPnL{}}
	for _, p := range positions {
		hp := HoldingPnL{HoldingID: p.Holding.ID, Symbol: p.Holding.Symbol, RealizedPnL: decimal.Zero}
		for _, t := range p.Transactions {
			if t.Side != models.Sell || !t.RealizedPnL.Valid {
				continue
			}
			if t.TradeDate.Before(start) || t.TradeDate.After(end) {
				continue
			}
			hp.Sells++
			hp.RealizedPnL = hp.RealizedPnL.Add(t.RealizedPnL.Decimal)
		}
		if hp.Sells == 0 {
			continue
		}
		r.ByHolding = append(r.ByHolding, hp)
		r.Total = r.Total.Add(hp.RealizedPnL)
	}
	sort.SliceStable(r.ByHolding, func(i, j int) bool { return r.ByHolding[i].Symbol < r.ByHolding[j].Symbol })
	return r
}

// Gain is the change in holdings plus cash over a window, net of external cash flow.
type Gain struct {
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	StartHoldings   decimal.Decimal `json:"start_holdings"`
	StartCash       decimal.Decimal `json:"start_cash"`
	EndHoldings     decimal.Decimal `json:"end_holdings"`
	EndCash         decimal.Decimal `json:"end_cash"`
	NetExternalFlow decimal.Decimal `json:"net_external_cash_flow"`
	GainValue       decimal.Decimal `json:"gain_value"`
	GainPct         decimal.Decimal `json:"gain_pct"`
}

var hundred = decimal.NewFromInt(100)

// ComputeGain fills GainValue and GainPct from the other fields.
func ComputeGain(g Gain) Gain {
	start := g.StartHoldings.Add(g.StartCash)
	end := g.EndHoldings.Add(g.EndCash)
	g.GainValue = end.Sub(start).Sub(g.NetExternalFlow)
	denom := start.Add(g.NetExternalFlow)
	if denom.IsZero() {
		g.GainPct = decimal.Zero
	} else {
		g.GainPct = g.GainValue.Div(denom).Mul(hundred).Round(4)
	}
	return g
}
