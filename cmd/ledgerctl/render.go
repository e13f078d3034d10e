package main

import (
	"fmt"
	"strings"

	"equityjournal/internal/engine"
	"equityjournal/internal/models"
	"equityjournal/internal/valuation"

	"github.com/shopspring/decimal"
)

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

func capitalMarkdown(owner string, snap engine.CapitalSnapshot, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Capital for %s\n\n", owner)
	b.WriteString("| | Amount |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Deposit baseline | %s |\n", models.FormatMoney(snap.Deposit, currency))
	fmt.Fprintf(&b, "| Deployed | %s |\n", models.FormatMoney(snap.Deployed, currency))
	fmt.Fprintf(&b, "| **Available** | **%s** |\n", models.FormatMoney(snap.Available, currency))
	return b.String()
}

func rollupMarkdown(owner string, fy valuation.FinancialYear, r valuation.Rollup, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s realized P&L for %s\n\n", fy.Label, owner)
	fmt.Fprintf(&b, "%s to %s\n\n", fy.Start.Format(models.DateFormat), fy.End.Format(models.DateFormat))
	if len(r.ByHolding) == 0 {
		b.WriteString("No sells in this period.\n")
		return b.String()
	}
	b.WriteString("| Symbol | Sells | Realized |\n|---|---:|---:|\n")
	for _, h := range r.ByHolding {
		fmt.Fprintf(&b, "| %s | %d | %s |\n", h.Symbol, h.Sells, models.FormatMoney(h.RealizedPnL, currency))
	}
	fmt.Fprintf(&b, "| **Total** | | **%s** |\n", models.FormatMoney(r.Total, currency))
	return b.String()
}

func snapshotMarkdown(owner string, v valuation.Valuation, cash decimal.Decimal, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s on %s\n\n", owner, v.Date.Format(models.DateFormat))
	if len(v.Holdings) > 0 {
		b.WriteString("| Symbol | Qty | Price | Source | Value |\n|---|---:|---:|---|---:|\n")
		for _, h := range v.Holdings {
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %s |\n",
				h.Symbol, h.Quantity, models.FormatMoney(h.Price, currency), h.PriceSource, models.FormatMoney(h.Value, currency))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- Holdings: %s\n", models.FormatMoney(v.Total, currency))
	fmt.Fprintf(&b, "- Cash: %s\n", models.FormatMoney(cash, currency))
	fmt.Fprintf(&b, "- **Net worth: %s**\n", models.FormatMoney(v.Total.Add(cash), currency))
	return b.String()
}
