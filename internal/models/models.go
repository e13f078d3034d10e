package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the wire and display format of trade and entry dates.
const DateFormat = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("unknown side %q", s)
	}
	return side, nil
}

// Match methods recorded on SELL transactions.
const (
	MatchFIFO     = "FIFO"
	MatchProvided = "PROVIDED"
)

type Holding struct {
	ID        int64     `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Name      string    `db:"name" json:"name"`
	Exchange  string    `db:"exchange" json:"exchange"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Transaction struct {
	ID                int64               `db:"id" json:"id"`
	HoldingID         int64               `db:"holding_id" json:"holding_id"`
	Side              Side                `db:"side" json:"side"`
	Quantity          int64               `db:"quantity" json:"quantity"`
	Price             decimal.Decimal     `db:"price" json:"price"`
	TradeDate         time.Time           `db:"trade_date" json:"trade_date"`
	InvestmentHorizon string              `db:"investment_horizon" json:"investment_horizon"`
	TargetPrice       decimal.NullDecimal `db:"target_price" json:"target_price"`
	Thesis            string              `db:"thesis" json:"thesis"`
	RealizedPnL       decimal.NullDecimal `db:"realized_pnl" json:"realized_pnl"`
	RealizedCostBasis decimal.NullDecimal `db:"realized_cost_basis" json:"realized_cost_basis"`
	MatchMethod       string              `db:"match_method" json:"match_method"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}

// Amount is quantity times price.
func (t Transaction) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Before orders transactions by trade date, then insertion id.
func (t Transaction) Before(o Transaction) bool {
	if !t.TradeDate.Equal(o.TradeDate) {
		return t.TradeDate.Before(o.TradeDate)
	}
	return t.ID < o.ID
}

// LotMatch links one SELL to one BUY lot it consumed.
type LotMatch struct {
	ID                int64           `db:"id" json:"id"`
	SellTransactionID int64           `db:"sell_transaction_id" json:"sell_transaction_id"`
	BuyTransactionID  int64           `db:"buy_transaction_id" json:"buy_transaction_id"`
	Quantity          int64           `db:"quantity" json:"quantity"`
	BuyPrice          decimal.Decimal `db:"buy_price" json:"buy_price"`
	SellPrice         decimal.Decimal `db:"sell_price" json:"sell_price"`
	RealizedPnL       decimal.Decimal `db:"realized_pnl" json:"realized_pnl"`
}

type LedgerEntry struct {
	ID        int64           `db:"id" json:"id"`
	OwnerID   string          `db:"owner_id" json:"owner_id"`
	Kind      EntryKind       `db:"entry_type" json:"entry_type"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	EntryDate time.Time       `db:"entry_date" json:"entry_date"`
	Note      string          `db:"note" json:"note"`
	Reference *int64          `db:"reference_transaction_id" json:"reference_transaction_id,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Signed returns the amount with the sign of its kind; unsupported kinds count as zero.
func (e LedgerEntry) Signed() decimal.Decimal {
	sign, ok := e.Kind.Sign()
	if !ok {
		return decimal.Zero
	}
	if sign < 0 {
		return e.Amount.Neg()
	}
	return e.Amount
}

// PricePoint is one dated close observation.
type PricePoint struct {
	HoldingID int64           `db:"holding_id" json:"holding_id"`
	Date      time.Time       `db:"trade_date" json:"date"`
	Close     decimal.Decimal `db:"close" json:"close"`
}
