package models

import "strings"

type EntryKind string

const (
	InitialDeposit EntryKind = "INIT_DEPOSIT"
	Deposit        EntryKind = "DEPOSIT"
	Withdrawal     EntryKind = "WITHDRAWAL"
	TradeDebit     EntryKind = "BUY_DEBIT"
	TradeCredit    EntryKind = "SELL_CREDIT"
)

var entrySigns = map[EntryKind]int{
	InitialDeposit: 1,
	Deposit:        1,
	TradeCredit:    1,
	Withdrawal:     -1,
	TradeDebit:     -1,
}

// Sign reports +1 or -1 for a supported kind.
func (k EntryKind) Sign() (int, bool) {
	s, ok := entrySigns[k]
	return s, ok
}

// Derived kinds are owned by reconciliation; everything else was entered by a person.
func (k EntryKind) Derived() bool { return k == TradeDebit || k == TradeCredit }

// External kinds are the manual cash flows in and out of the portfolio.
func (k EntryKind) External() bool { return k == Deposit || k == Withdrawal }

// ParseEntryKind normalizes user input; it accepts both storage names and the
// spelled-out aliases (initial-deposit, trade-debit, ...).
func ParseEntryKind(s string) EntryKind {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "INITIAL_DEPOSIT":
		return InitialDeposit
	case "TRADE_DEBIT":
		return TradeDebit
	case "TRADE_CREDIT":
		return TradeCredit
	}
	return EntryKind(norm)
}
