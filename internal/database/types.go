package database

import (
	"context"
	"errors"
	"time"

	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Tx lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store hands out units of work over the ledger tables.
type Store interface {
	// Update runs fn in a read-write transaction. Writers for the same owner are
	// serialized. The transaction commits when fn returns nil and rolls back
	// otherwise; fn's error is returned as is.
	Update(ctx context.Context, ownerID string, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the set of statements available inside a unit of work.
type Tx interface {
	CreateHolding(ctx context.Context, h *models.Holding) error
	GetHolding(ctx context.Context, id int64) (models.Holding, error)
	FindHolding(ctx context.Context, ownerID, symbol string) (models.Holding, error)
	ListHoldings(ctx context.Context, ownerID string) ([]models.Holding, error)
	ListOwners(ctx context.Context) ([]string, error)
	DeleteHolding(ctx context.Context, id int64) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (models.Transaction, error)
	SaveTransaction(ctx context.Context, t models.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	// ListTransactions is ordered by trade date, then id.
	ListTransactions(ctx context.Context, holdingID int64) ([]models.Transaction, error)
	ListOwnerTransactions(ctx context.Context, ownerID string) ([]models.Transaction, error)

	InsertLotMatch(ctx context.Context, m *models.LotMatch) error
	// ListLotMatches returns matches where the transaction is either side.
	ListLotMatches(ctx context.Context, transactionID int64) ([]models.LotMatch, error)
	DeleteLotMatches(ctx context.Context, transactionID int64) error
	DeleteHoldingLotMatches(ctx context.Context, holdingID int64) error

	InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
	// ListLedgerEntries is ordered by entry date, then id.
	ListLedgerEntries(ctx context.Context, ownerID string) ([]models.LedgerEntry, error)
	DeleteLedgerEntries(ctx context.Context, ids []int64) error
	// DetachLedgerEntries clears references to the given transactions.
	DetachLedgerEntries(ctx context.Context, transactionIDs []int64) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	UpsertClosePrice(ctx context.Context, holdingID int64, date time.Time, price decimal.Decimal) error
	// ClosePrices is ordered by date.
	ClosePrices(ctx context.Context, holdingID int64) ([]models.PricePoint, error)
	LatestClosePrices(ctx context.Context) ([]models.PricePoint, error)
	DeletePrices(ctx context.Context, holdingID int64) error
}
