// Package engine is the portfolio ledger: transaction bookkeeping with FIFO
// settlement, the cash ledger, the capital model and reconciliation. Every
// mutation runs inside one database.Store unit of work.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/database"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// QuoteSource supplies the last cached quote of a holding.
type QuoteSource interface {
	LatestPrice(ctx context.Context, holdingID int64) (decimal.Decimal, bool, error)
}

type Config struct {
	// InitialCredit seeds a new ledger and is the floor of the initial deposit total.
	InitialCredit decimal.Decimal
	// DefaultDeposit is the deposit baseline of an owner who never set one.
	DefaultDeposit decimal.Decimal
}

type Engine struct {
	store  database.Store
	quotes QuoteSource
	cfg    Config
	log    *logrus.Logger
	now    func() time.Time
}

// New builds an engine. quotes may be nil.
func New(store database.Store, quotes QuoteSource, cfg Config, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{store: store, quotes: quotes, cfg: cfg, log: log, now: time.Now}
}

func (e *Engine) today() time.Time {
	return models.Day(e.now().UTC())
}

func notFound(what string, id interface{}, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NotFound(what, id)
	}
	return err
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return apperr.InvalidArgument("owner id is required")
	}
	return nil
}

// OwnerOfTransaction resolves the owner of a transaction.
func (e *Engine) OwnerOfTransaction(ctx context.Context, id int64) (string, error) {
	var owner string
	err := e.store.View(ctx, func(tx database.Tx) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return notFound("transaction", id, err)
		}
		h, err := tx.GetHolding(ctx, t.HoldingID)
		if err != nil {
			return notFound("holding", t.HoldingID, err)
		}
		owner = h.OwnerID
		return nil
	})
	return owner, err
}

// OwnerOfHolding resolves the owner of a holding.
func (e *Engine) OwnerOfHolding(ctx context.Context, id int64) (string, error) {
	var owner string
	err := e.store.View(ctx, func(tx database.Tx) error {
		h, err := tx.GetHolding(ctx, id)
		if err != nil {
			return notFound("holding", id, err)
		}
		owner = h.OwnerID
		return nil
	})
	return owner, err
}

// ListOwners returns every owner with a holding or a ledger entry.
func (e *Engine) ListOwners(ctx context.Context) ([]string, error) {
	var owners []string
	err := e.store.View(ctx, func(tx database.Tx) error {
		var err error
		owners, err = tx.ListOwners(ctx)
		return err
	})
	return owners, err
}

func symbolsByHolding(ctx context.Context, tx database.Tx, ownerID string) (map[int64]string, error) {
	holdings, err := tx.ListHoldings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(holdings))
	for _, h := range holdings {
		out[h.ID] = h.Symbol
	}
	return out, nil
}

func groupByHolding(txns []models.Transaction) map[int64][]models.Transaction {
	out := map[int64][]models.Transaction{}
	for _, t := range txns {
		out[t.HoldingID] = append(out[t.HoldingID], t)
	}
	return out
}
