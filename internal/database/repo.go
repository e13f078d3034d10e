package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"equityjournal/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

// Repo is the Postgres Store.
type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// Migrate creates missing tables and indexes.
func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Update(ctx context.Context, ownerID string, fn func(Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	// Same-owner writers queue here; other owners hash to other locks.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		r.rollback(tx)
		return err
	}
	if err := fn(&pgTx{tx: tx, log: r.log}); err != nil {
		r.rollback(tx)
		return err
	}
	return tx.Commit()
}

func (r *Repo) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&pgTx{tx: tx, log: r.log}); err != nil {
		r.rollback(tx)
		return err
	}
	return tx.Commit()
}

func (r *Repo) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.log.Warnf("rollback failed: %v", err)
	}
}

type pgTx struct {
	tx  *sqlx.Tx
	log *logrus.Logger
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const holdingColumns = `id, owner_id, symbol, name, exchange, created_at`

func (t *pgTx) CreateHolding(ctx context.Context, h *models.Holding) error {
	q := `INSERT INTO holdings (owner_id, symbol, name, exchange, created_at) VALUES ($1, $2, $3, $4, now()) RETURNING id, created_at`
	if err := t.tx.QueryRowContext(ctx, q, h.OwnerID, h.Symbol, h.Name, h.Exchange).Scan(&h.ID, &h.CreatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("holding %s already exists for %s: %w", h.Symbol, h.OwnerID, err)
		}
		return err
	}
	return nil
}

func (t *pgTx) GetHolding(ctx context.Context, id int64) (models.Holding, error) {
	var h models.Holding
	err := t.tx.GetContext(ctx, &h, `SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id)
	return h, notFound(err)
}

func (t *pgTx) FindHolding(ctx context.Context, ownerID, symbol string) (models.Holding, error) {
	var h models.Holding
	err := t.tx.GetContext(ctx, &h, `SELECT `+holdingColumns+` FROM holdings WHERE owner_id = $1 AND symbol = $2`, ownerID, symbol)
	return h, notFound(err)
}

func (t *pgTx) ListHoldings(ctx context.Context, ownerID string) ([]models.Holding, error) {
	res := []models.Holding{}
	err := t.tx.SelectContext(ctx, &res, `SELECT `+holdingColumns+` FROM holdings WHERE owner_id = $1 ORDER BY symbol`, ownerID)
	return res, err
}

func (t *pgTx) ListOwners(ctx context.Context) ([]string, error) {
	res := []string{}
	err := t.tx.SelectContext(ctx, &res, `SELECT owner_id FROM holdings UNION SELECT owner_id FROM cash_ledger ORDER BY 1`)
	return res, err
}

func (t *pgTx) DeleteHolding(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM holdings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

const txnColumns = `id, holding_id, side, quantity, price, trade_date, investment_horizon, target_price, thesis, realized_pnl, realized_cost_basis, match_method, created_at`

func (t *pgTx) InsertTransaction(ctx context.Context, m *models.Transaction) error {
	q := `INSERT INTO transactions (holding_id, side, quantity, price, trade_date, investment_horizon, target_price, thesis, realized_pnl, realized_cost_basis, match_method, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id, created_at`
	return t.tx.QueryRowContext(ctx, q,
		m.HoldingID, string(m.Side), m.Quantity, m.Price.String(), m.TradeDate,
		m.InvestmentHorizon, m.TargetPrice, m.Thesis, m.RealizedPnL, m.RealizedCostBasis, m.MatchMethod,
	).Scan(&m.ID, &m.CreatedAt)
}

func (t *pgTx) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	var m models.Transaction
	err := t.tx.GetContext(ctx, &m, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	return m, notFound(err)
}

func (t *pgTx) SaveTransaction(ctx context.Context, m models.Transaction) error {
	q := `UPDATE transactions SET side = $1, quantity = $2, price = $3::numeric, trade_date = $4, investment_horizon = $5,
		target_price = $6, thesis = $7, realized_pnl = $8, realized_cost_basis = $9, match_method = $10 WHERE id = $11`
	res, err := t.tx.ExecContext(ctx, q,
		string(m.Side), m.Quantity, m.Price.String(), m.TradeDate, m.InvestmentHorizon,
		m.TargetPrice, m.Thesis, m.RealizedPnL, m.RealizedCostBasis, m.MatchMethod, m.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) ListTransactions(ctx context.Context, holdingID int64) ([]models.Transaction, error) {
	res := []models.Transaction{}
	err := t.tx.SelectContext(ctx, &res, `SELECT `+txnColumns+` FROM transactions WHERE holding_id = $1 ORDER BY trade_date ASC, id ASC`, holdingID)
	return res, err
}

func (t *pgTx) ListOwnerTransactions(ctx context.Context, ownerID string) ([]models.Transaction, error) {
	res := []models.Transaction{}
	q := `SELECT t.id, t.holding_id, t.side, t.quantity, t.price, t.trade_date, t.investment_horizon, t.target_price, t.thesis,
			t.realized_pnl, t.realized_cost_basis, t.match_method, t.created_at
		FROM transactions t JOIN holdings h ON h.id = t.holding_id
		WHERE h.owner_id = $1 ORDER BY t.trade_date ASC, t.id ASC`
	err := t.tx.SelectContext(ctx, &res, q, ownerID)
	return res, err
}

func (t *pgTx) InsertLotMatch(ctx context.Context, m *models.LotMatch) error {
	q := `INSERT INTO lot_matches (sell_transaction_id, buy_transaction_id, quantity, buy_price, sell_price, realized_pnl)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric) RETURNING id`
	return t.tx.QueryRowContext(ctx, q, m.SellTransactionID, m.BuyTransactionID, m.Quantity,
		m.BuyPrice.String(), m.SellPrice.String(), m.RealizedPnL.String()).Scan(&m.ID)
}

func (t *pgTx) ListLotMatches(ctx context.Context, transactionID int64) ([]models.LotMatch, error) {
	res := []models.LotMatch{}
	err := t.tx.SelectContext(ctx, &res, `SELECT id, sell_transaction_id, buy_transaction_id, quantity, buy_price, sell_price, realized_pnl
		FROM lot_matches WHERE sell_transaction_id = $1 OR buy_transaction_id = $1 ORDER BY id`, transactionID)
	return res, err
}

func (t *pgTx) DeleteLotMatches(ctx context.Context, transactionID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM lot_matches WHERE sell_transaction_id = $1 OR buy_transaction_id = $1`, transactionID)
	return err
}

func (t *pgTx) DeleteHoldingLotMatches(ctx context.Context, holdingID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM lot_matches WHERE sell_transaction_id IN (SELECT id FROM transactions WHERE holding_id = $1)
		OR buy_transaction_id IN (SELECT id FROM transactions WHERE holding_id = $1)`, holdingID)
	return err
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	q := `INSERT INTO cash_ledger (owner_id, entry_type, amount, entry_date, note, reference_transaction_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, now()) RETURNING id, created_at`
	return t.tx.QueryRowContext(ctx, q, e.OwnerID, string(e.Kind), e.Amount.String(), e.EntryDate, e.Note, e.Reference).
		Scan(&e.ID, &e.CreatedAt)
}

func (t *pgTx) ListLedgerEntries(ctx context.Context, ownerID string) ([]models.LedgerEntry, error) {
	res := []models.LedgerEntry{}
	err := t.tx.SelectContext(ctx, &res, `SELECT id, owner_id, entry_type, amount, entry_date, note, reference_transaction_id, created_at
		FROM cash_ledger WHERE owner_id = $1 ORDER BY entry_date ASC, id ASC`, ownerID)
	return res, err
}

func (t *pgTx) DeleteLedgerEntries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cash_ledger WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (t *pgTx) DetachLedgerEntries(ctx context.Context, transactionIDs []int64) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE cash_ledger SET reference_transaction_id = NULL WHERE reference_transaction_id = ANY($1)`, pq.Array(transactionIDs))
	return err
}

func (t *pgTx) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := t.tx.GetContext(ctx, &v, `SELECT value FROM app_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, v.Valid, nil
}

func (t *pgTx) SetSetting(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (t *pgTx) UpsertClosePrice(ctx context.Context, holdingID int64, date time.Time, price decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO price_history (holding_id, trade_date, close) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (holding_id, trade_date) DO UPDATE SET close = EXCLUDED.close`, holdingID, models.Day(date), price.StringFixed(4))
	return err
}

func (t *pgTx) ClosePrices(ctx context.Context, holdingID int64) ([]models.PricePoint, error) {
	res := []models.PricePoint{}
	err := t.tx.SelectContext(ctx, &res, `SELECT holding_id, trade_date, close FROM price_history WHERE holding_id = $1 ORDER BY trade_date ASC`, holdingID)
	return res, err
}

func (t *pgTx) LatestClosePrices(ctx context.Context) ([]models.PricePoint, error) {
	res := []models.PricePoint{}
	err := t.tx.SelectContext(ctx, &res, `SELECT DISTINCT ON (holding_id) holding_id, trade_date, close FROM price_history ORDER BY holding_id, trade_date DESC`)
	return res, err
}

func (t *pgTx) DeletePrices(ctx context.Context, holdingID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM price_history WHERE holding_id = $1`, holdingID)
	return err
}
