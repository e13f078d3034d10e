package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

var errReadOnly = errors.New("write in read-only transaction")

type memState struct {
	holdings map[int64]models.Holding
	txns     map[int64]models.Transaction
	matches  map[int64]models.LotMatch
	ledger   map[int64]models.LedgerEntry
	settings map[string]string
	prices   map[int64]map[time.Time]decimal.Decimal
	seq      int64
}

func newMemState() *memState {
	return &memState{
		holdings: map[int64]models.Holding{},
		txns:     map[int64]models.Transaction{},
		matches:  map[int64]models.LotMatch{},
		ledger:   map[int64]models.LedgerEntry{},
		settings: map[string]string{},
		prices:   map[int64]map[time.Time]decimal.Decimal{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.seq = s.seq
	for k, v := range s.holdings {
		c.holdings[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.ledger {
		if v.Reference != nil {
			ref := *v.Reference
			v.Reference = &ref
		}
		c.ledger[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	for k, v := range s.prices {
		m := make(map[time.Time]decimal.Decimal, len(v))
		for d, p := range v {
			m[d] = p
		}
		c.prices[k] = m
	}
	return c
}

// Memory is an in-process Store. Update works on a copy of the state that is
// swapped in only when fn succeeds, so failed operations leave nothing behind.
type Memory struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{state: newMemState(), now: time.Now}
}

func (m *Memory) Update(ctx context.Context, ownerID string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{st: work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{st: m.state, now: m.now, readOnly: true})
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	st       *memState
	now      func() time.Time
	readOnly bool
}

func (t *memTx) next() int64 {
	t.st.seq++
	return t.st.seq
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) CreateHolding(_ context.Context, h *models.Holding) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, o := range t.st.holdings {
		if o.OwnerID == h.OwnerID && o.Symbol == h.Symbol {
			return fmt.Errorf("holding %s already exists for %s", h.Symbol, h.OwnerID)
		}
	}
	h.ID = t.next()
	h.CreatedAt = t.now()
	t.st.holdings[h.ID] = *h
	return nil
}

func (t *memTx) GetHolding(_ context.Context, id int64) (models.Holding, error) {
	h, ok := t.st.holdings[id]
	if !ok {
		return models.Holding{}, ErrNotFound
	}
	return h, nil
}

func (t *memTx) FindHolding(_ context.Context, ownerID, symbol string) (models.Holding, error) {
	for _, h := range t.st.holdings {
		if h.OwnerID == ownerID && h.Symbol == symbol {
			return h, nil
		}
	}
	return models.Holding{}, ErrNotFound
}

func (t *memTx) ListHoldings(_ context.Context, ownerID string) ([]models.Holding, error) {
	res := []models.Holding{}
	for _, h := range t.st.holdings {
		if h.OwnerID == ownerID {
			res = append(res, h)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res, nil
}

func (t *memTx) ListOwners(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, h := range t.st.holdings {
		seen[h.OwnerID] = true
	}
	for _, e := range t.st.ledger {
		seen[e.OwnerID] = true
	}
	res := make([]string, 0, len(seen))
	for o := range seen {
		res = append(res, o)
	}
	sort.Strings(res)
	return res, nil
}

func (t *memTx) DeleteHolding(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.holdings[id]; !ok {
		return ErrNotFound
	}
	for _, tx := range t.st.txns {
		if tx.HoldingID == id {
			return fmt.Errorf("holding %d still has transactions", id)
		}
	}
	if len(t.st.prices[id]) > 0 {
		return fmt.Errorf("holding %d still has prices", id)
	}
	delete(t.st.holdings, id)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, m *models.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.holdings[m.HoldingID]; !ok {
		return fmt.Errorf("holding %d does not exist", m.HoldingID)
	}
	m.ID = t.next()
	m.CreatedAt = t.now()
	m.TradeDate = models.Day(m.TradeDate)
	t.st.txns[m.ID] = *m
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id int64) (models.Transaction, error) {
	m, ok := t.st.txns[id]
	if !ok {
		return models.Transaction{}, ErrNotFound
	}
	return m, nil
}

func (t *memTx) SaveTransaction(_ context.Context, m models.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	old, ok := t.st.txns[m.ID]
	if !ok {
		return ErrNotFound
	}
	m.HoldingID, m.CreatedAt = old.HoldingID, old.CreatedAt
	m.TradeDate = models.Day(m.TradeDate)
	t.st.txns[m.ID] = m
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.txns[id]; !ok {
		return ErrNotFound
	}
	for _, lm := range t.st.matches {
		if lm.SellTransactionID == id || lm.BuyTransactionID == id {
			return fmt.Errorf("transaction %d still has lot matches", id)
		}
	}
	for _, e := range t.st.ledger {
		if e.Reference != nil && *e.Reference == id {
			return fmt.Errorf("transaction %d is still referenced by ledger entry %d", id, e.ID)
		}
	}
	delete(t.st.txns, id)
	return nil
}

func sortTransactions(res []models.Transaction) {
	sort.Slice(res, func(i, j int) bool { return res[i].Before(res[j]) })
}

func (t *memTx) ListTransactions(_ context.Context, holdingID int64) ([]models.Transaction, error) {
	res := []models.Transaction{}
	for _, m := range t.st.txns {
		if m.HoldingID == holdingID {
			res = append(res, m)
		}
	}
	sortTransactions(res)
	return res, nil
}

func (t *memTx) ListOwnerTransactions(_ context.Context, ownerID string) ([]models.Transaction, error) {
	res := []models.Transaction{}
	for _, m := range t.st.txns {
		if h, ok := t.st.holdings[m.HoldingID]; ok && h.OwnerID == ownerID {
			res = append(res, m)
		}
	}
	sortTransactions(res)
	return res, nil
}

func (t *memTx) InsertLotMatch(_ context.Context, m *models.LotMatch) error {
	if err := t.writable(); err != nil {
		return err
	}
	m.ID = t.next()
	t.st.matches[m.ID] = *m
	return nil
}

func (t *memTx) ListLotMatches(_ context.Context, transactionID int64) ([]models.LotMatch, error) {
	res := []models.LotMatch{}
	for _, m := range t.st.matches {
		if m.SellTransactionID == transactionID || m.BuyTransactionID == transactionID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *memTx) DeleteLotMatches(_ context.Context, transactionID int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	for id, m := range t.st.matches {
		if m.SellTransactionID == transactionID || m.BuyTransactionID == transactionID {
			delete(t.st.matches, id)
		}
	}
	return nil
}

func (t *memTx) DeleteHoldingLotMatches(_ context.Context, holdingID int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	for id, m := range t.st.matches {
		if t.st.txns[m.SellTransactionID].HoldingID == holdingID || t.st.txns[m.BuyTransactionID].HoldingID == holdingID {
			delete(t.st.matches, id)
		}
	}
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *models.LedgerEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("ledger amount must be positive, got %s", e.Amount)
	}
	e.ID = t.next()
	e.CreatedAt = t.now()
	e.EntryDate = models.Day(e.EntryDate)
	stored := *e
	if e.Reference != nil {
		ref := *e.Reference
		stored.Reference = &ref
	}
	t.st.ledger[e.ID] = stored
	return nil
}

func (t *memTx) ListLedgerEntries(_ context.Context, ownerID string) ([]models.LedgerEntry, error) {
	res := []models.LedgerEntry{}
	for _, e := range t.st.ledger {
		if e.OwnerID == ownerID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].EntryDate.Equal(res[j].EntryDate) {
			return res[i].EntryDate.Before(res[j].EntryDate)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (t *memTx) DeleteLedgerEntries(_ context.Context, ids []int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.st.ledger, id)
	}
	return nil
}

func (t *memTx) DetachLedgerEntries(_ context.Context, transactionIDs []int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	detach := map[int64]bool{}
	for _, id := range transactionIDs {
		detach[id] = true
	}
	for id, e := range t.st.ledger {
		if e.Reference != nil && detach[*e.Reference] {
			e.Reference = nil
			t.st.ledger[id] = e
		}
	}
	return nil
}

func (t *memTx) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := t.st.settings[key]
	return v, ok, nil
}

func (t *memTx) SetSetting(_ context.Context, key, value string) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.settings[key] = value
	return nil
}

func (t *memTx) UpsertClosePrice(_ context.Context, holdingID int64, date time.Time, price decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.holdings[holdingID]; !ok {
		return fmt.Errorf("holding %d does not exist", holdingID)
	}
	m, ok := t.st.prices[holdingID]
	if !ok {
		m = map[time.Time]decimal.Decimal{}
		t.st.prices[holdingID] = m
	}
	m[models.Day(date)] = price
	return nil
}

func (t *memTx) ClosePrices(_ context.Context, holdingID int64) ([]models.PricePoint, error) {
	res := []models.PricePoint{}
	for d, p := range t.st.prices[holdingID] {
		res = append(res, models.PricePoint{HoldingID: holdingID, Date: d, Close: p})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

func (t *memTx) LatestClosePrices(_ context.Context) ([]models.PricePoint, error) {
	res := []models.PricePoint{}
	for hid, m := range t.st.prices {
		var latest models.PricePoint
		found := false
		for d, p := range m {
			if !found || d.After(latest.Date) {
				latest = models.PricePoint{HoldingID: hid, Date: d, Close: p}
				found = true
			}
		}
		if found {
			res = append(res, latest)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].HoldingID < res[j].HoldingID })
	return res, nil
}

func (t *memTx) DeletePrices(_ context.Context, holdingID int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	delete(t.st.prices, holdingID)
	return nil
}
