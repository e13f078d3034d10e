package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Quote is the last known price of a holding.
type Quote struct {
	HoldingID int64           `json:"holding_id"`
	Price     decimal.Decimal `json:"price"`
	AsOf      time.Time       `json:"as_of"`
}

// QuoteStore is the quote cache the valuation reads from.
type QuoteStore interface {
	LatestPrice(ctx context.Context, holdingID int64) (decimal.Decimal, bool, error)
	SetQuote(ctx context.Context, q Quote) error
}

// RedisQuotes keeps quotes in redis with a TTL.
type RedisQuotes struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisQuotes(client *redis.Client, ttl time.Duration) *RedisQuotes {
	return &RedisQuotes{client: client, ttl: ttl}
}

func quoteKey(holdingID int64) string {
	return fmt.Sprintf("quote:holding:%d", holdingID)
}

func (c *RedisQuotes) LatestPrice(ctx context.Context, holdingID int64) (decimal.Decimal, bool, error) {
	data, err := c.client.Get(ctx, quoteKey(holdingID)).Bytes()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return decimal.Zero, false, err
	}
	return q.Price, true, nil
}

func (c *RedisQuotes) SetQuote(ctx context.Context, q Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, quoteKey(q.HoldingID), data, c.ttl).Err()
}

// Invalidate drops the cached quote of a holding.
func (c *RedisQuotes) Invalidate(ctx context.Context, holdingID int64) error {
	return c.client.Del(ctx, quoteKey(holdingID)).Err()
}

// MemoryQuotes is a QuoteStore for single-process and test setups.
type MemoryQuotes struct {
	mu     sync.RWMutex
	quotes map[int64]Quote
}

func NewMemoryQuotes() *MemoryQuotes {
	return &MemoryQuotes{quotes: map[int64]Quote{}}
}

func (m *MemoryQuotes) LatestPrice(_ context.Context, holdingID int64) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[holdingID]
	return q.Price, ok, nil
}

func (m *MemoryQuotes) SetQuote(_ context.Context, q Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.HoldingID] = q
	return nil
}
