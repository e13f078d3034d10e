package service

import (
	"context"
	"time"

	"equityjournal/internal/models"

	"github.com/sirupsen/logrus"
)

// CloseSource lists the most recent stored close of every holding.
type CloseSource interface {
	LatestCloses(ctx context.Context) ([]models.PricePoint, error)
}

type refreshRecorder interface {
	RecordQuoteRefresh(n int)
}

// QuoteRefresher copies stored closes into the quote cache.
type QuoteRefresher struct {
	source  CloseSource
	quotes  QuoteStore
	log     *logrus.Logger
	metrics refreshRecorder
}

func NewQuoteRefresher(source CloseSource, quotes QuoteStore, log *logrus.Logger) *QuoteRefresher {
	return &QuoteRefresher{source: source, quotes: quotes, log: log}
}

// WithMetrics counts every quote written.
func (r *QuoteRefresher) WithMetrics(m refreshRecorder) *QuoteRefresher {
	r.metrics = m
	return r
}

// RefreshOnce updates the cache and returns how many quotes were written.
func (r *QuoteRefresher) RefreshOnce(ctx context.Context) (int, error) {
	closes, err := r.source.LatestCloses(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range closes {
		q := Quote{HoldingID: c.HoldingID, Price: c.Close, AsOf: c.Date}
		if err := r.quotes.SetQuote(ctx, q); err != nil {
			r.log.Warnf("failed to cache quote for holding %d: %v", c.HoldingID, err)
			continue
		}
		n++
	}
	if r.metrics != nil {
		r.metrics.RecordQuoteRefresh(n)
	}
	return n, nil
}

func (r *QuoteRefresher) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.log.Info("quote refresher stopping")
				return
			case <-ticker.C:
				n, err := r.RefreshOnce(ctx)
				if err != nil {
					r.log.Warnf("failed to refresh quotes: %v", err)
					continue
				}
				r.log.Debugf("refreshed %d quotes", n)
			}
		}
	}()
}
