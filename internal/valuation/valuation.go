package valuation

import (
	"sort"
	"time"

	"equityjournal/internal/fifo"
	"equityjournal/internal/models"

	"github.com/shopspring/decimal"
)

// Price sources reported per holding.
const (
	SourceClose   = "close"
	SourceQuote   = "quote"
	SourceAvgCost = "avg_cost"
)

// Position is everything needed to value one holding.
type Position struct {
	Holding      models.Holding
	Transactions []models.Transaction
	Closes       []models.PricePoint
	Quote        decimal.NullDecimal
}

type HoldingValue struct {
	HoldingID   int64           `json:"holding_id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	PriceSource string          `json:"price_source"`
	Value       decimal.Decimal `json:"value"`
}

type Valuation struct {
	Date     time.Time       `json:"date"`
	Total    decimal.Decimal `json:"total"`
	Holdings []HoldingValue  `json:"holdings"`
}

type Point struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// AverageBuyPrice is Σ(qty×price)/Σqty over all BUYs; ok is false without buys.
func AverageBuyPrice(txns []models.Transaction) (decimal.Decimal, bool) {
	var qty int64
	cost := decimal.Zero
	for _, t := range txns {
		if t.Side != models.Buy {
			continue
		}
		qty += t.Quantity
		cost = cost.Add(t.Amount())
	}
	if qty == 0 {
		return decimal.Zero, false
	}
	return cost.Div(decimal.NewFromInt(qty)), true
}

// DeployedCost is open quantity times average buy price, zero for closed positions.
func DeployedCost(txns []models.Transaction) decimal.Decimal {
	qty := fifo.NetQuantity(txns)
	if qty <= 0 {
		return decimal.Zero
	}
	avg, ok := AverageBuyPrice(txns)
	if !ok {
		return decimal.Zero
	}
	return avg.Mul(decimal.NewFromInt(qty))
}

func sortedCloses(closes []models.PricePoint) []models.PricePoint {
	out := make([]models.PricePoint, len(closes))
	copy(out, closes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// cursor walks one position forward in time; each transaction and close is visited once.
type cursor struct {
	pos    Position
	txns   []models.Transaction
	closes []models.PricePoint
	ti, ci int
	qty    int64
	close  decimal.NullDecimal
	avg    decimal.Decimal
	hasAvg bool
}

func newCursor(p Position) *cursor {
	c := &cursor{pos: p, txns: fifo.Sorted(p.Transactions), closes: sortedCloses(p.Closes)}
	c.avg, c.hasAvg = AverageBuyPrice(p.Transactions)
	return c
}

func (c *cursor) advance(date time.Time) {
	for c.ti < len(c.txns) && !c.txns[c.ti].TradeDate.After(date) {
		t := c.txns[c.ti]
		if t.Side == models.Buy {
			c.qty += t.Quantity
		} else if t.Side == models.Sell {
			c.qty -= t.Quantity
		}
		c.ti++
	}
	for c.ci < len(c.closes) && !c.closes[c.ci].Date.After(date) {
		c.close = decimal.NewNullDecimal(c.closes[c.ci].Close)
		c.ci++
	}
}

func (c *cursor) value() (HoldingValue, bool) {
	if c.qty <= 0 {
		return HoldingValue{}, false
	}
	hv := HoldingValue{HoldingID: c.pos.Holding.ID, Symbol: c.pos.Holding.Symbol, Quantity: c.qty}
	switch {
	case c.close.Valid:
		hv.Price, hv.PriceSource = c.close.Decimal, SourceClose
	case c.pos.Quote.Valid:
		hv.Price, hv.PriceSource = c.pos.Quote.Decimal, SourceQuote
	case c.hasAvg:
		hv.Price, hv.PriceSource = c.avg, SourceAvgCost
	default:
		hv.Price, hv.PriceSource = decimal.Zero, SourceAvgCost
	}
	hv.Value = hv.Price.Mul(decimal.NewFromInt(c.qty))
	return hv, true
}

// AsOf values positions on date: quantity from trades dated on or before it,
// priced with the latest close on or before it, then the quote, then average cost.
func AsOf(positions []Position, date time.Time) Valuation {
	date = models.Day(date)
	v := Valuation{Date: date, Total: decimal.Zero, Holdings: []HoldingValue{}}
	for _, p := range positions {
		c := newCursor(p)
		c.advance(date)
		if hv, ok := c.value(); ok {
			v.Holdings = append(v.Holdings, hv)
			v.Total = v.Total.Add(hv.Value)
		}
	}
	sort.SliceStable(v.Holdings, func(i, j int) bool { return v.Holdings[i].Symbol < v.Holdings[j].Symbol })
	return v
}

// Series values positions on every date that has at least one close observation.
func Series(positions []Position) []Point {
	seen := map[time.Time]bool{}
	var dates []time.Time
	for _, p := range positions {
		for _, pp := range p.Closes {
			d := models.Day(pp.Date)
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	cursors := make([]*cursor, len(positions))
	for i, p := range positions {
		cursors[i] = newCursor(p)
	}
	points := make([]Point, 0, len(dates))
	for _, d := range dates {
		total := decimal.Zero
		for _, c := range cursors {
			c.advance(d)
			if hv, ok := c.value(); ok {
				total = total.Add(hv.Value)
			}
		}
		points = append(points, Point{Date: d, Value: total})
	}
	return points
}
