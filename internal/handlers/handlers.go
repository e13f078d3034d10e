package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/engine"
	"equityjournal/internal/models"
	"equityjournal/internal/monitoring"
	"equityjournal/internal/valuation"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	engine   *engine.Engine
	metrics  *monitoring.Metrics
	currency string
	log      *logrus.Logger
}

// NewHandler wires the engine to HTTP. metrics may be nil.
func NewHandler(e *engine.Engine, m *monitoring.Metrics, currency string, log *logrus.Logger) *Handler {
	if currency == "" {
		currency = "INR"
	}
	if log == nil {
		log = logrus.New()
	}
	return &Handler{engine: e, metrics: m, currency: currency, log: log}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/transactions", h.PostTransaction)
	r.GET("/transactions/:id", h.GetTransaction)
	r.PATCH("/transactions/:id", h.PatchTransaction)
	r.DELETE("/transactions/:id", h.DeleteTransaction)
	r.GET("/transactions/:id/lot-matches", h.GetLotMatches)

	r.GET("/holdings/:id/transactions", h.GetHoldingTransactions)
	r.DELETE("/holdings/:id", h.DeleteHolding)
	r.POST("/holdings/:id/closes", h.PostClosePrice)

	r.GET("/owners", h.GetOwners)
	r.GET("/owners/:owner/holdings", h.GetHoldings)
	r.GET("/owners/:owner/ledger", h.GetLedger)
	r.POST("/owners/:owner/ledger", h.PostLedgerEntry)
	r.GET("/owners/:owner/balance", h.GetBalance)
	r.GET("/owners/:owner/cash-flow", h.GetCashFlow)
	r.GET("/owners/:owner/capital", h.GetCapital)
	r.PUT("/owners/:owner/capital/baseline", h.PutBaseline)
	r.POST("/owners/:owner/reconcile", h.PostReconcile)
	r.GET("/owners/:owner/valuation", h.GetValuation)
	r.GET("/owners/:owner/valuation/series", h.GetValuationSeries)
	r.GET("/owners/:owner/rollup", h.GetRollup)
	r.GET("/owners/:owner/gain", h.GetGain)
}

type TransactionRequest struct {
	HoldingID         int64  `json:"holding_id"`
	OwnerID           string `json:"owner_id"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Exchange          string `json:"exchange"`
	Side              string `json:"side" binding:"required"`
	Quantity          int64  `json:"quantity" binding:"required"`
	Price             string `json:"price" binding:"required"`
	TradeDate         string `json:"trade_date" binding:"required"`
	InvestmentHorizon string `json:"investment_horizon"`
	TargetPrice       string `json:"target_price"`
	Thesis            string `json:"thesis"`
	RealizedPnL       string `json:"realized_pnl"`
	RealizedCostBasis string `json:"realized_cost_basis"`
}

// PatchRequest mirrors engine.TransactionPatch; absent fields are left alone.
// An empty target_price clears it.
type PatchRequest struct {
	Side              *string `json:"side"`
	Quantity          *int64  `json:"quantity"`
	Price             *string `json:"price"`
	TradeDate         *string `json:"trade_date"`
	InvestmentHorizon *string `json:"investment_horizon"`
	TargetPrice       *string `json:"target_price"`
	Thesis            *string `json:"thesis"`
}

type LedgerEntryRequest struct {
	Kind   string `json:"entry_type" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Date   string `json:"entry_date"`
	Note   string `json:"note"`
}

type ClosePriceRequest struct {
	Date  string `json:"date" binding:"required"`
	Close string `json:"close" binding:"required"`
}

type BaselineRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, apperr.InvalidArgument("invalid %s format: %q", field, s)
	}
	return d, nil
}

func parseDate(field, s string) (time.Time, error) {
	d, err := models.ParseDay(s)
	if err != nil {
		return time.Time{}, apperr.InvalidArgument("invalid %s, want YYYY-MM-DD: %q", field, s)
	}
	return d, nil
}

// queryDate reads an optional date query parameter.
func queryDate(c *gin.Context, key string, def time.Time) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return parseDate(key, v)
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func today() time.Time { return models.Day(time.Now().UTC()) }

func (r TransactionRequest) toEngine() (engine.NewTransaction, error) {
	in := engine.NewTransaction{
		HoldingID:         r.HoldingID,
		OwnerID:           r.OwnerID,
		Symbol:            r.Symbol,
		Name:              r.Name,
		Exchange:          r.Exchange,
		Quantity:          r.Quantity,
		InvestmentHorizon: r.InvestmentHorizon,
		Thesis:            r.Thesis,
	}
	var err error
	if in.Side, err = models.ParseSide(r.Side); err != nil {
		return in, apperr.InvalidArgument("%v", err)
	}
	if in.Price, err = parseDecimal("price", r.Price); err != nil {
		return in, err
	}
	if in.TradeDate, err = parseDate("trade_date", r.TradeDate); err != nil {
		return in, err
	}
	if r.TargetPrice != "" {
		tp, err := parseDecimal("target_price", r.TargetPrice)
		if err != nil {
			return in, err
		}
		in.TargetPrice = decimal.NewNullDecimal(tp)
	}
	if r.RealizedPnL != "" || r.RealizedCostBasis != "" {
		if r.RealizedPnL == "" || r.RealizedCostBasis == "" {
			return in, apperr.InvalidArgument("realized_pnl and realized_cost_basis must be given together")
		}
		pnl, err := parseDecimal("realized_pnl", r.RealizedPnL)
		if err != nil {
			return in, err
		}
		basis, err := parseDecimal("realized_cost_basis", r.RealizedCostBasis)
		if err != nil {
			return in, err
		}
		in.Realized = &engine.Realized{PnL: pnl, CostBasis: basis}
	}
	return in, nil
}

func (r PatchRequest) toEngine() (engine.TransactionPatch, error) {
	p := engine.TransactionPatch{
		Quantity:          r.Quantity,
		InvestmentHorizon: r.InvestmentHorizon,
		Thesis:            r.Thesis,
	}
	if r.Side != nil {
		side, err := models.ParseSide(*r.Side)
		if err != nil {
			return p, apperr.InvalidArgument("%v", err)
		}
		p.Side = &side
	}
	if r.Price != nil {
		price, err := parseDecimal("price", *r.Price)
		if err != nil {
			return p, err
		}
		p.Price = &price
	}
	if r.TradeDate != nil {
		d, err := parseDate("trade_date", *r.TradeDate)
		if err != nil {
			return p, err
		}
		p.TradeDate = &d
	}
	if r.TargetPrice != nil {
		var tp decimal.NullDecimal
		if *r.TargetPrice != "" {
			v, err := parseDecimal("target_price", *r.TargetPrice)
			if err != nil {
				return p, err
			}
			tp = decimal.NewNullDecimal(v)
		}
		p.TargetPrice = &tp
	}
	return p, nil
}

func (h *Handler) PostTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: %v", err)
		return
	}
	in, err := req.toEngine()
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.engine.AddTransaction(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordTrade(string(t.Side))
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.engine.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) PatchTransaction(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: %v", err)
		return
	}
	patch, err := req.toEngine()
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.engine.UpdateTransaction(c.Request.Context(), id, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTransaction(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.DeleteTransaction(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (h *Handler) GetLotMatches(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	matches, err := h.engine.ListLotMatches(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, matches)
}

func (h *Handler) GetHoldingTransactions(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	txns, err := h.engine.ListTransactions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (h *Handler) DeleteHolding(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.DeleteHolding(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (h *Handler) PostClosePrice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req ClosePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: %v", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	price, err := parseDecimal("close", req.Close)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.RecordClosePrice(c.Request.Context(), id, date, price); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.PricePoint{HoldingID: id, Date: date, Close: price})
}

func (h *Handler) GetOwners(c *gin.Context) {
	owners, err := h.engine.ListOwners(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owners": owners})
}

func (h *Handler) GetHoldings(c *gin.Context) {
	holdings, err := h.engine.ListHoldings(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, holdings)
}

func (h *Handler) GetLedger(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.badRequest(c, "invalid limit %q", v)
			return
		}
		limit = n
	}
	entries, err := h.engine.ListEntries(c.Request.Context(), c.Param("owner"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// PostLedgerEntry records a manual deposit or withdrawal. Withdrawals may not
// overdraw the ledger.
func (h *Handler) PostLedgerEntry(c *gin.Context) {
	var req LedgerEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: %v", err)
		return
	}
	kind := models.ParseEntryKind(req.Kind)
	if _, ok := kind.Sign(); !ok {
		h.fail(c, apperr.UnsupportedEntryKind(req.Kind))
		return
	}
	if !kind.External() {
		h.badRequest(c, "%s entries are managed by the ledger", kind)
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		if date, err = parseDate("entry_date", req.Date); err != nil {
			h.fail(c, err)
			return
		}
	}
	entry, err := h.engine.AddEntry(c.Request.Context(), engine.NewEntry{
		OwnerID:        c.Param("owner"),
		Kind:           kind,
		Amount:         amount,
		Date:           date,
		Note:           req.Note,
		EnforceBalance: kind == models.Withdrawal,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordLedgerEntry(string(kind))
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) GetBalance(c *gin.Context) {
	owner := c.Param("owner")
	var (
		bal decimal.Decimal
		err error
	)
	asOf := c.Query("as_of")
	if asOf == "" {
		bal, err = h.engine.Balance(c.Request.Context(), owner)
	} else {
		var d time.Time
		if d, err = parseDate("as_of", asOf); err == nil {
			bal, err = h.engine.BalanceAsOf(c.Request.Context(), owner, d)
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner_id": owner,
		"as_of":    asOf,
		"balance":  bal.StringFixed(2),
		"display":  models.FormatMoney(bal, h.currency),
	})
}

func (h *Handler) GetCashFlow(c *gin.Context) {
	owner := c.Param("owner")
	to, err := queryDate(c, "to", today())
	if err != nil {
		h.fail(c, err)
		return
	}
	from, err := queryDate(c, "from", to.AddDate(0, 0, -7))
	if err != nil {
		h.fail(c, err)
		return
	}
	flow, err := h.engine.ExternalCashFlow(c.Request.Context(), owner, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner_id":               owner,
		"from":                   from.Format(models.DateFormat),
		"to":                     to.Format(models.DateFormat),
		"net_external_cash_flow": flow.StringFixed(2),
	})
}

func (h *Handler) GetCapital(c *gin.Context) {
	snap, err := h.engine.CapitalSnapshot(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) PutBaseline(c *gin.Context) {
	var req BaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: %v", err)
		return
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.SetDepositBaseline(c.Request.Context(), c.Param("owner"), amount); err != nil {
		h.fail(c, err)
		return
	}
	h.GetCapital(c)
}

func (h *Handler) PostReconcile(c *gin.Context) {
	rep, err := h.engine.Reconcile(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordReconcile(rep.Removed, rep.Added)
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) GetValuation(c *gin.Context) {
	date, err := queryDate(c, "as_of", today())
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := h.engine.ValueAsOf(c.Request.Context(), c.Param("owner"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) GetValuationSeries(c *gin.Context) {
	pts, err := h.engine.ValueSeries(c.Request.Context(), c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pts)
}

// GetRollup reports realized P&L for ?fy=<start year>, an explicit
// ?start=&end= window, or the current financial year.
func (h *Handler) GetRollup(c *gin.Context) {
	fy := valuation.FinancialYearOf(today())
	if v := c.Query("fy"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1900 {
			h.badRequest(c, "invalid fy %q", v)
			return
		}
		fy = valuation.FinancialYearOf(time.Date(year, time.April, 1, 0, 0, 0, 0, time.UTC))
	}
	start, err := queryDate(c, "start", fy.Start)
	if err != nil {
		h.fail(c, err)
		return
	}
	end, err := queryDate(c, "end", fy.End)
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.engine.FinancialYearRollup(c.Request.Context(), c.Param("owner"), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) GetGain(c *gin.Context) {
	to, err := queryDate(c, "to", today())
	if err != nil {
		h.fail(c, err)
		return
	}
	from, err := queryDate(c, "from", to.AddDate(0, 0, -7))
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := h.engine.PeriodGain(c.Request.Context(), c.Param("owner"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
