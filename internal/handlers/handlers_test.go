package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"equityjournal/internal/database"
	"equityjournal/internal/engine"
	"equityjournal/internal/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	credit := decimal.NewFromInt(100000)
	e := engine.New(database.NewMemory(), nil, engine.Config{InitialCredit: credit, DefaultDeposit: credit}, log)
	h := NewHandler(e, monitoring.NewMetrics("test", prometheus.NewRegistry()), "INR", log)

	r := gin.New()
	r.Use(RequestID())
	h.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func trade(side string, qty int64, price, date string) map[string]interface{} {
	return map[string]interface{}{
		"owner_id":   "alice",
		"symbol":     "INFY",
		"side":       side,
		"quantity":   qty,
		"price":      price,
		"trade_date": date,
	}
}

func TestTradeLifecycle(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodPost, "/transactions", trade("buy", 10, "100", "2025-01-02"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	buy := decode(t, w)
	holdingID := int64(buy["holding_id"].(float64))

	w = do(t, r, http.MethodPost, "/transactions", trade("SELL", 5, "130", "2025-01-05"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sell := decode(t, w)
	assert.Equal(t, "150", sell["realized_pnl"])
	assert.Equal(t, "500", sell["realized_cost_basis"])
	assert.Equal(t, "FIFO", sell["match_method"])
	sellID := int64(sell["id"].(float64))

	w = do(t, r, http.MethodGet, "/transactions/"+itoa(sellID)+"/lot-matches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var matches []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, float64(5), matches[0]["quantity"])

	w = do(t, r, http.MethodGet, "/owners/alice/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// 100000 - 1000 + 650
	assert.Equal(t, "99650.00", decode(t, w)["balance"])

	w = do(t, r, http.MethodGet, "/owners/alice/holdings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var holdings []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, float64(5), holdings[0]["open_quantity"])

	w = do(t, r, http.MethodGet, "/holdings/"+itoa(holdingID)+"/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txns []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txns))
	assert.Len(t, txns, 2)

	w = do(t, r, http.MethodPatch, "/transactions/"+itoa(sellID), map[string]interface{}{"thesis": "trimmed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "trimmed", decode(t, w)["thesis"])

	w = do(t, r, http.MethodDelete, "/transactions/"+itoa(sellID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodGet, "/owners/alice/balance", nil)
	assert.Equal(t, "99000.00", decode(t, w)["balance"])

	w = do(t, r, http.MethodGet, "/owners/alice/rollup?fy=2024", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decode(t, w)["total"])
}

func TestErrorMapping(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/transactions", trade("BUY", 10, "100", "2025-01-02")).Code)

	w := do(t, r, http.MethodPost, "/transactions", trade("SELL", 11, "100", "2025-01-03"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INSUFFICIENT_HOLDINGS", body["error_code"])
	assert.NotEmpty(t, body["request_id"])
	assert.NotEmpty(t, body["timestamp"])

	w = do(t, r, http.MethodPost, "/transactions", trade("BUY", 1000, "200", "2025-01-03"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body = decode(t, w)
	assert.Equal(t, "INSUFFICIENT_AVAILABLE_CAPITAL", body["error_code"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "200000.00", details["required"])
	assert.NotEmpty(t, details["shortfall_display"])

	w = do(t, r, http.MethodPost, "/transactions", trade("HOLD", 1, "100", "2025-01-03"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/transactions", trade("BUY", 1, "abc", "2025-01-03"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/transactions", trade("BUY", 1, "10", "03/01/2025"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/transactions/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error_code"])
	w = do(t, r, http.MethodGet, "/transactions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/transactions/999", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
	assert.Equal(t, "req-42", decode(t, w)["request_id"])
}

func TestManualLedgerEntries(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodPost, "/owners/alice/ledger", map[string]string{"entry_type": "DEPOSIT", "amount": "2500", "entry_date": "2025-02-01", "note": "salary"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/owners/alice/ledger", map[string]string{"entry_type": "BUY_DEBIT", "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decode(t, w)["error_code"])

	w = do(t, r, http.MethodPost, "/owners/alice/ledger", map[string]string{"entry_type": "BONUS", "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_ENTRY_KIND", decode(t, w)["error_code"])

	w = do(t, r, http.MethodPost, "/owners/alice/ledger", map[string]string{"entry_type": "WITHDRAWAL", "amount": "1000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_CASH", decode(t, w)["error_code"])

	w = do(t, r, http.MethodGet, "/owners/alice/ledger?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "DEPOSIT", entries[0]["entry_type"])

	w = do(t, r, http.MethodGet, "/owners/alice/cash-flow?from=2025-01-31&to=2025-02-28", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2500.00", decode(t, w)["net_external_cash_flow"])

	w = do(t, r, http.MethodGet, "/owners/alice/balance?as_of=2025-02-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// seeded on the deposit date
	assert.Equal(t, "102500.00", decode(t, w)["balance"])
}

func TestCapitalEndpoints(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/transactions", trade("BUY", 10, "100", "2025-01-02")).Code)

	w := do(t, r, http.MethodGet, "/owners/alice/capital", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode(t, w)
	assert.Equal(t, "100000", snap["deposit"])
	assert.Equal(t, "1000", snap["deployed"])
	assert.Equal(t, "99000", snap["available"])

	w = do(t, r, http.MethodPut, "/owners/alice/capital/baseline", map[string]string{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/owners/alice/capital/baseline", map[string]string{"amount": "120000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "119000", decode(t, w)["available"])

	w = do(t, r, http.MethodPost, "/owners/alice/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["kept"])

	w = do(t, r, http.MethodGet, "/owners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"alice"}, decode(t, w)["owners"])
}

func TestClosesFeedValuation(t *testing.T) {
	r := newRouter(t)
	w := do(t, r, http.MethodPost, "/transactions", trade("BUY", 10, "100", "2025-01-02"))
	require.Equal(t, http.StatusCreated, w.Code)
	holdingID := int64(decode(t, w)["holding_id"].(float64))

	w = do(t, r, http.MethodPost, "/holdings/"+itoa(holdingID)+"/closes", map[string]string{"date": "2025-01-03", "close": "120"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/owners/alice/valuation?as_of=2025-01-10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1200", decode(t, w)["total"])

	w = do(t, r, http.MethodGet, "/owners/alice/valuation/series", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/owners/alice/gain?from=2025-01-02&to=2025-01-03", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "200", decode(t, w)["gain_value"])
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
