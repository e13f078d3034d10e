package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

func main() {
	if v := os.Getenv("E2E_BASE_URL"); v != "" {
		baseURL = v
	}
	// Wait for server to start
	time.Sleep(2 * time.Second)

	// 1. Health Check
	checkEndpoint("GET", "/health", nil, 200)

	owner := fmt.Sprintf("e2e-user-%d", time.Now().UnixNano())

	// 2. Buy two lots, then sell across them
	buy := map[string]interface{}{
		"owner_id": owner, "symbol": "INFY", "side": "BUY",
		"quantity": 10, "price": "1500", "trade_date": "2025-01-02",
	}
	first := checkEndpoint("POST", "/transactions", buy, 201)
	holdingID := int64(first["holding_id"].(float64))
	buy["price"], buy["trade_date"] = "1600", "2025-01-03"
	checkEndpoint("POST", "/transactions", buy, 201)

	sell := checkEndpoint("POST", "/transactions", map[string]interface{}{
		"owner_id": owner, "symbol": "INFY", "side": "SELL",
		"quantity": 15, "price": "1700", "trade_date": "2025-01-06",
	}, 201)
	expect(sell["realized_pnl"] == "2500", "realized pnl %v, want 2500", sell["realized_pnl"])
	sellID := int64(sell["id"].(float64))

	// 3. Overselling is rejected
	checkEndpoint("POST", "/transactions", map[string]interface{}{
		"owner_id": owner, "symbol": "INFY", "side": "SELL",
		"quantity": 6, "price": "1700", "trade_date": "2025-01-07",
	}, 422)

	// 4. Ledger, capital and valuation reads
	checkEndpoint("GET", fmt.Sprintf("/transactions/%d/lot-matches", sellID), nil, 200)
	checkEndpoint("GET", "/owners/"+owner+"/ledger", nil, 200)
	checkEndpoint("GET", "/owners/"+owner+"/balance", nil, 200)
	checkEndpoint("GET", "/owners/"+owner+"/capital", nil, 200)
	checkEndpoint("POST", fmt.Sprintf("/holdings/%d/closes", holdingID), map[string]string{"date": "2025-01-06", "close": "1700"}, 201)
	checkEndpoint("GET", "/owners/"+owner+"/valuation?as_of=2025-01-10", nil, 200)
	checkEndpoint("GET", "/owners/"+owner+"/rollup?fy=2024", nil, 200)

	// 5. Deleting the sell restores the cash and reconciles
	checkEndpoint("DELETE", fmt.Sprintf("/transactions/%d", sellID), nil, 200)
	rep := checkEndpoint("POST", "/owners/"+owner+"/reconcile", nil, 200)
	expect(rep["removed"] == float64(0) && rep["added"] == float64(0), "ledger not reconciled after delete: %v", rep)

	// 6. Cleanup
	checkEndpoint("DELETE", fmt.Sprintf("/holdings/%d", holdingID), nil, 200)

	fmt.Println("ALL TESTS PASSED")
}

func expect(ok bool, format string, args ...interface{}) {
	if !ok {
		log.Fatalf(format, args...)
	}
}

func checkEndpoint(method, path string, body interface{}, expectedStatus int) map[string]interface{} {
	fmt.Printf("Testing %s %s...\n", method, path)
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, baseURL+path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		log.Fatalf("Expected status %d, got %d. Body: %s", expectedStatus, resp.StatusCode, string(respBody))
	}
	fmt.Printf("Response: %s\n", string(respBody))

	var out map[string]interface{}
	_ = json.Unmarshal(respBody, &out)
	return out
}
