package quote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradeagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer serves canned column-oriented responses keyed by api_name.
func newTestServer(t *testing.T, responses map[string]apiResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, ok := responses[req.APIName]
		if !ok {
			t.Errorf("unexpected api_name %q", req.APIName)
			http.Error(w, "unknown api", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetPrice(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"realtime_quote": {
			Data: struct {
				Fields []string `json:"fields"`
				Items  [][]any  `json:"items"`
			}{
				Fields: []string{"ts_code", "price", "close"},
				Items:  [][]any{{"600519.SH", 1785.5, 1780.0}},
			},
		},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 5*time.Second, 600, testLogger())
	price, err := c.GetPrice(context.Background(), "600519.SH")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 1785.5 {
		t.Errorf("price = %v, want 1785.5", price)
	}
}

func TestGetPriceFallsBackToClose(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"realtime_quote": {
			Data: struct {
				Fields []string `json:"fields"`
				Items  [][]any  `json:"items"`
			}{
				Fields: []string{"ts_code", "price", "close"},
				Items:  [][]any{{"600519.SH", 0.0, 1780.0}},
			},
		},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 5*time.Second, 600, testLogger())
	price, err := c.GetPrice(context.Background(), "600519.SH")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 1780.0 {
		t.Errorf("price = %v, want close fallback 1780.0", price)
	}
}

func TestGetPriceUnavailable(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"realtime_quote": {},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 5*time.Second, 600, testLogger())
	if _, err := c.GetPrice(context.Background(), "600519.SH"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestGetBatchPricesMissingCodesAbsent(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"realtime_quote": {
			Data: struct {
				Fields []string `json:"fields"`
				Items  [][]any  `json:"items"`
			}{
				Fields: []string{"ts_code", "price", "close"},
				Items: [][]any{
					{"600519.SH", 1785.5, 1780.0},
					{"000001.SZ", 10.2, 10.1},
				},
			},
		},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 5*time.Second, 600, testLogger())
	prices, err := c.GetBatchPrices(context.Background(), []string{"600519.SH", "000001.SZ", "999999.SH"})
	if err != nil {
		t.Fatalf("GetBatchPrices: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("got %d prices, want 2", len(prices))
	}
	if _, ok := prices["999999.SH"]; ok {
		t.Error("missing code present in result")
	}
}

func TestGetDailyBarsAscending(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"daily": {
			Data: struct {
				Fields []string `json:"fields"`
				Items  [][]any  `json:"items"`
			}{
				Fields: []string{"ts_code", "trade_date", "open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"},
				Items: [][]any{
					// Newest first, as the API returns them.
					{"600519.SH", "20250103", 1510.0, 1540.0, 1505.0, 1535.0, 1510.0, 25.0, 1.66, 31000.0, 4.6e7},
					{"600519.SH", "20250102", 1500.0, 1520.0, 1490.0, 1510.0, 1495.0, 15.0, 1.0, 25000.0, 3.7e7},
				},
			},
		},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 5*time.Second, 600, testLogger())
	bars, err := c.GetDailyBars(context.Background(), "600519.SH", "20250101", "20250131")
	if err != nil {
		t.Fatalf("GetDailyBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].TradeDate != "20250102" || bars[1].TradeDate != "20250103" {
		t.Errorf("bars not ascending: %s, %s", bars[0].TradeDate, bars[1].TradeDate)
	}
}

func TestCallAPIError(t *testing.T) {
	srv := newTestServer(t, map[string]apiResponse{
		"realtime_quote": {Code: 40001, Msg: "token invalid"},
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "bad", 5*time.Second, 600, testLogger())
	if _, err := c.GetPrice(context.Background(), "600519.SH"); err == nil {
		t.Fatal("want error for api-level failure")
	}
}

type fakeMetricsProvider struct {
	Provider
	metrics []domain.DailyMetric
}

func (f *fakeMetricsProvider) GetDailyMetrics(_ context.Context, _ string) ([]domain.DailyMetric, error) {
	return f.metrics, nil
}

func TestScanHotStocks(t *testing.T) {
	p := &fakeMetricsProvider{metrics: []domain.DailyMetric{
		{Code: "A", TurnoverRate: 6, VolumeRatio: 2.0, PctChg: 5},    // keep
		{Code: "B", TurnoverRate: 4, VolumeRatio: 3.0, PctChg: 5},    // low turnover
		{Code: "C", TurnoverRate: 8, VolumeRatio: 1.2, PctChg: 5},    // low volume ratio
		{Code: "D", TurnoverRate: 8, VolumeRatio: 2.5, PctChg: 9.8},  // near limit-up
		{Code: "E", TurnoverRate: 8, VolumeRatio: 4.0, PctChg: 4},    // keep, strongest
		{Code: "F", TurnoverRate: 10, VolumeRatio: 2.2, PctChg: 2.5}, // weak gain
	}}

	codes, err := ScanHotStocks(context.Background(), p, "20250901", 5)
	if err != nil {
		t.Fatalf("ScanHotStocks: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("got %v, want 2 codes", codes)
	}
	if codes[0] != "E" || codes[1] != "A" {
		t.Errorf("codes = %v, want [E A] (sorted by volume ratio)", codes)
	}
}

func TestScanHotStocksLimit(t *testing.T) {
	p := &fakeMetricsProvider{metrics: []domain.DailyMetric{
		{Code: "A", TurnoverRate: 6, VolumeRatio: 2.0, PctChg: 5},
		{Code: "B", TurnoverRate: 6, VolumeRatio: 3.0, PctChg: 5},
		{Code: "C", TurnoverRate: 6, VolumeRatio: 4.0, PctChg: 5},
	}}
	codes, err := ScanHotStocks(context.Background(), p, "20250901", 2)
	if err != nil {
		t.Fatalf("ScanHotStocks: %v", err)
	}
	if len(codes) != 2 || codes[0] != "C" {
		t.Errorf("codes = %v, want top 2 starting with C", codes)
	}
}
