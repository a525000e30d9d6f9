package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"tradeagent/internal/domain"
	"tradeagent/internal/store"
	"tradeagent/internal/trader"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureAccount(context.Background(), 100000); err != nil {
		t.Fatalf("seeding account: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(st, st, log).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}

func TestAccountEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var acct AccountResponse
	getJSON(t, srv.URL+"/api/account", &acct)
	if acct.Cash != 100000 || acct.TotalAssets != 100000 {
		t.Errorf("account = %+v", acct)
	}
}

func TestPositionsAndOrdersEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := trader.New(st, log)
	if _, err := tr.ExecuteBuy(context.Background(), "600519.SH", "Moutai", 20000, 100, "entry"); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	var positions []PositionResponse
	getJSON(t, srv.URL+"/api/positions", &positions)
	if len(positions) != 1 || positions[0].Volume != 200 {
		t.Errorf("positions = %+v", positions)
	}

	var orders []OrderResponse
	getJSON(t, srv.URL+"/api/orders", &orders)
	if len(orders) != 1 || orders[0].Action != "BUY" {
		t.Errorf("orders = %+v", orders)
	}
}

func TestOrdersLimitValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/orders?limit=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMonitorsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	_, err := st.CreateMonitor(context.Background(), domain.PriceMonitor{
		Code:         "600519.SH",
		TriggerPrice: 95,
		Operator:     domain.OperatorLT,
		MonitorType:  "STOP_LOSS",
		Reason:       "support",
		Status:       domain.MonitorActive,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("creating monitor: %v", err)
	}

	var monitors []MonitorResponse
	getJSON(t, srv.URL+"/api/monitors", &monitors)
	if len(monitors) != 1 || monitors[0].Status != "ACTIVE" {
		t.Errorf("monitors = %+v", monitors)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
