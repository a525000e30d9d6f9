// Package httpapi serves a read-only view of the ledger and monitor state,
// plus health and metrics endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeagent/internal/store"
)

// defaultOrderLimit caps /api/orders when no limit parameter is given.
const defaultOrderLimit = 50

// Server exposes the agent state over HTTP.
type Server struct {
	ledger   store.Ledger
	monitors store.MonitorStore
	log      *slog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(ledger store.Ledger, monitors store.MonitorStore, log *slog.Logger) *Server {
	return &Server{ledger: ledger, monitors: monitors, log: log}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/monitors", s.handleMonitors)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return corsMiddleware(mux)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.GetAccount(r.Context())
	if err != nil {
		s.log.Error("loading account", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, AccountResponse{
		Cash:        acct.Cash,
		MarketValue: acct.MarketValue,
		TotalAssets: acct.TotalAssets,
		UpdatedAt:   acct.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.ListPositions(r.Context())
	if err != nil {
		s.log.Error("listing positions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionResponse{
			Code:            p.Code,
			Name:            p.Name,
			Volume:          p.Volume,
			VolumeAvailable: p.VolumeAvailable,
			AvgPrice:        p.AvgPrice,
			CurrentPrice:    p.CurrentPrice,
			MarketValue:     p.MarketValue,
			PnLPct:          p.PnLPct(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrderLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := s.ledger.ListOrders(r.Context(), limit)
	if err != nil {
		s.log.Error("listing orders", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderResponse{
			OrderID:   o.OrderID,
			Code:      o.Code,
			Action:    string(o.Action),
			Price:     o.Price,
			Volume:    o.Volume,
			Reason:    o.Reason,
			Status:    o.Status,
			CreatedAt: o.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.monitors.ListMonitors(r.Context())
	if err != nil {
		s.log.Error("listing monitors", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]MonitorResponse, 0, len(monitors))
	for _, m := range monitors {
		resp := MonitorResponse{
			ID:           m.ID,
			Code:         m.Code,
			TriggerPrice: m.TriggerPrice,
			Operator:     string(m.Operator),
			MonitorType:  m.MonitorType,
			Reason:       m.Reason,
			Status:       string(m.Status),
			WarningSent:  m.WarningSent,
			CreatedAt:    m.CreatedAt.Format(time.RFC3339),
		}
		if m.TriggeredAt != nil {
			resp.TriggeredAt = m.TriggeredAt.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.GetAccount(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}
