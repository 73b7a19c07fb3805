package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

type statusResponse struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Watchlist int               `json:"watchlist"`
	Positions int               `json:"positions"`
	Trades    int               `json:"trades"`
	Halted    map[string]string `json:"halted,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	halted := s.view.Halted()
	status := "ok"
	if len(halted) > 0 {
		status = "degraded"
	}
	s.writeJSON(w, statusResponse{
		Status:    status,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Watchlist: len(s.view.Watchlist()),
		Positions: len(s.view.Positions()),
		Trades:    len(s.view.Ledger()),
		Halted:    halted,
	})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view.Watchlist())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view.Positions())
}

// handleTrades returns the most recent closed trades, newest first. ?limit=N caps the count.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}

	ledger := s.view.Ledger()
	trades := make([]domain.ClosedTrade, 0, len(ledger))
	for i := len(ledger) - 1; i >= 0; i-- {
		if limit > 0 && len(trades) == limit {
			break
		}
		trades = append(trades, ledger[i])
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view.Leads())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view.Statistics())
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
