package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"price": func(v float64) string { return decimal.NewFromFloat(v).String() },
	"pct":   func(v float64) string { return decimal.NewFromFloat(v).Shift(2).StringFixed(2) + "%" },
	"money": func(v float64) string { return decimal.NewFromFloat(v).StringFixed(4) },
	"since": func(t time.Time) string { return time.Since(t).Round(time.Second).String() },
}).ParseFS(templateFS, "templates/*.html"))

// recentTrades caps the dashboard trade table.
const recentTrades = 20

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ledger := s.view.Ledger()
	recent := make([]domain.ClosedTrade, 0, recentTrades)
	for i := len(ledger) - 1; i >= 0 && len(recent) < recentTrades; i-- {
		recent = append(recent, ledger[i])
	}

	data := map[string]interface{}{
		"Watchlist": s.view.Watchlist(),
		"Positions": s.view.Positions(),
		"Trades":    recent,
		"Stats":     s.view.Statistics(),
		"Halted":    s.view.Halted(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		s.logger.Error("Template error", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
