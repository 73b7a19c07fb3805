package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

// EngineView is the read side of the engine. Every method returns a copy.
type EngineView interface {
	Watchlist() []domain.PendingAnomaly
	Positions() []domain.Position
	Ledger() []domain.ClosedTrade
	Leads() []domain.LeadOutcome
	Statistics() domain.Statistics
	Halted() map[string]string
}

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	view    EngineView
	metrics http.Handler
	started time.Time
	logger  *zap.Logger
}

// NewServer builds the read-only API. metrics may be nil to leave /metrics unrouted.
func NewServer(port int, view EngineView, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		view:    view,
		metrics: metrics,
		started: time.Now(),
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Dashboard
	s.router.HandleFunc("GET /{$}", s.handleDashboard)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// State
	s.router.HandleFunc("GET /api/watchlist", s.handleWatchlist)
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/leads", s.handleLeads)
	s.router.HandleFunc("GET /api/stats", s.handleStats)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
