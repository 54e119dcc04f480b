// Package dashboard provides a small read-only HTTP view onto the store,
// for operators checking on positions, recent orders, and the idempotence
// ledger without reaching into the database directly.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vixroll/controlplane/internal/models"
)

// Backend is the read-only view of the store the dashboard needs. It is
// narrower than store.Store so the dashboard can be tested against a stub
// without pulling in gorm.
type Backend interface {
	Positions() ([]PositionView, error)
	Orders(symbol, status string) ([]models.Order, error)
	LedgerHasRun(date string) (bool, error)
}

// PositionView is one row of the /positions response.
type PositionView struct {
	Symbol      string  `json:"symbol"`
	Broker      string  `json:"broker"`
	Maturity    string  `json:"maturity"`
	NetPosition float64 `json:"net_position"`
}

// Config configures the dashboard server.
type Config struct {
	Port int
}

// Server is the dashboard's chi-routed HTTP server.
type Server struct {
	router  *chi.Mux
	backend Backend
	logger  *logrus.Logger
	port    int
}

// NewServer builds a dashboard server backed by backend.
func NewServer(cfg Config, backend Backend, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:  chi.NewRouter(),
		backend: backend,
		logger:  logger,
		port:    cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/positions", s.handlePositions)
	s.router.Get("/orders", s.handleOrders)
	s.router.Get("/ledger/{date}", s.handleLedger)
	s.router.Get("/healthz", s.handleHealthz)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start).String(),
		}).Info("dashboard request")
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.backend.Positions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	status := r.URL.Query().Get("status")
	orders, err := s.backend.Orders(symbol, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	ran, err := s.backend.LedgerHasRun(date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ran": ran})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode dashboard response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe starts the HTTP server; it blocks until the server exits.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router) // #nosec G114 - operator-facing read-only endpoint
}

// Handler exposes the underlying router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
