// Package gateway exposes strategy simulation over HTTP: batch backtests,
// failure analysis, SSE and WebSocket playback, and archived results.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/auth"
	"stratsim/internal/logger"
	"stratsim/internal/marketdata"
	"stratsim/internal/metrics"
	"stratsim/internal/notification"
	"stratsim/internal/predictor"
	"stratsim/internal/simulation"
	"stratsim/internal/store/sqlite"
)

// ResultStore archives batch runs. *sqlite.Store implements it.
type ResultStore interface {
	SaveResult(ctx context.Context, req simulation.Request, res simulation.Result) (string, error)
	LoadResult(ctx context.Context, id string) (sqlite.Archived, error)
	RecentTrades(ctx context.Context, ticker string, limit int) ([]sqlite.TradeRecord, error)
	Tickers(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Server. Source is required; a nil Store
// disables archiving, a nil Scorer falls back to the heuristic, a nil
// Authenticator admits everyone.
type Deps struct {
	Source   marketdata.Source
	Store    ResultStore
	Scorer   predictor.Scorer
	Notifier notification.Notifier
	Auth     auth.Authenticator
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Logger   *zap.Logger

	Defaults         simulation.Defaults
	DrawdownAlertPct float64
}

// Server holds the HTTP handlers. It keeps no per-request state.
type Server struct {
	deps     Deps
	log      *zap.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

func NewServer(d Deps) *Server {
	if d.Scorer == nil {
		d.Scorer = predictor.HeuristicScorer{}
	}
	if d.Auth == nil {
		d.Auth = auth.Anonymous{}
	}
	return &Server{
		deps: d,
		log:  logger.OrNop(d.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		started: time.Now(),
	}
}

// authedHandler receives the caller's session explicitly.
type authedHandler func(w http.ResponseWriter, r *http.Request, sess auth.Session)

// Router registers every route on a new gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/backtest", s.authed(s.handleBacktest)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/analyze", s.authed(s.handleAnalyze)).Methods(http.MethodPost, http.MethodOptions)

	sim := r.PathPrefix("/simulation").Subrouter()
	sim.HandleFunc("/info", s.authed(s.handleInfo)).Methods(http.MethodPost, http.MethodOptions)
	sim.HandleFunc("/stream", s.authed(s.handleStream)).Methods(http.MethodPost, http.MethodOptions)
	sim.HandleFunc("/run", s.authed(s.handleRun)).Methods(http.MethodPost, http.MethodOptions)
	sim.HandleFunc("/ws", s.authed(s.handleWS)).Methods(http.MethodGet)

	r.HandleFunc("/simulations/{id}", s.authed(s.handleGetResult)).Methods(http.MethodGet)
	r.HandleFunc("/trades", s.authed(s.handleTrades)).Methods(http.MethodGet)
	r.HandleFunc("/tickers", s.authed(s.handleTickers)).Methods(http.MethodGet)
	return r
}

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		sess, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			s.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		h(w, r, sess)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.HeaderOTP)
		next.ServeHTTP(w, r)
	})
}

// HTTPServer wraps an http.Server with Start and Stop for lifecycle hooks.
type HTTPServer struct {
	srv *http.Server
	log *zap.Logger
}

func NewHTTPServer(addr string, h http.Handler, log *zap.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.OrNop(log),
	}
}

func (h *HTTPServer) Start() {
	go func() {
		h.log.Info("http server listening", zap.String("addr", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("http server failed", zap.Error(err))
		}
	}()
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
