package gateway

import (
	"bytes"
	"context"
	"io"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/auth"
	"stratsim/internal/logger"
	"stratsim/internal/marketdata"
	"stratsim/internal/model"
	"stratsim/internal/notification"
	"stratsim/internal/predictor"
	"stratsim/internal/simulation"
	"stratsim/internal/store/sqlite"
	"stratsim/internal/stream"
)

const maxBodyBytes = 1 << 20

func decodeRequest(body io.Reader) (simulation.Request, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return simulation.Request{}, errors.Wrap(errBadBody, err.Error())
	}
	var req simulation.Request
	if err := sonic.Unmarshal(raw, &req); err != nil {
		return simulation.Request{}, errors.Wrap(errBadBody, err.Error())
	}
	return req, nil
}

// prepare validates req, fetches its bars and builds a driver. The
// returned context carries the request trace id.
func (s *Server) prepare(ctx context.Context, req simulation.Request, def simulation.Defaults) (context.Context, *simulation.Driver, error) {
	plan, err := req.Validate(def)
	if err != nil {
		return ctx, nil, err
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(plan.Ticker, time.Now()))

	bars, err := s.deps.Source.Fetch(ctx, plan.Ticker, marketdata.Range{Start: plan.Start, End: plan.End})
	if err != nil {
		return ctx, nil, err
	}
	d, err := simulation.FromPlan(plan, bars, simulation.Options{
		Logger:           s.log,
		Metrics:          s.deps.Metrics,
		Notifier:         s.deps.Notifier,
		DrawdownAlertPct: s.deps.DrawdownAlertPct,
	})
	return ctx, d, err
}

// batchDefaults simulate every bar unless the request asks for a split.
func (s *Server) batchDefaults() simulation.Defaults {
	def := s.deps.Defaults
	def.TrainRatio = 0
	return def
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logger.For(ctx, s.log).With(zap.String("path", r.URL.Path), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Info("request rejected", zap.Error(err))
	}
	writeError(w, status, err)
}

func (s *Server) archive(ctx context.Context, req simulation.Request, res simulation.Result) string {
	if s.deps.Store == nil {
		return ""
	}
	id, err := s.deps.Store.SaveResult(ctx, req, res)
	if err != nil {
		logger.For(ctx, s.log).Warn("result archive failed", zap.Error(err))
		return ""
	}
	return id
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	req, err := decodeRequest(r.Body)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	ctx, d, err := s.prepare(ctx, req, s.batchDefaults())
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	res, _, err := d.Run(ctx)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BacktestResponse{
		ID:           s.archive(ctx, req, res),
		FinalCapital: res.FinalEquity,
		ReturnPct:    res.ReturnPct,
		Trades:       res.Trades,
		EquityCurve:  res.EquityCurve,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	req, err := decodeRequest(r.Body)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	ctx, d, err := s.prepare(ctx, req, s.batchDefaults())
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	res, _, err := d.Run(ctx)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	score, err := predictor.Analyze(ctx, s.deps.Scorer, res.EquityCurve, nil)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	if score.FailureProbability > predictor.HighRiskThreshold && s.deps.Notifier != nil {
		alert := notification.Alert{
			Kind:    notification.KindFailureRisk,
			Ticker:  res.Ticker,
			Date:    res.EndDate,
			Value:   score.FailureProbability,
			TraceID: logger.TraceID(ctx),
			Message: score.Recommendation,
		}
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			logger.For(ctx, s.log).Warn("failure risk alert failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	req, err := decodeRequest(r.Body)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	ctx, d, err := s.prepare(ctx, req, s.deps.Defaults)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	info, err := d.Info()
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	req, err := decodeRequest(r.Body)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	ctx, d, err := s.prepare(ctx, req, s.deps.Defaults)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	info, err := d.Info()
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	res, states, err := d.Run(ctx)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		ID:      s.archive(ctx, req, res),
		Info:    info,
		States:  states,
		Results: res,
	})
}

// events returns the driver's stream, or a single error event when the
// request could not be prepared.
func (s *Server) events(ctx context.Context, req simulation.Request) iter.Seq[simulation.Event] {
	ctx, d, err := s.prepare(ctx, req, s.deps.Defaults)
	if err != nil {
		logger.For(ctx, s.log).Info("stream rejected", zap.Error(err))
		return func(yield func(simulation.Event) bool) {
			yield(simulation.ErrorEvent{Err: err})
		}
	}
	return d.Stream(ctx)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	req, err := decodeRequest(r.Body)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	sw, err := stream.NewSSEWriter(w)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	done := s.deps.Metrics.StreamStarted()
	defer done()

	stream.Pump(s.events(ctx, req), sw, s.log)
}

const wsRequestWait = 30 * time.Second

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	ws := stream.NewWSWriter(conn)
	defer ws.Close()

	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(wsRequestWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		s.log.Debug("ws closed before request", zap.Error(err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// any further read error means the peer went away
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	done := s.deps.Metrics.StreamStarted()
	defer done()

	req, err := decodeRequest(bytes.NewReader(msg))
	if err != nil {
		stream.Pump(func(yield func(simulation.Event) bool) {
			yield(simulation.ErrorEvent{Err: err})
		}, ws, s.log)
		return
	}
	stream.Pump(s.events(ctx, req), ws, s.log)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	if s.deps.Store == nil {
		s.fail(ctx, w, r, sqlite.ErrResultNotFound)
		return
	}
	res, err := s.deps.Store.LoadResult(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTrades lists journaled trades: GET /trades?ticker=X&limit=N.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, []sqlite.TradeRecord{})
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(ctx, w, r, model.ConfigErrorf("limit", "want a non-negative integer, got %q", v))
			return
		}
		limit = n
	}
	trades, err := s.deps.Store.RecentTrades(ctx, q.Get("ticker"), limit)
	if err != nil {
		s.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// handleTickers lists the tickers a request may name: everything imported
// into the store, plus the synthetic series.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	ctx := r.Context()
	var tickers []string
	if s.deps.Store != nil {
		var err error
		if tickers, err = s.deps.Store.Tickers(ctx); err != nil {
			s.fail(ctx, w, r, err)
			return
		}
	}
	if !slices.Contains(tickers, marketdata.MockTicker) {
		tickers = append(tickers, marketdata.MockTicker)
	}
	writeJSON(w, http.StatusOK, tickers)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", System: collectSystemStats(s.started)}
	status := http.StatusOK
	if s.deps.Health != nil {
		rep, code := s.deps.Health.Report()
		resp.Status = rep.Status
		resp.Dependencies = &rep
		status = code
	}
	writeJSON(w, status, resp)
}
