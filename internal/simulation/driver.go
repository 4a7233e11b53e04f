// Package simulation drives a strategy over a bar series one day at a time.
//
// A Driver validates its inputs once, then steps through the bars feeding
// the indicator engine, the rule evaluator and the accountant in that order.
// Run does this as a single batch computation; Stream yields the same steps
// as a lazy sequence of events, optionally paced for live playback. Both
// paths share one step function, so identical inputs produce identical
// trades and equity.
package simulation

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/indicator"
	"stratsim/internal/logger"
	"stratsim/internal/marketdata/replay"
	"stratsim/internal/metrics"
	"stratsim/internal/model"
	"stratsim/internal/notification"
	"stratsim/internal/portfolio"
	"stratsim/internal/strategy"
)

// Options tune a run. The zero value simulates every bar, unpaced, silently.
type Options struct {
	// TrainRatio in [0, 1) reserves the leading floor(n*ratio) bars as
	// indicator history; they produce no signals, trades or states.
	TrainRatio float64
	// Speed is the streaming playback rate in bars per second. 0 disables pacing.
	Speed float64

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Notifier receives a drawdown alert the first day equity falls more than
	// DrawdownAlertPct below its peak. Nil or a zero threshold disables alerts.
	Notifier         notification.Notifier
	DrawdownAlertPct float64
}

// Driver owns one simulation request. It is not safe for concurrent use,
// but Run and Stream each build fresh state, so a Driver may be reused.
type Driver struct {
	ticker  string
	bars    []model.Bar
	cfg     strategy.Config
	capital float64
	opts    Options
	log     *zap.Logger
}

// New validates configuration and returns a driver. Bar problems are not
// checked here; they surface as a DataError from Run or an ErrorEvent from Stream.
func New(ticker string, bars []model.Bar, cfg strategy.Config, initialCapital float64, opts Options) (*Driver, error) {
	if ticker == "" {
		return nil, model.ConfigErrorf("ticker", "must not be empty")
	}
	if !(initialCapital > 0) || math.IsInf(initialCapital, 0) {
		return nil, model.ConfigErrorf("initial_capital", "must be > 0, got %v", initialCapital)
	}
	if opts.TrainRatio < 0 || opts.TrainRatio >= 1 || math.IsNaN(opts.TrainRatio) {
		return nil, model.ConfigErrorf("train_ratio", "must be in [0, 1), got %v", opts.TrainRatio)
	}
	if opts.Speed < 0 || math.IsNaN(opts.Speed) {
		return nil, model.ConfigErrorf("speed", "must be >= 0, got %v", opts.Speed)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		ticker:  ticker,
		bars:    bars,
		cfg:     cfg,
		capital: initialCapital,
		opts:    opts,
		log:     logger.OrNop(opts.Logger).With(zap.String("ticker", ticker)),
	}, nil
}

// FromPlan builds a driver from a validated request. opts.TrainRatio and
// opts.Speed are taken from the plan.
func FromPlan(p Plan, bars []model.Bar, opts Options) (*Driver, error) {
	opts.TrainRatio = p.TrainRatio
	opts.Speed = p.Speed
	return New(p.Ticker, bars, p.Strategy, p.InitialCapital, opts)
}

// Split returns the index of the first simulated bar.
func (d *Driver) Split() int {
	return int(math.Floor(float64(len(d.bars)) * d.opts.TrainRatio))
}

// Info describes the run without simulating it.
func (d *Driver) Info() (Info, error) {
	if err := model.ValidateBars(d.ticker, d.bars); err != nil {
		return Info{}, err
	}
	split := d.Split()
	if split >= len(d.bars) {
		return Info{}, model.NewDataError(d.ticker, errors.Wrap(model.ErrRange, "no bars left to simulate after training split"))
	}
	return Info{
		Ticker:           d.ticker,
		TrainingPeriod:   periodOf(d.bars[:split]),
		SimulationPeriod: *periodOf(d.bars[split:]),
		InitialCapital:   d.capital,
		Series:           indicator.SeriesNames(d.cfg.Indicators),
	}, nil
}

// Run simulates every day and returns the result with all per-day states.
// Batch runs never sleep. Cancellation is checked at each bar boundary.
func (d *Driver) Run(ctx context.Context) (Result, []State, error) {
	started := time.Now()
	log := logger.For(ctx, d.log).With(zap.String("mode", "batch"))

	r, info, err := d.start(ctx, log)
	if err != nil {
		d.opts.Metrics.ObserveSimulation("batch", "error", time.Since(started))
		return Result{}, nil, err
	}

	states := make([]State, 0, info.SimulationPeriod.Days)
	for i := r.split; i < len(d.bars); i++ {
		if err := ctx.Err(); err != nil {
			d.opts.Metrics.ObserveSimulation("batch", "cancelled", time.Since(started))
			return Result{}, nil, errors.Wrap(err, "simulation cancelled")
		}
		states = append(states, r.step(ctx, i))
	}

	res := r.result()
	d.opts.Metrics.ObserveSimulation("batch", "ok", time.Since(started))
	log.Info("simulation finished",
		zap.String("phase", string(PhaseTerminated)),
		zap.Int("days", res.DaysSimulated),
		zap.Int("trades", res.TradeCount),
		zap.Float64("return_pct", res.ReturnPct),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, states, nil
}

// Stream returns the run as a lazy, single-use sequence of events: one
// InfoEvent, an UpdateEvent per simulated day, then exactly one
// CompleteEvent or ErrorEvent. Days are paced at opts.Speed. When ctx is
// cancelled, or the consumer stops ranging, the sequence ends with no
// further updates and no CompleteEvent.
func (d *Driver) Stream(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		started := time.Now()
		log := logger.For(ctx, d.log).With(zap.String("mode", "stream"))
		outcome := "ok"
		defer func() {
			d.opts.Metrics.ObserveSimulation("stream", outcome, time.Since(started))
		}()

		r, info, err := d.start(ctx, log)
		if err != nil {
			outcome = "error"
			log.Warn("simulation rejected", zap.Error(err))
			yield(ErrorEvent{Err: err})
			return
		}
		if !yield(InfoEvent{Info: info}) {
			outcome = "cancelled"
			return
		}

		pacer := replay.NewPacer(d.opts.Speed)
		for i := r.split; i < len(d.bars); i++ {
			if err := pacer.Wait(ctx); err != nil {
				outcome = "cancelled"
				log.Debug("simulation stream cancelled", zap.Int("day_index", i))
				return
			}
			if !yield(UpdateEvent{State: r.step(ctx, i)}) {
				outcome = "cancelled"
				log.Debug("simulation stream consumer stopped", zap.Int("day_index", i))
				return
			}
		}
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}

		res := r.result()
		log.Info("simulation finished",
			zap.String("phase", string(PhaseTerminated)),
			zap.Int("days", res.DaysSimulated),
			zap.Int("trades", res.TradeCount),
			zap.Float64("return_pct", res.ReturnPct),
		)
		yield(CompleteEvent{Result: res})
	}
}

// runner holds the mutable state of one run.
type runner struct {
	d      *Driver
	log    *zap.Logger
	split  int
	engine *indicator.Engine
	eval   *strategy.Evaluator
	acct   *portfolio.Accountant
	equity *portfolio.EquityTracker
	prev   indicator.Snapshot
	curve  []float64
}

func (d *Driver) start(ctx context.Context, log *zap.Logger) (*runner, Info, error) {
	info, err := d.Info()
	if err != nil {
		return nil, Info{}, err
	}
	engine := indicator.NewEngine(d.cfg.Indicators)
	eval, err := strategy.NewEvaluator(d.cfg.Rules, engine.Names())
	if err != nil {
		return nil, Info{}, err
	}

	r := &runner{
		d:      d,
		log:    log,
		split:  d.Split(),
		engine: engine,
		eval:   eval,
		acct:   portfolio.NewAccountant(d.capital),
		equity: portfolio.NewEquityTracker(d.opts.DrawdownAlertPct),
		curve:  make([]float64, 0, info.SimulationPeriod.Days),
	}

	// training bars only warm the indicators
	for i := 0; i < r.split; i++ {
		r.prev = engine.Process(d.bars[i])
	}

	log.Info("simulation started",
		zap.Int("training_days", r.split),
		zap.Int("simulation_days", info.SimulationPeriod.Days),
		zap.Int("rules", len(d.cfg.Rules)),
		zap.Strings("series", info.Series),
	)
	return r, info, nil
}

// step simulates bar i. Order is fixed: indicators, rules, accounting.
func (r *runner) step(ctx context.Context, i int) State {
	bar := r.d.bars[i]
	snap := r.engine.Process(bar)

	phase := PhaseActive
	signal := model.SignalHold
	if !snap.AllDefined() {
		phase = PhaseWarmup
	} else {
		signal = r.eval.Evaluate(r.prev, snap).Signal
	}
	r.prev = snap

	trade := r.acct.Apply(signal, bar)
	equity := r.acct.Equity(bar.Close)
	r.curve = append(r.curve, equity)

	r.d.opts.Metrics.IncBars()
	if trade != nil {
		r.d.opts.Metrics.IncTrade(string(trade.Action))
		r.log.Debug("trade",
			zap.String("date", bar.Day()),
			zap.String("action", string(trade.Action)),
			zap.Float64("price", trade.Price),
			zap.Float64("shares", trade.Shares),
		)
	}

	if r.equity.Record(equity) {
		r.alertDrawdown(ctx, bar)
	}

	return State{
		DayIndex:    i,
		Day:         i - r.split + 1,
		TotalDays:   len(r.d.bars) - r.split,
		Date:        bar.Day(),
		Bar:         bar,
		Indicators:  snap,
		Phase:       phase,
		Signal:      signal,
		Position:    r.acct.Position(),
		Capital:     r.acct.Capital(),
		Equity:      equity,
		Trade:       trade,
		TotalTrades: r.acct.TradeCount(),
		ReturnPct:   (equity - r.d.capital) / r.d.capital * 100,
	}
}

func (r *runner) alertDrawdown(ctx context.Context, bar model.Bar) {
	if r.d.opts.Notifier == nil {
		return
	}
	st := r.equity.Status()
	alert := notification.Alert{
		Kind:    notification.KindDrawdown,
		Ticker:  r.d.ticker,
		Date:    bar.Day(),
		Value:   st.DrawdownPct,
		TraceID: logger.TraceID(ctx),
		Message: "equity drawdown exceeded alert threshold",
	}
	if err := r.d.opts.Notifier.Send(ctx, alert); err != nil {
		r.log.Warn("drawdown alert failed", zap.Error(err))
	}
}

func (r *runner) result() Result {
	initial := r.d.capital
	final := initial
	if n := len(r.curve); n > 0 {
		final = r.curve[n-1]
	}
	st := r.equity.Status()
	if st.Points == 0 {
		st.MaxEquity, st.MinEquity = initial, initial
	}
	last := r.d.bars[len(r.d.bars)-1]
	pnl := r.acct.PnL(last.Close)

	return Result{
		Ticker:         r.d.ticker,
		InitialCapital: initial,
		FinalEquity:    final,
		TotalReturn:    final - initial,
		ReturnPct:      (final - initial) / initial * 100,
		TradeCount:     r.acct.TradeCount(),
		Trades:         r.acct.Trades(),
		EquityCurve:    r.curve,
		MaxEquity:      st.MaxEquity,
		MinEquity:      st.MinEquity,
		MaxDrawdownPct: st.MaxDrawdownPct,
		DaysSimulated:  len(r.curve),
		WinRate:        pnl.WinRate,
		StartDate:      dateOf(r.d.bars[r.split].Date),
		EndDate:        dateOf(last.Date),
	}
}
