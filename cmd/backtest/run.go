package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"stratsim/internal/app"
	"stratsim/internal/indicator"
	"stratsim/internal/marketdata"
	"stratsim/internal/model"
	"stratsim/internal/simulation"
	"stratsim/internal/strategy"
	"stratsim/internal/stream"
)

type runOpts struct {
	strategyPath string
	preset       string
	fast, slow   int
	rsi          int
	lower, upper float64
	ticker       string
	start, end   string
	capital      float64
	trainRatio   float64
	stream       bool
	speed        float64
	asJSON       bool
}

func newRunCmd(g *globalOpts) *cobra.Command {
	o := &runOpts{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest a strategy file against one ticker",
		Long: `Runs a strategy file (the same JSON body POST /backtest accepts) or a
built-in preset against historical bars. Flags override the file's ticker,
dates and capital. With --stream every event is printed as one JSON line
while the run plays back.

Presets:
  sma-cross  BUY on fast/slow SMA crossover, SELL on crossunder (--fast, --slow, --rsi)
  rsi-band   BUY below --lower, SELL above --upper on RSI(--rsi)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktest(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.strategyPath, "strategy", "s", "", "strategy request JSON file")
	f.StringVar(&o.preset, "preset", "", "built-in strategy: sma-cross | rsi-band")
	f.IntVar(&o.fast, "fast", 5, "sma-cross fast window")
	f.IntVar(&o.slow, "slow", 20, "sma-cross slow window")
	f.IntVar(&o.rsi, "rsi", 0, "RSI window (rsi-band defaults to 14; sma-cross adds an overbought exit when set)")
	f.Float64Var(&o.lower, "lower", 30, "rsi-band oversold level")
	f.Float64Var(&o.upper, "upper", 70, "rsi-band overbought level")
	f.StringVarP(&o.ticker, "ticker", "t", "", "ticker override (MOCK for synthetic data)")
	f.StringVar(&o.start, "start", "", "first day, YYYY-MM-DD")
	f.StringVar(&o.end, "end", "", "last day, YYYY-MM-DD")
	f.Float64Var(&o.capital, "capital", 0, "initial capital override")
	f.Float64Var(&o.trainRatio, "train-ratio", 0, "leading fraction of bars used only as indicator history")
	f.BoolVar(&o.stream, "stream", false, "print info/update/complete events as JSON lines")
	f.Float64Var(&o.speed, "speed", 0, "playback rate in bars per second with --stream (0 = unpaced)")
	f.BoolVar(&o.asJSON, "json", false, "print the result as JSON instead of a summary")
	cmd.MarkFlagsMutuallyExclusive("strategy", "preset")
	cmd.MarkFlagsOneRequired("strategy", "preset")
	return cmd
}

func loadRequest(path string) (simulation.Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return simulation.Request{}, errors.Wrap(err, "read strategy file")
	}
	var req simulation.Request
	if err := sonic.Unmarshal(raw, &req); err != nil {
		return simulation.Request{}, errors.Wrapf(err, "decode %s", path)
	}
	return req, nil
}

// apply overlays command-line overrides on the file's request.
func (o *runOpts) apply(req *simulation.Request) {
	if o.ticker != "" {
		req.Ticker = o.ticker
	}
	if o.start != "" {
		req.StartDate = o.start
	}
	if o.end != "" {
		req.EndDate = o.end
	}
	if o.capital != 0 {
		c := o.capital
		req.InitialCapital = &c
	}
	req.Speed = nil
}

// presetStrategy compiles the named built-in strategy.
func (o *runOpts) presetStrategy() (strategy.Config, error) {
	switch o.preset {
	case "sma-cross":
		return strategy.SMACrossover(o.fast, o.slow, o.rsi)
	case "rsi-band":
		period := o.rsi
		if period == 0 {
			period = indicator.DefaultWindow
		}
		return strategy.RSIBand(period, o.lower, o.upper)
	default:
		return strategy.Config{}, model.ConfigErrorf("preset", "unknown preset %q", o.preset)
	}
}

// plan resolves the strategy file or preset into a validated plan.
func (o *runOpts) plan() (simulation.Plan, error) {
	req := simulation.Request{Ticker: marketdata.MockTicker}
	if o.strategyPath != "" {
		var err error
		if req, err = loadRequest(o.strategyPath); err != nil {
			return simulation.Plan{}, err
		}
	}
	o.apply(&req)

	plan, err := req.Validate(simulation.Defaults{Speed: o.speed, TrainRatio: o.trainRatio})
	if err != nil {
		return simulation.Plan{}, err
	}
	if o.preset != "" {
		if plan.Strategy, err = o.presetStrategy(); err != nil {
			return simulation.Plan{}, err
		}
	}
	return plan, nil
}

func runBacktest(cmd *cobra.Command, g *globalOpts, o *runOpts) error {
	ctx := cmd.Context()
	plan, err := o.plan()
	if err != nil {
		return err
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	src, err := app.NewSource(e.cfg, e.store, e.rdb, nil, e.log)
	if err != nil {
		return err
	}
	bars, err := src.Fetch(ctx, plan.Ticker, marketdata.Range{Start: plan.Start, End: plan.End})
	if err != nil {
		return err
	}
	if !o.stream {
		plan.Speed = 0
	}
	d, err := simulation.FromPlan(plan, bars, simulation.Options{Logger: e.log})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.stream {
		if n := stream.Pump(d.Stream(ctx), lineWriter{out}, e.log); n == 0 {
			return errors.New("no events written")
		}
		return nil
	}

	res, _, err := d.Run(ctx)
	if err != nil {
		return err
	}
	if o.asJSON {
		raw, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}
	printSummary(out, res)
	return nil
}

// lineWriter prints each stream message as one JSON line.
type lineWriter struct{ w io.Writer }

func (l lineWriter) WriteMessage(payload []byte) error {
	_, err := fmt.Fprintf(l.w, "%s\n", payload)
	return err
}

func printSummary(w io.Writer, res simulation.Result) {
	line := strings.Repeat("═", 38)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "╔%s╗\n", line)
	fmt.Fprintln(w, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintf(w, "╠%s╣\n", line)
	fmt.Fprintf(w, "║  Ticker:            %-16s ║\n", res.Ticker)
	fmt.Fprintf(w, "║  From:              %-16s ║\n", res.StartDate)
	fmt.Fprintf(w, "║  To:                %-16s ║\n", res.EndDate)
	fmt.Fprintf(w, "║  Days simulated:    %-16d ║\n", res.DaysSimulated)
	fmt.Fprintf(w, "║  Initial capital:   %-16.2f ║\n", res.InitialCapital)
	fmt.Fprintf(w, "║  Final equity:      %-16.2f ║\n", res.FinalEquity)
	fmt.Fprintf(w, "║  Return:            %-15.2f%% ║\n", res.ReturnPct)
	fmt.Fprintf(w, "║  Max drawdown:      %-15.2f%% ║\n", res.MaxDrawdownPct)
	fmt.Fprintf(w, "║  Trades:            %-16d ║\n", res.TradeCount)
	fmt.Fprintf(w, "║  Win rate:          %-15.2f%% ║\n", res.WinRate*100)
	fmt.Fprintf(w, "╚%s╝\n", line)

	for _, t := range res.Trades {
		fmt.Fprintf(w, "  %s %-4s %10.2f x %.6f\n", t.Date.Format("2006-01-02"), t.Action, t.Price, t.Shares)
	}
}
