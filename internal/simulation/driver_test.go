package simulation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
	"stratsim/internal/notification"
	"stratsim/internal/strategy"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func series(closes []float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{Date: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

func smaCross(t *testing.T, fast, slow int) strategy.Config {
	t.Helper()
	cfg, err := strategy.SMACrossover(fast, slow, 0)
	require.NoError(t, err)
	return cfg
}

func collect(seq func(func(Event) bool)) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func assertEquityIdentity(t *testing.T, states []State) {
	t.Helper()
	for _, st := range states {
		want := st.Capital + st.Position.Shares*st.Bar.Close
		assert.InDelta(t, want, st.Equity, 1e-9, "day %d", st.DayIndex)
		assert.GreaterOrEqual(t, st.Capital, 0.0)
	}
}

// Declines for 24 days then rises steadily, so SMA(5) crosses above SMA(20) once.
func vShape(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if i < 24 {
			closes[i] = 200 - 2*float64(i)
		} else {
			closes[i] = 152 + 3*float64(i-24)
		}
	}
	return closes
}

func naiveSMA(closes []float64, w, t int) float64 {
	sum := 0.0
	for _, c := range closes[t-w+1 : t+1] {
		sum += c
	}
	return sum / float64(w)
}

func TestRun_SingleCrossoverBuy(t *testing.T) {
	closes := vShape(60)
	crossDay := -1
	for i := 20; i < len(closes); i++ {
		if naiveSMA(closes, 5, i-1) <= naiveSMA(closes, 20, i-1) && naiveSMA(closes, 5, i) > naiveSMA(closes, 20, i) {
			crossDay = i
			break
		}
	}
	require.Greater(t, crossDay, 20)

	d, err := New("TEST", series(closes), smaCross(t, 5, 20), 10000, Options{})
	require.NoError(t, err)
	res, states, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.ActionBuy, res.Trades[0].Action)
	assert.Equal(t, states[crossDay].Bar.Date, res.Trades[0].Date)
	assert.Equal(t, model.SignalBuy, states[crossDay].Signal)

	for i := crossDay + 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, states[i].Equity, states[i-1].Equity, "equity fell on day %d", i)
	}
	assertEquityIdentity(t, states)
	assert.Equal(t, 60, res.DaysSimulated)
	assert.Len(t, res.EquityCurve, 60)
}

func TestRun_WarmupForcesHold(t *testing.T) {
	d, err := New("TEST", series(vShape(30)), smaCross(t, 5, 20), 1000, Options{})
	require.NoError(t, err)
	_, states, err := d.Run(context.Background())
	require.NoError(t, err)

	for i, st := range states {
		if i < 19 {
			assert.Equal(t, PhaseWarmup, st.Phase, "day %d", i)
			assert.Equal(t, model.SignalHold, st.Signal)
			assert.False(t, st.Indicators["SMA_20"].Defined)
		} else {
			assert.Equal(t, PhaseActive, st.Phase, "day %d", i)
		}
	}
}

func TestRun_RSIThresholdTradesOnlyOnCrossings(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(2*math.Pi*float64(i)/40)
	}
	cfg, err := strategy.RSIBand(14, 30, 70)
	require.NoError(t, err)

	// expected fills from an independent pass over the RSI column
	engine := indicator.NewEngine(cfg.Indicators)
	name := cfg.Indicators[0].SeriesNames()[0]
	holding, expected, beyond := false, 0, 0
	for _, bar := range series(closes) {
		v := engine.Process(bar)[name]
		if !v.Defined {
			continue
		}
		if v.V > 70 || v.V < 30 {
			beyond++
		}
		switch {
		case v.V > 70 && holding:
			holding = false
			expected++
		case v.V <= 70 && v.V < 30 && !holding:
			holding = true
			expected++
		}
	}
	require.Greater(t, expected, 2)

	d, err := New("WAVE", series(closes), cfg, 10000, Options{})
	require.NoError(t, err)
	res, states, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, expected, res.TradeCount)
	assert.Less(t, res.TradeCount, beyond)
	for i, tr := range res.Trades {
		want := model.ActionBuy
		if i%2 == 1 {
			want = model.ActionSell
		}
		assert.Equal(t, want, tr.Action, "trade %d", i)
	}
	assertEquityIdentity(t, states)
}

func TestStream_CancelStopsUpdates(t *testing.T) {
	d, err := New("TEST", series(vShape(60)), smaCross(t, 5, 20), 10000, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := 0
	var afterCancel []Event
	for ev := range d.Stream(ctx) {
		if updates >= 10 {
			afterCancel = append(afterCancel, ev)
			continue
		}
		if ev.Type() == EventUpdate {
			updates++
			if updates == 10 {
				cancel()
			}
		}
	}
	assert.Equal(t, 10, updates)
	assert.Empty(t, afterCancel, "no events may follow cancellation")
}

func TestStream_ConsumerBreak(t *testing.T) {
	d, err := New("TEST", series(vShape(40)), smaCross(t, 5, 20), 10000, Options{})
	require.NoError(t, err)

	n := 0
	for ev := range d.Stream(context.Background()) {
		n++
		if ev.Type() == EventUpdate && n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestStream_MatchesRun(t *testing.T) {
	bars := series(vShape(80))
	cfg := smaCross(t, 5, 20)

	d, err := New("TEST", bars, cfg, 5000, Options{TrainRatio: 0.25})
	require.NoError(t, err)
	want, wantStates, err := d.Run(context.Background())
	require.NoError(t, err)

	events := collect(d.Stream(context.Background()))
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventInfo, events[0].Type())
	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type())

	var gotStates []State
	for _, ev := range events[1 : len(events)-1] {
		u, ok := ev.(UpdateEvent)
		require.True(t, ok, "unexpected %T mid-stream", ev)
		gotStates = append(gotStates, u.State)
	}
	got := last.(CompleteEvent).Result
	assert.Equal(t, want.Trades, got.Trades)
	assert.Equal(t, want.FinalEquity, got.FinalEquity)
	assert.Equal(t, len(wantStates), len(gotStates))
	for i := range wantStates {
		assert.Equal(t, wantStates[i].Equity, gotStates[i].Equity)
		assert.Equal(t, wantStates[i].Signal, gotStates[i].Signal)
	}
}

func TestRun_EmptyRulesFlatEquity(t *testing.T) {
	cfg := strategy.Config{Indicators: []indicator.Spec{indicator.SMASpec{Window: 3}}}
	d, err := New("TEST", series(vShape(30)), cfg, 2500, Options{})
	require.NoError(t, err)
	res, _, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.TradeCount)
	for _, e := range res.EquityCurve {
		assert.Equal(t, 2500.0, e)
	}
	assert.Equal(t, 0.0, res.ReturnPct)
	assert.Equal(t, 0.0, res.MaxDrawdownPct)
}

func TestRun_TrainingSplit(t *testing.T) {
	d, err := New("TEST", series(vShape(100)), smaCross(t, 5, 20), 10000, Options{TrainRatio: 0.7})
	require.NoError(t, err)

	info, err := d.Info()
	require.NoError(t, err)
	require.NotNil(t, info.TrainingPeriod)
	assert.Equal(t, 70, info.TrainingPeriod.Days)
	assert.Equal(t, 30, info.SimulationPeriod.Days)
	assert.Equal(t, day0.AddDate(0, 0, 70).Format(model.DateLayout), info.SimulationPeriod.Start)

	res, states, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 30)
	assert.Equal(t, 70, states[0].DayIndex)
	assert.Equal(t, 1, states[0].Day)
	assert.Equal(t, 30, states[0].TotalDays)
	// indicators are already warm on the first simulated day
	assert.Equal(t, PhaseActive, states[0].Phase)
	assert.Equal(t, 30, res.DaysSimulated)
}

func TestRun_DataErrors(t *testing.T) {
	bars := series([]float64{10, 11, 12})
	bars[2].Date = bars[1].Date

	d, err := New("DUP", bars, smaCross(t, 2, 3), 100, Options{})
	require.NoError(t, err)
	_, _, err = d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsDataError(err))
	assert.True(t, errors.Is(err, model.ErrDataGap))

	events := collect(d.Stream(context.Background()))
	require.Len(t, events, 1)
	ee, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.True(t, errors.Is(ee.Err, model.ErrDataGap))

	d, err = New("EMPTY", nil, smaCross(t, 2, 3), 100, Options{})
	require.NoError(t, err)
	_, _, err = d.Run(context.Background())
	assert.True(t, errors.Is(err, model.ErrRange))
}

func TestNew_ConfigErrors(t *testing.T) {
	cfg := smaCross(t, 2, 3)
	bars := series([]float64{1, 2, 3})
	cases := map[string]func() error{
		"ticker":  func() error { _, err := New("", bars, cfg, 1, Options{}); return err },
		"capital": func() error { _, err := New("X", bars, cfg, 0, Options{}); return err },
		"ratio":   func() error { _, err := New("X", bars, cfg, 1, Options{TrainRatio: 1}); return err },
		"speed":   func() error { _, err := New("X", bars, cfg, 1, Options{Speed: -1}); return err },
		"rules": func() error {
			bad := strategy.Config{Rules: []strategy.Rule{{Action: model.ActionBuy, Condition: strategy.Crossover{Ind1: "a", Ind2: "b"}}}}
			_, err := New("X", bars, bad, 1, Options{})
			return err
		},
	}
	for name, fn := range cases {
		assert.True(t, model.IsConfigError(fn()), name)
	}
}

func TestRun_Cancelled(t *testing.T) {
	d, err := New("TEST", series(vShape(30)), smaCross(t, 5, 20), 100, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_Paced(t *testing.T) {
	d, err := New("TEST", series([]float64{1, 2, 3, 4, 5}), strategy.Config{}, 100, Options{Speed: 100})
	require.NoError(t, err)
	start := time.Now()
	events := collect(d.Stream(context.Background()))
	assert.Len(t, events, 7)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func TestRun_DrawdownAlert(t *testing.T) {
	// buy on day 1; 100 -> 70 on day 3 is a 30% drawdown
	closes := []float64{100, 100, 90, 70, 50, 40, 45}
	cfg := strategy.Config{
		Indicators: []indicator.Spec{indicator.SMASpec{Window: 2}},
		Rules: []strategy.Rule{{
			Action:    model.ActionBuy,
			Condition: strategy.Threshold{Indicator: "SMA_2", Operator: strategy.OpGT, Value: 0},
		}},
	}
	rec := &recordingNotifier{}
	d, err := New("DD", series(closes), cfg, 1000, Options{Notifier: rec, DrawdownAlertPct: 25})
	require.NoError(t, err)
	res, _, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.alerts, 1)
	assert.Equal(t, notification.KindDrawdown, rec.alerts[0].Kind)
	assert.Equal(t, day0.AddDate(0, 0, 3).Format(model.DateLayout), rec.alerts[0].Date)
	assert.InDelta(t, 60.0, res.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 1000.0, res.MaxEquity)
}

func TestValidate_RejectsOversizedWindow(t *testing.T) {
	req := Request{
		Ticker:     "MOCK",
		Indicators: []indicator.RawSpec{{Kind: "SMA", Params: map[string]float64{"window": 1e15}}},
	}
	_, err := req.Validate(Defaults{})
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))
}

func TestRun_WindowLongerThanSeries(t *testing.T) {
	cfg := strategy.Config{
		Indicators: []indicator.Spec{indicator.SMASpec{Window: indicator.MaxWindow}},
		Rules: []strategy.Rule{{
			Action:    model.ActionBuy,
			Condition: strategy.Threshold{Indicator: "SMA_100000", Operator: strategy.OpGT, Value: 0},
		}},
	}
	d, err := New("LONG", series(vShape(40)), cfg, 100, Options{})
	require.NoError(t, err)
	res, states, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 40)
	assert.Zero(t, res.TradeCount)
	assert.Equal(t, 100.0, res.FinalEquity)
}
