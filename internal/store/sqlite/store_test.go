package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratsim/internal/indicator"
	"stratsim/internal/marketdata"
	"stratsim/internal/model"
	"stratsim/internal/simulation"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBars(n int) []model.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		c := 50 + float64(i)
		out[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: 1000}
	}
	return out
}

func TestImportAndFetch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	n, err := s.ImportBars(ctx, "acme", testBars(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.Fetch(ctx, "ACME", marketdata.Range{})
	require.NoError(t, err)
	assert.Equal(t, testBars(5), got)

	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	got, err = s.Fetch(ctx, "ACME", marketdata.Range{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 51.0, got[0].Close)

	tickers, err := s.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME"}, tickers)
}

func TestImportIsUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.ImportBars(ctx, "ACME", testBars(3))
	require.NoError(t, err)
	changed := testBars(3)
	changed[1].Close = 99
	_, err = s.ImportBars(ctx, "ACME", changed)
	require.NoError(t, err)

	n, err := s.CountBars(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	got, err := s.Fetch(ctx, "ACME", marketdata.Range{})
	require.NoError(t, err)
	assert.Equal(t, 99.0, got[1].Close)
}

func TestFetchErrors(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_, err := s.ImportBars(ctx, "ACME", testBars(3))
	require.NoError(t, err)

	_, err = s.Fetch(ctx, "NOPE", marketdata.Range{})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Fetch(ctx, "ACME", marketdata.Range{Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, model.ErrRange)

	_, err = s.Fetch(ctx, "ACME", marketdata.Range{
		Start: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, model.ErrRange)
	assert.True(t, model.IsDataError(err))
}

func TestResultArchive(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	capital := 5000.0
	req := simulation.Request{
		Ticker:         "ACME",
		Indicators:     []indicator.RawSpec{{Kind: "SMA", Params: map[string]float64{"window": 3}}},
		InitialCapital: &capital,
	}
	res := simulation.Result{
		Ticker:         "ACME",
		InitialCapital: 5000,
		FinalEquity:    5100,
		EquityCurve:    []float64{5000, 5050, 5100},
		Trades:         []model.Trade{{Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Action: model.ActionBuy, Price: 51, Shares: 98.03921568627452}},
		TradeCount:     1,
	}

	id, err := s.SaveResult(ctx, req, res)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "ACME", got.Ticker)
	assert.Equal(t, res, got.Result)
	assert.Equal(t, req.Indicators, got.Request.Indicators)
	require.NotNil(t, got.Request.InitialCapital)
	assert.Equal(t, 5000.0, *got.Request.InitialCapital)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	_, err = s.LoadResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestTradeJournal(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	first := simulation.Result{Ticker: "ACME", Trades: []model.Trade{
		{Date: day(2), Action: model.ActionBuy, Price: 50, Shares: 2},
		{Date: day(4), Action: model.ActionSell, Price: 55, Shares: 2},
	}}
	second := simulation.Result{Ticker: "OTHER", Trades: []model.Trade{
		{Date: day(5), Action: model.ActionBuy, Price: 10, Shares: 1},
	}}
	id1, err := s.SaveResult(ctx, simulation.Request{Ticker: "ACME"}, first)
	require.NoError(t, err)
	_, err = s.SaveResult(ctx, simulation.Request{Ticker: "OTHER"}, second)
	require.NoError(t, err)
	_, err = s.SaveResult(ctx, simulation.Request{Ticker: "ACME"}, simulation.Result{Ticker: "ACME"})
	require.NoError(t, err)

	all, err := s.RecentTrades(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "OTHER", all[0].Ticker)

	acme, err := s.RecentTrades(ctx, "acme", 1)
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, TradeRecord{ID: acme[0].ID, ResultID: id1, Ticker: "ACME", Action: "SELL", Date: "2024-03-04", Price: 55, Shares: 2}, acme[0])

	none, err := s.RecentTrades(ctx, "NOPE", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHealthDB(t *testing.T) {
	s := openTest(t)
	assert.NoError(t, s.DB().PingContext(context.Background()))
}
