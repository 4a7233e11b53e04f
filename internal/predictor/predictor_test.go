package predictor

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratsim/internal/metrics"
)

func TestRecommend(t *testing.T) {
	assert.Equal(t, RecHighRisk, Recommend(0.71))
	assert.Equal(t, RecModerateRisk, Recommend(0.7))
	assert.Equal(t, RecModerateRisk, Recommend(0.41))
	assert.Equal(t, RecStable, Recommend(0.4))
	assert.Equal(t, RecStable, Recommend(0))
}

func TestAnalyze_NotEnoughData(t *testing.T) {
	s, err := Analyze(context.Background(), HeuristicScorer{}, make([]float64, 9), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.FailureProbability)
	assert.Equal(t, RecNotEnoughData, s.Recommendation)
}

func TestHeuristicScorer_Flat(t *testing.T) {
	equity := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	s, err := Analyze(context.Background(), HeuristicScorer{}, equity, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.FailureProbability)
	assert.Equal(t, RecStable, s.Recommendation)
}

func TestHeuristicScorer_Blend(t *testing.T) {
	// 2 losing days of 4; compounded drawdown 1 - 0.9*0.9 = 0.19
	returns := []float64{0.1, -0.1, -0.1, 0.05}
	s, err := HeuristicScorer{}.Score(context.Background(), returns, nil)
	require.NoError(t, err)
	want := 0.6*0.5 + 0.4*math.Min(1, 2*0.19)
	assert.InDelta(t, want, s.FailureProbability, 1e-9)
	assert.Equal(t, Recommend(want), s.Recommendation)
}

func TestHeuristicScorer_AllLossesHighRisk(t *testing.T) {
	returns := []float64{-0.1, -0.1, -0.1, -0.1, -0.1}
	s, err := HeuristicScorer{}.Score(context.Background(), returns, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.6+0.4*2*(1-math.Pow(0.9, 5)), s.FailureProbability, 1e-9)
	assert.Equal(t, RecHighRisk, s.Recommendation)
}

func TestHTTPScorer(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &got)
		w.Write([]byte(`{"failure_probability": 0.82}`))
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, time.Second, nil, nil).Score(context.Background(), []float64{0.01, -0.02}, map[string]float64{"vix": 30})
	require.NoError(t, err)
	assert.Equal(t, 0.82, s.FailureProbability)
	assert.Equal(t, RecHighRisk, s.Recommendation)
	assert.Equal(t, []float64{0.01, -0.02}, got.Returns)
	assert.Equal(t, 30.0, got.Macro["vix"])
}

func TestHTTPScorer_FailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sc := NewHTTPScorer(srv.URL, time.Second, m, nil)

	_, err := sc.Score(context.Background(), []float64{0.01}, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictorErrors))

	// breaker opens after three consecutive failures
	sc.Score(context.Background(), nil, nil)
	sc.Score(context.Background(), nil, nil)
	_, err = sc.Score(context.Background(), nil, nil)
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Unavailable())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PredictorErrors))
}

func TestHTTPScorer_MissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, time.Second, nil, nil).Score(context.Background(), nil, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Unavailable())
}
