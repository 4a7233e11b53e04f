// Package predictor estimates how likely a strategy is to fail from its
// daily returns.
package predictor

import (
	"context"
	"fmt"
	"math"

	"stratsim/internal/breaker"
)

// Score is a failure estimate with a human-readable recommendation.
type Score struct {
	FailureProbability float64 `json:"failure_probability"`
	Recommendation     string  `json:"recommendation"`
}

// Scorer produces a Score from daily simple returns and optional macro indicators.
type Scorer interface {
	Score(ctx context.Context, returns []float64, macro map[string]float64) (Score, error)
}

const (
	HighRiskThreshold     = 0.7
	ModerateRiskThreshold = 0.4

	// MinEquityPoints is the shortest equity curve worth scoring.
	MinEquityPoints = 10

	RecHighRisk      = "High risk of failure detected! Consider reducing leverage or adding a stop-loss."
	RecModerateRisk  = "Moderate risk. Monitor volatility."
	RecStable        = "Strategy looks stable."
	RecNotEnoughData = "Not enough data"
)

// Recommend maps a probability to its recommendation text.
func Recommend(p float64) string {
	switch {
	case p > HighRiskThreshold:
		return RecHighRisk
	case p > ModerateRiskThreshold:
		return RecModerateRisk
	default:
		return RecStable
	}
}

// Analyze scores an equity curve. Curves shorter than MinEquityPoints are
// not sent to s and score zero.
func Analyze(ctx context.Context, s Scorer, equity []float64, macro map[string]float64) (Score, error) {
	if len(equity) < MinEquityPoints {
		return Score{FailureProbability: 0, Recommendation: RecNotEnoughData}, nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	return s.Score(ctx, returns, macro)
}

// HeuristicScorer needs no external model: the probability blends the
// fraction of losing days (weight 0.6) with the compounded max drawdown,
// doubled and capped at 1 (weight 0.4).
type HeuristicScorer struct{}

func (HeuristicScorer) Score(_ context.Context, returns []float64, _ map[string]float64) (Score, error) {
	if len(returns) == 0 {
		return Score{Recommendation: RecNotEnoughData}, nil
	}
	losses := 0
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		if r < 0 {
			losses++
		}
		equity *= 1 + r
		peak = math.Max(peak, equity)
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-equity)/peak)
		}
	}
	lossRate := float64(losses) / float64(len(returns))
	p := 0.6*lossRate + 0.4*math.Min(1, 2*maxDD)
	p = clamp01(p)
	return Score{FailureProbability: p, Recommendation: Recommend(p)}, nil
}

func clamp01(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Min(1, math.Max(0, p))
}

// Error marks a failure of the external predictor service.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("predictor: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Unavailable reports whether the call was refused by the open circuit
// rather than attempted.
func (e *Error) Unavailable() bool { return breaker.IsOpen(e.Err) }
