package gateway

import (
	"stratsim/internal/metrics"
	"stratsim/internal/model"
	"stratsim/internal/simulation"
)

// BacktestResponse is the response type for POST /backtest.
type BacktestResponse struct {
	ID           string        `json:"id,omitempty"`
	FinalCapital float64       `json:"final_capital"`
	ReturnPct    float64       `json:"return_pct"`
	Trades       []model.Trade `json:"trades"`
	EquityCurve  []float64     `json:"equity_curve"`
}

// RunResponse is the response type for POST /simulation/run.
type RunResponse struct {
	ID      string             `json:"id,omitempty"`
	Info    simulation.Info    `json:"info"`
	States  []simulation.State `json:"states"`
	Results simulation.Result  `json:"results"`
}

// HealthResponse is the response type for GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Dependencies *metrics.Report `json:"dependencies,omitempty"`
	System       SystemStats     `json:"system"`
}
