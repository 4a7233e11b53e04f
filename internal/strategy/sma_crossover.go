package strategy

import (
	"stratsim/internal/indicator"
	"stratsim/internal/model"
)

// SMACrossover builds the classic moving-average crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// With rsiPeriod > 0 an RSI series is added and a SELL fires when it is
// overbought (>70), on top of the death cross.
func SMACrossover(fastPeriod, slowPeriod, rsiPeriod int) (Config, error) {
	if fastPeriod < 2 || slowPeriod <= fastPeriod {
		return Config{}, model.ConfigErrorf("indicators", "need 2 <= fast (%d) < slow (%d)", fastPeriod, slowPeriod)
	}
	fast := indicator.SMASpec{Window: fastPeriod}
	slow := indicator.SMASpec{Window: slowPeriod}
	fastName, slowName := fast.SeriesNames()[0], slow.SeriesNames()[0]

	cfg := Config{
		Indicators: []indicator.Spec{fast, slow},
		Rules: []Rule{
			{Action: model.ActionBuy, Condition: Crossover{Ind1: fastName, Ind2: slowName}},
			{Action: model.ActionSell, Condition: Crossunder{Ind1: fastName, Ind2: slowName}},
		},
	}

	if rsiPeriod > 0 {
		if rsiPeriod < 2 {
			return Config{}, model.ConfigErrorf("indicators", "rsi period must be >= 2, got %d", rsiPeriod)
		}
		rsi := indicator.RSISpec{Window: rsiPeriod}
		cfg.Indicators = append(cfg.Indicators, rsi)
		cfg.Rules = append(cfg.Rules, Rule{
			Action:    model.ActionSell,
			Condition: Threshold{Indicator: rsi.SeriesNames()[0], Operator: OpGT, Value: 70},
		})
	}
	return cfg, cfg.Validate()
}

// RSIBand builds a mean-reversion strategy: BUY when RSI < lower, SELL when RSI > upper.
func RSIBand(period int, lower, upper float64) (Config, error) {
	if lower >= upper {
		return Config{}, model.ConfigErrorf("rules", "lower band %.2f must be below upper %.2f", lower, upper)
	}
	rsi := indicator.RSISpec{Window: period}
	if period < 2 {
		return Config{}, model.ConfigErrorf("indicators", "rsi period must be >= 2, got %d", period)
	}
	name := rsi.SeriesNames()[0]
	cfg := Config{
		Indicators: []indicator.Spec{rsi},
		Rules: []Rule{
			{Action: model.ActionBuy, Condition: Threshold{Indicator: name, Operator: OpLT, Value: lower}},
			{Action: model.ActionSell, Condition: Threshold{Indicator: name, Operator: OpGT, Value: upper}},
		},
	}
	return cfg, cfg.Validate()
}
