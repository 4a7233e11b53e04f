// Package notification provides alert delivery to external channels
// (Telegram, webhooks, logs) for risk events raised by simulations.
package notification

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert kinds.
const (
	KindDrawdown    = "drawdown"
	KindFailureRisk = "failure_risk"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Kind    string     `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Ticker  string     `json:"ticker,omitempty"`
	Date    string     `json:"date,omitempty"`
	Value   float64    `json:"value"`
	TraceID string     `json:"trace_id,omitempty"`
}

// Normalize fills Level and Title from Kind when they are empty.
func (a Alert) Normalize() Alert {
	if a.Level == "" {
		switch a.Kind {
		case KindFailureRisk:
			a.Level = AlertCritical
		case KindDrawdown:
			a.Level = AlertWarning
		default:
			a.Level = AlertInfo
		}
	}
	if a.Title == "" {
		switch a.Kind {
		case KindDrawdown:
			a.Title = "Drawdown alert " + a.Ticker
		case KindFailureRisk:
			a.Title = "Strategy failure risk " + a.Ticker
		default:
			a.Title = "Simulation alert " + a.Ticker
		}
	}
	return a
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development and as the default sink).
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	alert = alert.Normalize()
	n.log.Warn(alert.Title,
		zap.String("level", string(alert.Level)),
		zap.String("kind", alert.Kind),
		zap.String("ticker", alert.Ticker),
		zap.String("date", alert.Date),
		zap.Float64("value", alert.Value),
		zap.String("trace_id", alert.TraceID),
		zap.String("message", alert.Message),
	)
	return nil
}

// Multi delivers each alert to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Errorf("notify: %d backends failed, first: %v", len(errs), errs[0])
	}
}
