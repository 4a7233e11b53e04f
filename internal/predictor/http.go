package predictor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"stratsim/internal/breaker"
	"stratsim/internal/logger"
	"stratsim/internal/metrics"
)

// HTTPScorer calls a remote model service. Calls go through a circuit
// breaker and are never retried; every failure comes back as *Error.
type HTTPScorer struct {
	url     string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     *zap.Logger
}

type scoreRequest struct {
	Returns []float64          `json:"returns"`
	Macro   map[string]float64 `json:"macro_indicators"`
}

type scoreResponse struct {
	FailureProbability *float64 `json:"failure_probability"`
}

func NewHTTPScorer(url string, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log = logger.OrNop(log)
	return &HTTPScorer{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		cb:      breaker.New("predictor", breaker.Settings{MaxFailures: 3, ResetTimeout: 30 * time.Second}, m, log),
		metrics: m,
		log:     log,
	}
}

func (s *HTTPScorer) Score(ctx context.Context, returns []float64, macro map[string]float64) (Score, error) {
	if macro == nil {
		macro = map[string]float64{}
	}
	v, err := s.cb.Execute(func() (any, error) {
		return s.call(ctx, scoreRequest{Returns: returns, Macro: macro})
	})
	if err != nil {
		s.metrics.IncPredictorError()
		log := logger.For(ctx, s.log)
		if breaker.IsOpen(err) {
			log.Debug("predictor circuit open, call skipped", zap.String("url", s.url))
		} else {
			log.Warn("predictor call failed", zap.String("url", s.url), zap.Error(err))
		}
		return Score{}, &Error{Err: err}
	}
	p := clamp01(v.(float64))
	return Score{FailureProbability: p, Recommendation: Recommend(p)}, nil
}

func (s *HTTPScorer) call(ctx context.Context, body scoreRequest) (float64, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return 0, errors.Wrap(err, "decode response")
	}
	if out.FailureProbability == nil {
		return 0, errors.New("response missing failure_probability")
	}
	return *out.FailureProbability, nil
}
