// Package oracle is the boundary to the scoring service. The indicator
// arithmetic lives elsewhere; this module only consumes a directional type,
// a 0-100 strength score and the supporting snapshot.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"tradeflow/src/gateway"
	"tradeflow/src/model"
)

// Result is one scoring verdict. A nil Result from Score means the oracle
// sees nothing actionable.
type Result struct {
	Side       model.Side         `json:"side"`
	Score      float64            `json:"score"`
	StopLoss   *decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal   `json:"take_profit,omitempty"`
	Volatility float64            `json:"volatility"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Reasons    []string           `json:"reasons,omitempty"`
}

// Scorer yields a signal candidate from recent price history.
type Scorer interface {
	Score(ctx context.Context, instrument string, candles []gateway.Candle) (*Result, error)
}

type Config struct {
	BaseURL string        `envconfig:"ORACLE_BASE_URL" default:"http://localhost:8090"`
	Timeout time.Duration `envconfig:"ORACLE_TIMEOUT" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// RemoteScorer asks the scoring service over HTTP.
type RemoteScorer struct {
	http *resty.Client
}

func NewRemoteScorer(cfg Config) *RemoteScorer {
	return &RemoteScorer{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetRetryCount(2),
	}
}

type scoreRequest struct {
	Instrument string           `json:"instrument"`
	Candles    []gateway.Candle `json:"candles"`
}

type scoreResponse struct {
	Signal *Result `json:"signal"`
}

func (s *RemoteScorer) Score(ctx context.Context, instrument string, candles []gateway.Candle) (*Result, error) {
	var out scoreResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(scoreRequest{Instrument: instrument, Candles: candles}).
		SetResult(&out).
		Post("/v1/score")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Signal, nil
}

var _ Scorer = (*RemoteScorer)(nil)
