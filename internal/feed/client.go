package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// Source produces the latest price sample for a symbol.
type Source interface {
	Latest(ctx context.Context, symbol string) (types.PriceSample, error)
}

// ClientConfig tunes the live HTTP price source.
type ClientConfig struct {
	BaseURL         string        `json:"base_url"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetryElapsed time.Duration `json:"max_retry_elapsed"` // per-fetch backoff budget
	MaxFailures     int           `json:"max_failures"`      // consecutive failures before a symbol is disabled
}

// DefaultClientConfig returns the standard live-feed settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         5 * time.Second,
		MaxRetryElapsed: 15 * time.Second,
		MaxFailures:     5,
	}
}

type tickerResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Client fetches price ticks over HTTP with exponential backoff. A symbol
// that keeps failing is disabled so a dead endpoint cannot stall every
// cycle; ResetSymbol re-enables it.
type Client struct {
	logger *zap.Logger
	config ClientConfig
	client *resty.Client

	mu       sync.Mutex
	failures map[string]int
	disabled map[string]bool
}

// NewClient creates a live HTTP price source.
func NewClient(logger *zap.Logger, config ClientConfig) *Client {
	return &Client{
		logger:   logger.Named("price-feed"),
		config:   config,
		client:   resty.New().SetBaseURL(config.BaseURL).SetTimeout(config.Timeout),
		failures: make(map[string]int),
		disabled: make(map[string]bool),
	}
}

// Latest fetches the current tick for a symbol, retrying transient failures
// with exponential backoff inside the configured budget.
func (c *Client) Latest(ctx context.Context, symbol string) (types.PriceSample, error) {
	c.mu.Lock()
	if c.disabled[symbol] {
		c.mu.Unlock()
		return types.PriceSample{}, fmt.Errorf("feed disabled for %s after repeated failures", symbol)
	}
	c.mu.Unlock()

	var sample types.PriceSample
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.config.MaxRetryElapsed

	err := backoff.Retry(func() error {
		tick, err := c.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		sample = tick
		return nil
	}, backoff.WithContext(policy, ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures[symbol]++
		if c.failures[symbol] >= c.config.MaxFailures && !c.disabled[symbol] {
			c.disabled[symbol] = true
			c.logger.Error("disabling symbol feed",
				zap.String("symbol", symbol),
				zap.Int("consecutive_failures", c.failures[symbol]))
		}
		return types.PriceSample{}, fmt.Errorf("fetch tick for %s: %w", symbol, err)
	}
	c.failures[symbol] = 0
	return sample, nil
}

func (c *Client) fetch(ctx context.Context, symbol string) (types.PriceSample, error) {
	var tick tickerResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&tick).
		SetPathParam("symbol", symbol).
		Get("/ticker/{symbol}")
	if err != nil {
		return types.PriceSample{}, err
	}
	if resp.IsError() {
		return types.PriceSample{}, fmt.Errorf("ticker endpoint returned %s", resp.Status())
	}
	if tick.Price <= 0 {
		return types.PriceSample{}, fmt.Errorf("non-positive price %f for %s", tick.Price, symbol)
	}
	return types.PriceSample{
		Symbol:    symbol,
		Price:     tick.Price,
		Volume:    tick.Volume,
		Timestamp: time.Now(),
	}, nil
}

// Disabled reports whether a symbol's feed has been cut off.
func (c *Client) Disabled(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[symbol]
}

// ResetSymbol re-enables a disabled symbol and clears its failure count.
func (c *Client) ResetSymbol(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[symbol] = 0
	c.disabled[symbol] = false
}
