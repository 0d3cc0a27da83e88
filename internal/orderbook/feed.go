// Package orderbook fetches order book snapshots and cross-validates
// trading signals against market microstructure.
package orderbook

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// SnapshotSource produces order book snapshots for a symbol.
type SnapshotSource interface {
	Fetch(ctx context.Context, symbol string) (types.OrderBookSnapshot, error)
}

// rawBook is the wire shape returned by the order book endpoint.
type rawBook struct {
	Symbol string       `json:"symbol"`
	Bids   [][2]float64 `json:"bids"` // [price, quantity]
	Asks   [][2]float64 `json:"asks"`
}

// HTTPSource fetches snapshots over HTTP and derives the microstructure
// metrics (mid price, spread, liquidity, pressure, whale activity) locally.
type HTTPSource struct {
	logger *zap.Logger
	client *resty.Client
	depth  int // ladder levels considered for derived metrics
}

// NewHTTPSource creates an HTTP snapshot source against baseURL.
func NewHTTPSource(logger *zap.Logger, baseURL string, timeout time.Duration) *HTTPSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // retries are the caller's backoff policy, not ours

	return &HTTPSource{
		logger: logger.Named("orderbook-feed"),
		client: client,
		depth:  10,
	}
}

// Fetch retrieves and enriches one snapshot. Any transport or decode error
// is returned to the caller; the validator treats that as a fail-safe veto.
func (s *HTTPSource) Fetch(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	var raw rawBook
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&raw).
		SetPathParam("symbol", symbol).
		Get("/orderbook/{symbol}")
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("fetch order book for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return types.OrderBookSnapshot{}, fmt.Errorf("order book endpoint returned %s for %s", resp.Status(), symbol)
	}
	if len(raw.Bids) == 0 || len(raw.Asks) == 0 {
		return types.OrderBookSnapshot{}, fmt.Errorf("empty order book ladder for %s", symbol)
	}
	return s.derive(symbol, raw), nil
}

// derive computes the snapshot metrics from the raw ladder.
func (s *HTTPSource) derive(symbol string, raw rawBook) types.OrderBookSnapshot {
	bids := ladder(raw.Bids, s.depth)
	asks := ladder(raw.Asks, s.depth)

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := (bestBid + bestAsk) / 2

	spreadPct := 0.0
	if mid > 0 {
		spreadPct = (bestAsk - bestBid) / mid * 100
	}

	bidVolume, bidMax := ladderVolume(bids)
	askVolume, askMax := ladderVolume(asks)

	pressure := 0.0
	if bidVolume+askVolume > 0 {
		pressure = (bidVolume - askVolume) / (bidVolume + askVolume) * 100
	}

	return types.OrderBookSnapshot{
		Symbol:         symbol,
		Bids:           bids,
		Asks:           asks,
		MidPrice:       mid,
		SpreadPercent:  spreadPct,
		LiquidityScore: liquidityScore(bidVolume+askVolume, mid),
		MarketPressure: pressure,
		WhaleActivity:  whaleActivity(bidMax, askMax, bidVolume+askVolume, len(bids)+len(asks)),
		Confidence:     bookConfidence(len(bids), len(asks), s.depth),
		FetchedAt:      time.Now(),
	}
}

func ladder(levels [][2]float64, depth int) []types.BookLevel {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]types.BookLevel, len(levels))
	for i, l := range levels {
		out[i] = types.BookLevel{Price: l[0], Quantity: l[1]}
	}
	return out
}

func ladderVolume(levels []types.BookLevel) (total, largest float64) {
	for _, l := range levels {
		total += l.Quantity
		if l.Quantity > largest {
			largest = l.Quantity
		}
	}
	return total, largest
}

// liquidityScore maps total visible notional onto a 0-100 log scale.
func liquidityScore(totalVolume, mid float64) float64 {
	notional := totalVolume * mid
	if notional <= 0 {
		return 0
	}
	// $1k notional scores ~25, $100k ~50, $10M ~75.
	score := math.Log10(notional) * 100 / 12
	return math.Max(0, math.Min(100, score))
}

// whaleActivity flags ladders dominated by a single resting order.
func whaleActivity(bidMax, askMax, totalVolume float64, levelCount int) types.Level {
	if totalVolume <= 0 || levelCount == 0 {
		return types.LevelLow
	}
	largest := math.Max(bidMax, askMax)
	share := largest / totalVolume
	switch {
	case share >= 0.4:
		return types.LevelHigh
	case share >= 0.2:
		return types.LevelMedium
	default:
		return types.LevelLow
	}
}

func bookConfidence(bidLevels, askLevels, depth int) float64 {
	if depth == 0 {
		return 0
	}
	fill := float64(bidLevels+askLevels) / float64(2*depth)
	if fill > 1 {
		fill = 1
	}
	return fill
}

// SnapshotCache wraps a source with a per-symbol TTL cache so one snapshot
// serves every decision inside the TTL window.
type SnapshotCache struct {
	source SnapshotSource
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]types.OrderBookSnapshot
}

// NewSnapshotCache creates a TTL cache in front of a snapshot source.
func NewSnapshotCache(source SnapshotSource, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]types.OrderBookSnapshot),
	}
}

// Get returns the cached snapshot when fresh, otherwise fetches. A fetch
// failure is returned as-is; stale entries are not served as fallback.
func (c *SnapshotCache) Get(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	c.mu.Lock()
	cached, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && time.Since(cached.FetchedAt) < c.ttl {
		return cached, nil
	}

	snapshot, err := c.source.Fetch(ctx, symbol)
	if err != nil {
		return types.OrderBookSnapshot{}, err
	}
	c.mu.Lock()
	c.entries[symbol] = snapshot
	c.mu.Unlock()
	return snapshot, nil
}
