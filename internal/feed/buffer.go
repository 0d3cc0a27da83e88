// Package feed supplies price samples to the decision pipeline, either from
// a live HTTP source or a deterministic synthetic walk for paper sessions.
package feed

import (
	"sync"

	"github.com/helios-trade/decision-core/pkg/types"
)

// Buffer is a bounded per-symbol sample history. When a symbol's window is
// full the oldest sample is evicted.
type Buffer struct {
	capacity int

	mu      sync.RWMutex
	windows map[string][]types.PriceSample
}

// NewBuffer creates a buffer holding up to capacity samples per symbol.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &Buffer{
		capacity: capacity,
		windows:  make(map[string][]types.PriceSample),
	}
}

// Append adds a sample to its symbol's window, evicting the oldest sample
// once the window is at capacity.
func (b *Buffer) Append(sample types.PriceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	window := b.windows[sample.Symbol]
	if len(window) == b.capacity {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	b.windows[sample.Symbol] = append(window, sample)
}

// Window returns a copy of the symbol's samples, oldest first.
func (b *Buffer) Window(symbol string) []types.PriceSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	window := b.windows[symbol]
	out := make([]types.PriceSample, len(window))
	copy(out, window)
	return out
}

// Len returns the number of samples held for a symbol.
func (b *Buffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.windows[symbol])
}

// Latest returns the most recent sample for a symbol, if any.
func (b *Buffer) Latest(symbol string) (types.PriceSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	window := b.windows[symbol]
	if len(window) == 0 {
		return types.PriceSample{}, false
	}
	return window[len(window)-1], true
}
