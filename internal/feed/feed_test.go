package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/pkg/types"
)

func sample(symbol string, price float64) types.PriceSample {
	return types.PriceSample{Symbol: symbol, Price: price, Volume: 10, Timestamp: time.Now()}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := feed.NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Append(sample("BTC/USD", float64(i)))
	}

	window := b.Window("BTC/USD")
	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}
	for i, want := range []float64{3, 4, 5} {
		if window[i].Price != want {
			t.Fatalf("window[%d].Price = %f, want %f", i, window[i].Price, want)
		}
	}
}

func TestBufferIsolatesSymbols(t *testing.T) {
	b := feed.NewBuffer(10)
	b.Append(sample("BTC/USD", 50000))
	b.Append(sample("ETH/USD", 3000))

	if got := b.Len("BTC/USD"); got != 1 {
		t.Fatalf("BTC window length = %d, want 1", got)
	}
	latest, ok := b.Latest("ETH/USD")
	if !ok || latest.Price != 3000 {
		t.Fatalf("ETH latest = %+v ok=%v", latest, ok)
	}
	if _, ok := b.Latest("SOL/USD"); ok {
		t.Fatal("unknown symbol must report no latest sample")
	}
}

func TestBufferWindowReturnsCopy(t *testing.T) {
	b := feed.NewBuffer(10)
	b.Append(sample("BTC/USD", 50000))

	window := b.Window("BTC/USD")
	window[0].Price = 1

	fresh := b.Window("BTC/USD")
	if fresh[0].Price != 50000 {
		t.Fatalf("buffer mutated through returned window: %f", fresh[0].Price)
	}
}

func TestSyntheticIsDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	a := feed.NewSynthetic(feed.DefaultSyntheticConfig(), 7)
	b := feed.NewSynthetic(feed.DefaultSyntheticConfig(), 7)

	for i := 0; i < 50; i++ {
		sa, err := a.Latest(ctx, "BTC/USD")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		sb, _ := b.Latest(ctx, "BTC/USD")
		if sa.Price != sb.Price {
			t.Fatalf("tick %d diverged: %f vs %f", i, sa.Price, sb.Price)
		}
		if sa.Price <= 0 {
			t.Fatalf("tick %d produced non-positive price %f", i, sa.Price)
		}
	}

	c := feed.NewSynthetic(feed.DefaultSyntheticConfig(), 8)
	sc, _ := c.Latest(ctx, "BTC/USD")
	sa, _ := a.Latest(ctx, "BTC/USD")
	if sc.Price == sa.Price {
		t.Fatal("different seeds should produce different walks")
	}
}
