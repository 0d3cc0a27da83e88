package events_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helios-trade/decision-core/internal/events"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscriberReceivesMatchingTypes(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 2, 64)
	defer bus.Close()

	var signals, trades atomic.Int64
	bus.Subscribe(func(events.Event) { signals.Add(1) }, nil, events.TypeSignal)
	bus.Subscribe(func(events.Event) { trades.Add(1) }, nil, events.TypeTrade)

	bus.Publish(events.New(events.TypeSignal, "BTC/USD", nil))
	bus.Publish(events.New(events.TypeSignal, "ETH/USD", nil))
	bus.Publish(events.New(events.TypeTrade, "BTC/USD", nil))

	waitFor(t, func() bool { return signals.Load() == 2 && trades.Load() == 1 })
}

func TestFilterNarrowsSubscription(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 2, 64)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		got = append(got, e.Symbol)
		mu.Unlock()
	}, func(e events.Event) bool { return e.Symbol == "BTC/USD" }, events.TypeSignal)

	bus.Publish(events.New(events.TypeSignal, "BTC/USD", nil))
	bus.Publish(events.New(events.TypeSignal, "ETH/USD", nil))

	waitFor(t, func() bool {
		s := bus.Stats()
		return s.Processed == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "BTC/USD" {
		t.Fatalf("filtered subscription got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 1, 64)
	defer bus.Close()

	var count atomic.Int64
	cancel := bus.Subscribe(func(events.Event) { count.Add(1) }, nil)

	bus.Publish(events.New(events.TypeCycle, "BTC/USD", nil))
	waitFor(t, func() bool { return count.Load() == 1 })

	cancel()
	bus.Publish(events.New(events.TypeCycle, "BTC/USD", nil))
	waitFor(t, func() bool { return bus.Stats().Processed == 2 })
	if count.Load() != 1 {
		t.Fatalf("handler ran %d times after unsubscribe, want 1", count.Load())
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 1, 64)
	defer bus.Close()

	var survived atomic.Int64
	bus.Subscribe(func(events.Event) { panic("boom") }, nil, events.TypeError)
	bus.Subscribe(func(events.Event) { survived.Add(1) }, nil, events.TypeError)

	bus.Publish(events.New(events.TypeError, "", nil))

	waitFor(t, func() bool { return survived.Load() == 1 })
	if bus.Stats().Panics != 1 {
		t.Fatalf("panics = %d, want 1", bus.Stats().Panics)
	}
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 1, 1)
	defer bus.Close()

	// A slow handler backs the tiny buffer up.
	block := make(chan struct{})
	bus.Subscribe(func(events.Event) { <-block }, nil)

	dropped := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if !bus.Publish(events.New(events.TypeCycle, "BTC/USD", nil)) {
				dropped = true
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	close(block)
	if !dropped {
		t.Fatal("expected drops on a saturated buffer")
	}
}
