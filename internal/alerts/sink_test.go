package alerts_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helios-trade/decision-core/internal/alerts"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	delivered atomic.Int64
	block     chan struct{} // when non-nil, Notify blocks until closed
}

func (n *recordingNotifier) Notify(context.Context, alerts.Alert) error {
	if n.block != nil {
		<-n.block
	}
	n.delivered.Add(1)
	return nil
}

func TestSinkDeliversAsync(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := alerts.NewSink(zap.NewNop(), 16, notifier)

	sink.Send(alerts.SeverityWarning, "feed degraded", "3 consecutive failures", "BTC/USD")
	sink.Send(alerts.SeverityCritical, "budget exhausted", "daily budget spent", "")

	deadline := time.Now().Add(2 * time.Second)
	for notifier.delivered.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.delivered.Load() != 2 {
		t.Fatalf("delivered = %d, want 2", notifier.delivered.Load())
	}
	sink.Close()
}

func TestSendNeverBlocks(t *testing.T) {
	notifier := &recordingNotifier{block: make(chan struct{})}
	sink := alerts.NewSink(zap.NewNop(), 1, notifier)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			sink.Send(alerts.SeverityInfo, "tick", "noise", "")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a stalled notifier")
	}
	if sink.Dropped() == 0 {
		t.Fatal("expected drops when the queue is saturated")
	}
	close(notifier.block)
	sink.Close()
}

func TestCloseDrainsQueue(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := alerts.NewSink(zap.NewNop(), 64, notifier)

	for i := 0; i < 10; i++ {
		sink.Send(alerts.SeverityInfo, "cycle", "completed", "BTC/USD")
	}
	sink.Close()

	if notifier.delivered.Load() != 10 {
		t.Fatalf("delivered = %d after Close, want 10", notifier.delivered.Load())
	}
}
