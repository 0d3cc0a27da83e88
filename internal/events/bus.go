// Package events routes decision-pipeline events to in-process subscribers:
// the websocket hub, the alert sink, and anything else that wants a feed.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// Type is the category of a pipeline event.
type Type string

const (
	TypeCycle     Type = "cycle"
	TypeSignal    Type = "signal"
	TypeTrade     Type = "trade"
	TypeRisk      Type = "risk_rejection"
	TypeOptimizer Type = "optimizer"
	TypePhase     Type = "phase_transition"
	TypeError     Type = "error"
)

// Event is one pipeline occurrence. Payload holds the typed detail struct
// (CyclePayload, types.TradingSignal, and so on) and serializes as-is.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// New creates an event with a fresh ID and timestamp.
func New(eventType Type, symbol string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Symbol:    symbol,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// CyclePayload summarizes one completed decision cycle.
type CyclePayload struct {
	Regime    types.MarketRegime `json:"regime"`
	Action    types.SignalAction `json:"action"`
	Phase     string             `json:"phase"`
	Validated *bool              `json:"validated,omitempty"` // nil when validation was not gated on
	Duration  time.Duration      `json:"duration"`
}

// RiskPayload describes a rejected order.
type RiskPayload struct {
	Pair   string `json:"pair"`
	Reason string `json:"reason"`
}

// PhasePayload describes a phase transition.
type PhasePayload struct {
	From       string `json:"from"`
	To         string `json:"to"`
	TradeCount int    `json:"tradeCount"`
}

// Handler processes one event. Handlers run on bus workers; a slow handler
// delays other events, a panicking one is contained and counted.
type Handler func(Event)

// Filter selects which events a subscription receives.
type Filter func(Event) bool

// Stats is a snapshot of the bus counters.
type Stats struct {
	Published   int64 `json:"published"`
	Processed   int64 `json:"processed"`
	Dropped     int64 `json:"dropped"`
	Panics      int64 `json:"panics"`
	Subscribers int   `json:"subscribers"`
}

type subscription struct {
	id      string
	types   map[Type]struct{} // nil means all types
	filter  Filter
	handler Handler
	active  atomic.Bool
}

// Bus fans events out to subscribers on a small worker pool. Publish never
// blocks the pipeline: when the buffer is full the event is dropped and
// counted.
type Bus struct {
	logger    *zap.Logger
	eventChan chan Event

	mu   sync.RWMutex
	subs []*subscription

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus starts a bus with the given worker count and buffer size.
func NewBus(logger *zap.Logger, workers, bufferSize int) *Bus {
	if workers <= 0 {
		workers = 4
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:    logger.Named("event-bus"),
		eventChan: make(chan Event, bufferSize),
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return b
}

// Subscribe registers a handler for the given event types (none means all).
// The returned cancel function deactivates the subscription.
func (b *Bus) Subscribe(handler Handler, filter Filter, eventTypes ...Type) func() {
	sub := &subscription{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
	}
	if len(eventTypes) > 0 {
		sub.types = make(map[Type]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.types[t] = struct{}{}
		}
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() { sub.active.Store(false) }
}

// Publish enqueues an event without blocking. Returns false when the
// buffer was full and the event was dropped.
func (b *Bus) Publish(event Event) bool {
	select {
	case b.eventChan <- event:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := 0
	for _, sub := range b.subs {
		if sub.active.Load() {
			n++
		}
	}
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Processed:   b.processed.Load(),
		Dropped:     b.dropped.Load(),
		Panics:      b.panics.Load(),
		Subscribers: n,
	}
}

// Close stops the workers. Buffered events that have not been picked up
// are discarded.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		if sub.types != nil {
			if _, ok := sub.types[event.Type]; !ok {
				continue
			}
		}
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		b.run(sub, event)
	}
	b.processed.Add(1)
}

func (b *Bus) run(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panic",
				zap.String("subscription", sub.id),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}
