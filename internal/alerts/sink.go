// Package alerts delivers operator notifications off the hot path. A failed
// or slow notifier can never stall a decision cycle.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers a single alert. Implementations may block or fail;
// the sink isolates the pipeline from both.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
		zap.String("symbol", alert.Symbol),
	}
	switch alert.Severity {
	case SeverityCritical:
		n.logger.Error(alert.Title, fields...)
	case SeverityWarning:
		n.logger.Warn(alert.Title, fields...)
	default:
		n.logger.Info(alert.Title, fields...)
	}
	return nil
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	client *resty.Client
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: resty.New().SetBaseURL(url).SetTimeout(timeout),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	resp, err := n.client.R().SetContext(ctx).SetBody(alert).Post("")
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned %s", resp.Status())
	}
	return nil
}

// Sink queues alerts and delivers them on a background worker. Send is
// fire-and-forget: a full queue drops the alert rather than blocking.
type Sink struct {
	logger    *zap.Logger
	notifiers []Notifier
	queue     chan Alert

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// NewSink starts a sink delivering to the given notifiers.
func NewSink(logger *zap.Logger, bufferSize int, notifiers ...Notifier) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		logger:    logger.Named("alert-sink"),
		notifiers: notifiers,
		queue:     make(chan Alert, bufferSize),
		cancel:    cancel,
	}
	s.wg.Add(1)
	go s.deliver(ctx)
	return s
}

// Send enqueues an alert without blocking. A full queue counts a drop.
func (s *Sink) Send(severity Severity, title, message, symbol string) {
	alert := Alert{
		Severity:  severity,
		Title:     title,
		Message:   message,
		Symbol:    symbol,
		CreatedAt: time.Now(),
	}
	select {
	case s.queue <- alert:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped returns how many alerts were discarded on a full queue.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the worker after the queue drains.
func (s *Sink) Close() {
	close(s.queue)
	s.wg.Wait()
	s.cancel()
}

func (s *Sink) deliver(ctx context.Context) {
	defer s.wg.Done()
	for alert := range s.queue {
		for _, notifier := range s.notifiers {
			notifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := notifier.Notify(notifyCtx, alert); err != nil {
				s.logger.Warn("alert delivery failed",
					zap.String("title", alert.Title),
					zap.Error(err))
			}
			cancel()
		}
	}
}
