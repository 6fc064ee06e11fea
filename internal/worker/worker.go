// Package worker consumes scan requests from the event bus and runs them
// through the scan pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/validation"
)

// Processor runs one scan. *pipeline.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, req domain.ScanRequest) *pipeline.Outcome
}

// Worker processes scan requests asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	processor Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, processor Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to scan requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScanRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScanRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("scan worker started", "topic", domain.TopicScanRequested)
	return nil
}

// handleMessage decodes and processes one scan request. When the message
// carries a reply topic the outcome is also sent there.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.ScanRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.countFailure()
		slog.Error("failed to parse scan request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if err := validation.ValidateStruct(&req); err != nil {
		w.countFailure()
		slog.Warn("rejected scan request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	out := w.processor.Process(ctx, req)

	if replyTo := msg.Metadata[bus.MetaReplyTo]; replyTo != "" {
		if err := bus.PublishJSON(ctx, w.bus, replyTo, out); err != nil {
			slog.Error("failed to publish scan reply",
				"message_id", msg.ID,
				"threat_id", out.ThreatID,
				"error", err,
			)
		}
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	slog.Info("scan processed",
		"message_id", msg.ID,
		"threat_id", out.ThreatID,
		"severity", string(out.Item.Severity),
		"blocked", out.Blocked,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) countFailure() {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("scan worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
