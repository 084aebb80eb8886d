package eventing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/eventing/model"
)

// Handler processes one leased event.
type Handler func(ctx context.Context, event model.ConsumableEvent) error

// Failure is returned by a Handler to fail an event permanently instead of
// leaving it for redelivery.
type Failure struct {
	Reason model.Reason
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Reason.Text == "" {
		return fmt.Sprintf("event rejected: %s", f.Reason.Type)
	}
	return fmt.Sprintf("event rejected: %s: %s", f.Reason.Type, f.Reason.Text)
}

// Reject builds a *Failure with ReasonRejected.
func Reject(text string) error {
	return &Failure{Reason: model.Reason{Type: model.ReasonRejected, Text: text}}
}

// RejectWith builds a *Failure with an explicit reason type.
func RejectWith(reasonType model.ReasonType, text string) error {
	return &Failure{Reason: model.Reason{Type: reasonType, Text: text}}
}

// BatchResult counts the outcomes of one ProcessBatch call.
type BatchResult struct {
	Leased   int
	Consumed int
	Failed   int
	Retried  int // left for redelivery
	Lost     int // completed or re-leased by another consumer meanwhile
}

// Consumer polls one subscription, leases events and hands them to a Handler.
//
// Processing semantics:
//   - handler returns nil: the event is marked consumed
//   - handler returns a *Failure: the event is marked failed with its reason
//   - handler returns another error: the lease is left to expire and the
//     event is redelivered, unless this was the last delivery the
//     subscription allows, in which case it is failed with
//     ReasonMaxDeliveriesReached
//
// Delivery is at-least-once; handlers must be idempotent.
//
// Thread safety: safe for concurrent use. Each ProcessBatch call uses its own
// sessions.
type Consumer struct {
	store               ConsumptionStore
	handler             Handler
	logger              Logger
	notificationService NotificationService
	subscription        string
	visibilityTimeout   time.Duration
	batchSize           int
}

// NewConsumer creates a new consumer with the provided options.
//
// Required options:
//   - WithConsumerStore
//   - WithSubscription
//   - WithHandler
//
// Optional options:
//   - WithConsumerLogger (default NoopLogger)
//   - WithVisibilityTimeout (default 30s)
//   - WithBatchSize (default 10)
//   - WithNotifications (default NoOpNotificationService)
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		logger:              &NoopLogger{},
		notificationService: &NoOpNotificationService{},
		visibilityTimeout:   30 * time.Second,
		batchSize:           10,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if c.store == nil {
		return nil, NewError(ErrCodeConfiguration, "ConsumptionStore is required (use WithConsumerStore)")
	}
	if c.subscription == "" {
		return nil, NewError(ErrCodeConfiguration, "subscription is required (use WithSubscription)")
	}
	if c.handler == nil {
		return nil, NewError(ErrCodeConfiguration, "Handler is required (use WithHandler)")
	}

	return c, nil
}

// ProcessBatch leases up to the batch size and processes every leased event.
// Individual event failures are logged and counted, not returned.
func (c *Consumer) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	events, err := c.store.ConsumeNext(ctx, nil, c.subscription, c.visibilityTimeout, c.batchSize)
	result.Leased = len(events)
	if err != nil && len(events) == 0 {
		return result, fmt.Errorf("failed to lease events: %w", err)
	}
	if err != nil {
		c.logger.Warnf("Leased %d events of %s before an error: %v", len(events), c.subscription, err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		c.process(ctx, event, &result)
	}

	return result, nil
}

func (c *Consumer) process(ctx context.Context, event model.ConsumableEvent, result *BatchResult) {
	herr := c.handler(ctx, event)

	if herr == nil {
		err := c.store.MarkConsumed(ctx, nil, event.ID, event.DeliveryKey)
		c.count(err, &result.Consumed, result, event, "consume")
		return
	}

	var failure *Failure
	if errors.As(herr, &failure) {
		c.fail(ctx, event, failure.Reason, result)
		return
	}

	if event.LastAttempt() {
		c.logger.Warnf("Event %s failed its last delivery (%d/%d): %v",
			event.ID, event.DeliveryCount, event.MaxDeliveries, herr)
		c.fail(ctx, event, model.Reason{Type: model.ReasonMaxDeliveriesReached, Text: herr.Error()}, result)
		return
	}

	result.Retried++
	c.logger.Warnf("Handler failed for event %s (delivery %d), redelivery after %v: %v",
		event.ID, event.DeliveryCount, c.visibilityTimeout, herr)
	if err := c.notificationService.NotifyHandlerError(ctx, event, herr); err != nil {
		c.logger.Warnf("Failed to send handler error notification: %v", err)
	}
}

func (c *Consumer) fail(ctx context.Context, event model.ConsumableEvent, reason model.Reason, result *BatchResult) {
	err := c.store.MarkFailed(ctx, nil, event.ID, event.DeliveryKey, reason)
	if c.count(err, &result.Failed, result, event, "fail") {
		if nerr := c.notificationService.NotifyEventFailed(ctx, event, reason); nerr != nil {
			c.logger.Warnf("Failed to send event failure notification: %v", nerr)
		}
	}
}

// count books the outcome of a completion call and reports whether it succeeded.
func (c *Consumer) count(err error, success *int, result *BatchResult, event model.ConsumableEvent, op string) bool {
	switch {
	case err == nil:
		*success++
		return true
	case IsLeaseLost(err) || IsNoData(err):
		result.Lost++
		c.logger.Infof("Event %s was handled by another consumer: %v", event.ID, err)
	default:
		c.logger.Errorf("Failed to %s event %s: %v", op, event.ID, err)
	}
	return false
}

// Run polls until ctx is canceled. A batch that leased a full page is
// followed immediately by the next one; otherwise the consumer waits for
// interval.
//
// This method blocks and should typically be run in a goroutine.
//
// Example:
//
//	go consumer.Run(ctx, time.Second)
func (c *Consumer) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	c.logger.Infof("Consumer for %s started", c.subscription)

	for {
		select {
		case <-ctx.Done():
			c.logger.Infof("Consumer for %s stopped", c.subscription)
			return
		case <-timer.C:
			result, err := c.ProcessBatch(ctx)
			if err != nil {
				c.logger.Errorf("Error processing batch of %s: %v", c.subscription, err)
			}
			if result.Leased > 0 {
				c.logger.Debugf("Batch processed: leased=%d, consumed=%d, failed=%d, retried=%d, lost=%d",
					result.Leased, result.Consumed, result.Failed, result.Retried, result.Lost)
			}

			next := interval
			if err == nil && result.Leased >= c.batchSize {
				next = 0
			}
			timer.Reset(next)
		}
	}
}
