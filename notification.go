package eventing

import (
	"context"

	"github.com/coregx/eventing/model"
)

// NotificationService receives callbacks about delivery problems.
//
// Implementations might send emails, Slack messages, or feed monitoring
// systems.
type NotificationService interface {
	// NotifyEventFailed is called after an event was moved to the failed ledger.
	NotifyEventFailed(ctx context.Context, event model.ConsumableEvent, reason model.Reason) error

	// NotifyHandlerError is called when a handler returned an error and the
	// event was left for redelivery.
	NotifyHandlerError(ctx context.Context, event model.ConsumableEvent, err error) error

	// NotifyEventsSwept is called when the janitor failed pending events in bulk.
	NotifyEventsSwept(ctx context.Context, reason model.ReasonType, count int) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
type NoOpNotificationService struct{}

// NotifyEventFailed does nothing.
func (n *NoOpNotificationService) NotifyEventFailed(_ context.Context, _ model.ConsumableEvent, _ model.Reason) error {
	return nil
}

// NotifyHandlerError does nothing.
func (n *NoOpNotificationService) NotifyHandlerError(_ context.Context, _ model.ConsumableEvent, _ error) error {
	return nil
}

// NotifyEventsSwept does nothing.
func (n *NoOpNotificationService) NotifyEventsSwept(_ context.Context, _ model.ReasonType, _ int) error {
	return nil
}

// LoggingNotificationService logs every notification.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyEventFailed logs the failed event.
func (n *LoggingNotificationService) NotifyEventFailed(_ context.Context, event model.ConsumableEvent, reason model.Reason) error {
	n.logger.Warnf("Event failed: id=%s, subscription_id=%s, deliveries=%d, reason=%s, text=%q",
		event.ID, event.SubscriptionID, event.DeliveryCount, reason.Type, reason.Text)
	return nil
}

// NotifyHandlerError logs the handler error.
func (n *LoggingNotificationService) NotifyHandlerError(_ context.Context, event model.ConsumableEvent, err error) error {
	n.logger.Warnf("Handler failed: id=%s, subscription_id=%s, delivery=%d/%d, error=%v",
		event.ID, event.SubscriptionID, event.DeliveryCount, event.MaxDeliveries, err)
	return nil
}

// NotifyEventsSwept logs the sweep.
func (n *LoggingNotificationService) NotifyEventsSwept(_ context.Context, reason model.ReasonType, count int) error {
	n.logger.Infof("Swept %d pending events: reason=%s", count, reason)
	return nil
}
