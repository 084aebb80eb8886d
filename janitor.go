package eventing

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/eventing/model"
)

// Janitor keeps the store tidy: it fails pending events that can never be
// delivered and trims the ledgers, old topic events and orphaned payloads.
type Janitor struct {
	sweeper             Sweeper
	ledger              LedgerRepository
	logger              Logger
	notificationService NotificationService
	clock               func() time.Time
	batchSize           int
	retention           time.Duration
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor) error

// SweepResult counts what one Sweep call did.
type SweepResult struct {
	Expired           int
	Exhausted         int
	Superseded        int
	ConsumedPurged    int64
	FailedPurged      int64
	TopicEventsPurged int64
	PayloadsDeleted   int64
}

// NewJanitor creates a Janitor.
//
// Required options:
//   - WithSweeper: fails expired, exhausted and superseded events
//
// Optional options:
//   - WithLedger + WithRetention: purge ledgers older than the retention
//   - WithJanitorLogger, WithJanitorNotifications, WithSweepBatchSize, WithJanitorClock
func NewJanitor(opts ...JanitorOption) (*Janitor, error) {
	j := &Janitor{
		logger:              &NoopLogger{},
		notificationService: &NoOpNotificationService{},
		clock:               time.Now,
		batchSize:           500,
	}

	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply janitor option", err)
		}
	}

	if j.sweeper == nil {
		return nil, NewError(ErrCodeConfiguration, "Sweeper is required (use WithSweeper)")
	}
	if j.retention > 0 && j.ledger == nil {
		return nil, NewError(ErrCodeConfiguration, "retention needs a LedgerRepository (use WithLedger)")
	}

	return j, nil
}

// WithSweeper sets the sweeper. Required.
func WithSweeper(sweeper Sweeper) JanitorOption {
	return func(j *Janitor) error {
		if sweeper == nil {
			return fmt.Errorf("sweeper cannot be nil")
		}
		j.sweeper = sweeper
		return nil
	}
}

// WithLedger sets the ledger repository used for purging.
func WithLedger(ledger LedgerRepository) JanitorOption {
	return func(j *Janitor) error {
		if ledger == nil {
			return fmt.Errorf("ledger cannot be nil")
		}
		j.ledger = ledger
		return nil
	}
}

// WithRetention sets how long ledger rows and topic events are kept.
// Zero disables purging.
func WithRetention(d time.Duration) JanitorOption {
	return func(j *Janitor) error {
		if d < 0 {
			return fmt.Errorf("retention must be >= 0, got %v", d)
		}
		j.retention = d
		return nil
	}
}

// WithSweepBatchSize caps how many rows one sweep step handles.
// Default is 500.
func WithSweepBatchSize(size int) JanitorOption {
	return func(j *Janitor) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		j.batchSize = size
		return nil
	}
}

// WithJanitorLogger sets the logger.
func WithJanitorLogger(logger Logger) JanitorOption {
	return func(j *Janitor) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		j.logger = logger
		return nil
	}
}

// WithJanitorNotifications sets the notification service.
func WithJanitorNotifications(service NotificationService) JanitorOption {
	return func(j *Janitor) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		j.notificationService = service
		return nil
	}
}

// WithJanitorClock replaces time.Now for retention cutoffs.
func WithJanitorClock(clock func() time.Time) JanitorOption {
	return func(j *Janitor) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		j.clock = clock
		return nil
	}
}

// Sweep runs one maintenance pass. It stops at the first error and returns
// what was done so far.
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var err error

	result.Expired, err = j.sweeper.FailExpiredEvents(ctx, nil, j.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to sweep expired events: %w", err)
	}
	j.notify(ctx, model.ReasonExpired, result.Expired)

	result.Exhausted, err = j.sweeper.FailExhaustedEvents(ctx, nil, j.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to sweep exhausted events: %w", err)
	}
	j.notify(ctx, model.ReasonMaxDeliveriesReached, result.Exhausted)

	result.Superseded, err = j.sweeper.FailSupersededEvents(ctx, nil, j.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to sweep superseded events: %w", err)
	}
	j.notify(ctx, model.ReasonSuperseded, result.Superseded)

	if j.retention <= 0 {
		return result, nil
	}

	cutoff := j.clock().UTC().Add(-j.retention)

	if result.ConsumedPurged, err = j.ledger.PurgeConsumedBefore(ctx, cutoff); err != nil {
		return result, fmt.Errorf("failed to purge consumed ledger: %w", err)
	}
	if result.FailedPurged, err = j.ledger.PurgeFailedBefore(ctx, cutoff); err != nil {
		return result, fmt.Errorf("failed to purge failed ledger: %w", err)
	}
	if result.TopicEventsPurged, err = j.ledger.PurgeTopicEventsBefore(ctx, cutoff); err != nil {
		return result, fmt.Errorf("failed to purge topic events: %w", err)
	}
	if result.PayloadsDeleted, err = j.ledger.DeleteOrphanedPayloads(ctx, j.batchSize); err != nil {
		return result, fmt.Errorf("failed to delete orphaned payloads: %w", err)
	}

	return result, nil
}

func (j *Janitor) notify(ctx context.Context, reason model.ReasonType, count int) {
	if count == 0 {
		return
	}
	j.logger.Infof("Failed %d pending events: reason=%s", count, reason)
	if err := j.notificationService.NotifyEventsSwept(ctx, reason, count); err != nil {
		j.logger.Warnf("Failed to send sweep notification: %v", err)
	}
}

// Run sweeps every interval until ctx is canceled.
//
// This method blocks and should typically be run in a goroutine.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("Janitor started")

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		case <-ticker.C:
			result, err := j.Sweep(ctx)
			if err != nil {
				j.logger.Errorf("Sweep failed: %v", err)
			}
			if result != (SweepResult{}) {
				j.logger.Infof("Sweep: expired=%d, exhausted=%d, consumed_purged=%d, failed_purged=%d, topic_events_purged=%d, payloads_deleted=%d",
					result.Expired, result.Exhausted, result.ConsumedPurged, result.FailedPurged,
					result.TopicEventsPurged, result.PayloadsDeleted)
			}
		}
	}
}
