package eventing

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/coregx/eventing/retry"
)

// StoreOption configures a Store.
//
// Example:
//
//	store, err := eventing.NewStore(
//	    eventing.WithDB(db),
//	    eventing.WithDialect(postgres.New()),
//	    eventing.WithLogger(logger),
//	    eventing.WithTablePrefix("broker_"), // optional
//	)
type StoreOption func(*Store) error

// WithDB sets the database handle. Required.
func WithDB(db *sql.DB) StoreOption {
	return func(s *Store) error {
		if db == nil {
			return fmt.Errorf("db cannot be nil")
		}
		s.db = db
		return nil
	}
}

// WithDialect sets the backend dialect. Defaults to BaseDialect.
func WithDialect(d Dialect) StoreOption {
	return func(s *Store) error {
		if d == nil {
			return fmt.Errorf("dialect cannot be nil")
		}
		s.dialect = d
		return nil
	}
}

// WithLogger sets the store logger.
func WithLogger(logger Logger) StoreOption {
	return func(s *Store) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithTablePrefix sets the prefix of every table name. It must match the
// prefix the migrations were applied with.
func WithTablePrefix(prefix string) StoreOption {
	return func(s *Store) error {
		if strings.ContainsAny(prefix, " ;'\"`") {
			return fmt.Errorf("invalid table prefix %q", prefix)
		}
		s.prefix = prefix
		return nil
	}
}

// WithClock replaces time.Now. Tests use it to move time forward.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.clock = clock
		return nil
	}
}

// WithRetryStrategy bounds the transient-error retry loop of MarkConsumed.
// Defaults to retry.DefaultStrategy().
func WithRetryStrategy(strategy retry.Strategy) StoreOption {
	return func(s *Store) error {
		if err := strategy.Validate(); err != nil {
			return fmt.Errorf("invalid retry strategy: %w", err)
		}
		s.retryStrategy = strategy
		return nil
	}
}

// WithIsolation sets the isolation level of physical transactions.
// Defaults to sql.LevelReadCommitted.
func WithIsolation(level sql.IsolationLevel) StoreOption {
	return func(s *Store) error {
		s.txOpts.Isolation = level
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) StoreOption {
	return func(s *Store) error {
		if tp == nil {
			return fmt.Errorf("tracer provider cannot be nil")
		}
		s.tracerProvider = tp
		return nil
	}
}

func otelTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

// ConsumerOption configures a Consumer.
//
// Example:
//
//	consumer, err := eventing.NewConsumer(
//	    eventing.WithConsumerStore(store),
//	    eventing.WithSubscription("billing"),
//	    eventing.WithHandler(handle),
//	    eventing.WithBatchSize(20), // optional
//	)
type ConsumerOption func(*Consumer) error

// WithConsumerStore sets the consumption store. Required.
func WithConsumerStore(store ConsumptionStore) ConsumerOption {
	return func(c *Consumer) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		c.store = store
		return nil
	}
}

// WithSubscription sets the name of the subscription to consume. Required.
func WithSubscription(name string) ConsumerOption {
	return func(c *Consumer) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("subscription name cannot be empty")
		}
		c.subscription = name
		return nil
	}
}

// WithHandler sets the event handler. Required.
//
// Returning nil marks the event consumed. Returning a *Failure (see Reject)
// marks it failed. Any other error leaves the lease to expire so the event is
// redelivered, unless this was the last delivery the subscription allows.
func WithHandler(h Handler) ConsumerOption {
	return func(c *Consumer) error {
		if h == nil {
			return fmt.Errorf("handler cannot be nil")
		}
		c.handler = h
		return nil
	}
}

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(logger Logger) ConsumerOption {
	return func(c *Consumer) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithVisibilityTimeout sets how long a leased event stays hidden from other
// consumers. Default is 30 seconds.
func WithVisibilityTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) error {
		if d <= 0 {
			return fmt.Errorf("visibility timeout must be > 0, got %v", d)
		}
		c.visibilityTimeout = d
		return nil
	}
}

// WithBatchSize sets how many events one poll leases at most. Default is 10.
func WithBatchSize(size int) ConsumerOption {
	return func(c *Consumer) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		c.batchSize = size
		return nil
	}
}

// WithNotifications sets the notification service.
// Defaults to NoOpNotificationService.
func WithNotifications(service NotificationService) ConsumerOption {
	return func(c *Consumer) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		c.notificationService = service
		return nil
	}
}
