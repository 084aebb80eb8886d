package eventing

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coregx/eventing/model"
	"github.com/coregx/eventing/retry"
)

const tracerName = "github.com/coregx/eventing"

// Store is the relational event store: catalog, publication primitives and
// the consumption engine. It is safe for concurrent use; transactional state
// lives in the *Session passed to each call.
//
// Every method takes a *Session. Pass nil to run the call on its own private
// session, or pass a session with a running transaction to make the call part
// of it.
type Store struct {
	db             *sql.DB
	dialect        Dialect
	logger         Logger
	prefix         string
	clock          func() time.Time
	retryStrategy  retry.Strategy
	txOpts         sql.TxOptions
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	rebind         func(string) string
	tables         tableNames
}

type tableNames struct {
	topic             string
	subscription      string
	topicSubscription string
	filter            string
	payload           string
	topicEvent        string
	subscriptionEvent string
	lastConsumed      string
	consumed          string
	failed            string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		topic:             prefix + model.TableTopic,
		subscription:      prefix + model.TableSubscription,
		topicSubscription: prefix + model.TableTopicSubscription,
		filter:            prefix + model.TableTopicSubscriptionFilter,
		payload:           prefix + model.TableEventPayload,
		topicEvent:        prefix + model.TableTopicEvent,
		subscriptionEvent: prefix + model.TableSubscriptionEvent,
		lastConsumed:      prefix + model.TableLastConsumed,
		consumed:          prefix + model.TableConsumed,
		failed:            prefix + model.TableFailed,
	}
}

// NewStore creates a Store.
//
// Required options:
//   - WithDB: the database handle
//
// Optional options:
//   - WithDialect (default BaseDialect)
//   - WithLogger (default NoopLogger)
//   - WithTablePrefix (default "eventing_")
//   - WithClock, WithRetryStrategy, WithIsolation, WithTracerProvider
//
// Example:
//
//	store, err := eventing.NewStore(
//	    eventing.WithDB(db),
//	    eventing.WithDialect(sqlite.New()),
//	)
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{
		dialect:       BaseDialect{},
		logger:        &NoopLogger{},
		prefix:        model.DefaultTablePrefix,
		clock:         time.Now,
		retryStrategy: retry.DefaultStrategy(),
		txOpts:        sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply store option", err)
		}
	}

	if s.db == nil {
		return nil, NewError(ErrCodeConfiguration, "database is required (use WithDB)")
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otelTracerProvider()
	}
	s.tracer = s.tracerProvider.Tracer(tracerName)
	if rb, ok := s.dialect.(Rebinder); ok {
		s.rebind = rb.Rebind
	}
	s.tables = newTableNames(s.prefix)

	return s, nil
}

// NewSession opens a new logical session. Sessions are cheap; a physical
// connection is only pinned while a transaction runs.
func (s *Store) NewSession() *Session {
	opts := s.txOpts
	return newSession(s.db, &opts, s.rebind)
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the configured dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// TablePrefix returns the table name prefix.
func (s *Store) TablePrefix() string { return s.prefix }

func (s *Store) session(sess *Session) *Session {
	if sess != nil {
		return sess
	}
	return s.NewSession()
}

// now returns the store clock in UTC, truncated to the microsecond precision
// every supported backend can store.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "eventing."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, attribute.String("db.system", s.dialect.Name()))...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// utc normalizes stored timestamps; sqlite compares them as text.
func utc(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}
