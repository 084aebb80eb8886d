package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/adapters/mysql"
	"github.com/coregx/eventing/adapters/postgres"
	"github.com/coregx/eventing/adapters/relica"
	"github.com/coregx/eventing/adapters/sqlite"
	"github.com/coregx/eventing/cmd/eventing-admin/internal/config"
	"github.com/coregx/eventing/cmd/eventing-admin/internal/logging"
)

// app is the wiring shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.ZapLogger
	db     *sql.DB
	store  *eventing.Store
	ledger *relica.LedgerRepository
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.Database.GetDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.Driver == sqlite.DriverName {
		db.SetMaxOpenConns(1)
	}

	store, err := eventing.NewStore(
		eventing.WithDB(db),
		eventing.WithDialect(dialectFor(cfg.Database.Driver)),
		eventing.WithLogger(logger),
		eventing.WithTablePrefix(cfg.Database.Prefix),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  store,
		ledger: relica.NewLedgerRepositoryWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix),
	}, nil
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	return config.Load(opts.ConfigPath)
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Errorf("Failed to close database: %v", err)
	}
	_ = a.logger.Sync()
}

func (a *app) notifications() eventing.NotificationService {
	if a.cfg.Notifications.Enabled {
		return eventing.NewLoggingNotificationService(a.logger)
	}
	return &eventing.NoOpNotificationService{}
}

func (a *app) janitor(retention bool) (*eventing.Janitor, error) {
	opts := []eventing.JanitorOption{
		eventing.WithSweeper(a.store),
		eventing.WithSweepBatchSize(a.cfg.Janitor.Batch),
		eventing.WithJanitorLogger(a.logger),
		eventing.WithJanitorNotifications(a.notifications()),
	}
	if retention && a.cfg.Janitor.Retention > 0 {
		opts = append(opts, eventing.WithLedger(a.ledger), eventing.WithRetention(a.cfg.Janitor.Retention))
	}
	return eventing.NewJanitor(opts...)
}

func dialectFor(driver string) eventing.Dialect {
	switch driver {
	case mysql.DriverName:
		return mysql.New()
	case postgres.DriverName:
		return postgres.New()
	default:
		return sqlite.New()
	}
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, opts *RootOptions, fn func(a *app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// render writes v as indented JSON, or calls text for the text format.
func render(w io.Writer, opts *RootOptions, v interface{}, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
