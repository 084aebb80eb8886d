package eventing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// TxState is the state of the logical transaction a Session carries.
type TxState int

// Transaction states.
const (
	TxNotStarted TxState = iota
	TxCommitted
	TxRolledBack
)

// String returns the state name.
func (s TxState) String() string {
	switch s {
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "not started"
	}
}

// Session is a logical database session with reference-counted nested
// transactions. Nested Begin calls share the outermost physical transaction;
// only the outermost Commit commits it. Once any participant rolls back, the
// whole group is doomed and Commit fails with ErrTxRolledBack.
//
// A Session must not be shared between goroutines running independent
// compound operations. Give each worker its own Session (or pass nil to Store
// methods, which then use a private one).
type Session struct {
	db     *sql.DB
	txOpts *sql.TxOptions
	rebind func(string) string

	mu    sync.Mutex
	tx    *sql.Tx
	depth int
	state TxState
}

func newSession(db *sql.DB, txOpts *sql.TxOptions, rebind func(string) string) *Session {
	return &Session{
		db:     db,
		txOpts: txOpts,
		rebind: rebind,
	}
}

// Begin starts a transaction, or joins the running one.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, s.txOpts)
		if err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "begin transaction", err)
		}
		s.tx = tx
		s.state = TxNotStarted
	}
	s.depth++
	return nil
}

// Commit leaves one nesting level. The outermost Commit performs the physical
// commit. Commit after a nested Rollback returns ErrTxRolledBack and still
// leaves the level; leaving the outermost level then rolls back.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoTransaction
	}

	s.depth--
	if s.state == TxRolledBack {
		if s.depth == 0 {
			if err := s.release(); err != nil {
				return err
			}
		}
		return ErrTxRolledBack
	}

	s.state = TxCommitted
	if s.depth > 0 {
		return nil
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		s.state = TxRolledBack
		return NewErrorWithCause(ErrCodeDatabase, "commit transaction", err)
	}
	return nil
}

// Rollback leaves one nesting level and dooms the transaction group. The
// physical rollback happens when the outermost level is left; repeated calls
// only unwind the depth.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoTransaction
	}

	s.state = TxRolledBack
	s.depth--
	if s.depth > 0 {
		return nil
	}
	return s.release()
}

// release rolls back and forgets the physical transaction. Callers hold mu.
func (s *Session) release() error {
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return NewErrorWithCause(ErrCodeDatabase, "rollback transaction", err)
	}
	return nil
}

// InTx runs fn inside a (possibly nested) transaction. fn's error rolls the
// level back and is returned unchanged.
func (s *Session) InTx(ctx context.Context, fn func(sess *Session) error) (err error) {
	if err = s.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = s.Rollback()
			panic(p)
		}
	}()

	if err = fn(s); err != nil {
		_ = s.Rollback()
		return err
	}
	return s.Commit()
}

// InTransaction reports whether a transaction is running.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Depth returns the current nesting depth.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// State returns the state of the current (or last) transaction.
func (s *Session) State() TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn returns the running transaction, or the pool outside of one.
func (s *Session) conn() queryer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Session) bind(query string) string {
	if s.rebind == nil {
		return query
	}
	return s.rebind(query)
}

// Exec runs a statement in the current transaction (if any) and returns the
// number of affected rows.
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := s.conn().ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "execute statement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "read affected rows", err)
	}
	return n, nil
}

// Query runs a query in the current transaction (if any).
func (s *Session) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.conn().QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "execute query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query in the current transaction (if any).
// Use scanRow to translate its errors.
func (s *Session) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.conn().QueryRowContext(ctx, s.bind(query), args...)
}

// scanRow scans row into dest, mapping sql.ErrNoRows to ErrNoData.
func scanRow(row *sql.Row, what string, dest ...interface{}) error {
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("%s not found", what), err)
		}
		return NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("load %s", what), err)
	}
	return nil
}
