package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/dbscope/internal/engine"
)

// TxState is the explicit transaction-state query on a session.
//
// It replaces reliance on driver-internal flags: the session itself tracks
// whether a transaction is open, absent, or poisoned.
type TxState int

const (
	// TxNone means no transaction is open (before first statement, or
	// after an explicit Commit/Rollback).
	TxNone TxState = iota

	// TxActive means a transaction is open and healthy.
	TxActive

	// TxBroken means a transaction is open but a statement inside it
	// failed. Commit is skipped during finalization; close rolls back.
	TxBroken
)

// String returns a human-readable state name for logging.
func (s TxState) String() string {
	switch s {
	case TxNone:
		return "none"
	case TxActive:
		return "active"
	case TxBroken:
		return "broken"
	default:
		return fmt.Sprintf("txstate(%d)", int(s))
	}
}

// Session coordinates one logical transaction against one engine or one
// pre-established connection.
//
// The connection is checked out of the pool and the transaction begun
// lazily, on the first statement. See the package documentation for the
// finalization and concurrency contract.
type Session struct {
	factory *Factory

	// bind is the statement target, nil when unbound (multi-engine setup).
	bind *engine.Engine

	// extConn is a caller-supplied connection used instead of the pool
	// (test-isolation path). The session never closes it.
	extConn *sql.Conn

	// info is an application-defined metadata map, copied from the factory
	// config at construction.
	info map[string]any

	mu        sync.Mutex
	conn      *sql.Conn
	tx        *sql.Tx
	broken    bool
	closed    bool
	finalized bool
}

// Info returns the session's application-defined metadata map.
func (s *Session) Info() map[string]any {
	return s.info
}

// Engine returns the bound engine, or nil for an unbound or
// connection-bound session.
func (s *Session) Engine() *engine.Engine {
	return s.bind
}

// TxState reports the session's transaction state.
func (s *Session) TxState() TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.tx == nil:
		return TxNone
	case s.broken:
		return TxBroken
	default:
		return TxActive
	}
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool {
	return s.TxState() != TxNone
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// begin lazily checks out a connection and opens a transaction.
// Callers must hold s.mu.
//
// The pool checkout honours the caller's context; waiting for a free
// connection is ordinary application work and must respect deadlines and
// cancellation. Only the transaction itself is anchored to a detached
// context, so that once begun it cannot be torn down by the caller's
// cancellation mid-flight; the session's finalization owns that lifetime.
func (s *Session) begin(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.tx != nil {
		if s.broken {
			// Keep the poisoned transaction visible until it is rolled
			// back; silently stacking statements on it helps nobody.
			return fmt.Errorf("%w: transaction is broken, roll back first", ErrNoTransaction)
		}
		return nil
	}

	checkedOut := false
	if s.conn == nil {
		if s.extConn != nil {
			s.conn = s.extConn
		} else {
			if s.bind == nil {
				return ErrBindRequired
			}
			conn, err := s.bind.Conn(ctx)
			if err != nil {
				return err
			}
			s.conn = conn
			checkedOut = true
		}
	}

	tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		if checkedOut {
			s.conn.Close() //nolint:errcheck // Returning the begin error
			s.conn = nil
		}
		return fmt.Errorf("beginning transaction: %w", err)
	}
	s.tx = tx
	s.factory.notifyBegin(s)
	return nil
}

// Exec executes a statement inside the session's transaction, beginning
// the transaction (and checking out a connection) on first use.
//
// Parameters:
//   - ctx: Context for timeout/cancellation of this statement only
//   - query: SQL with placeholders
//   - args: Placeholder arguments
//
// Returns:
//   - sql.Result: Driver result
//   - error: ErrBindRequired, ErrClosed, or the driver error (which also
//     marks the transaction broken)
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		s.broken = true
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	return res, nil
}

// Query executes a query inside the session's transaction.
//
// The caller must close the returned rows before the session is finalized.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		s.broken = true
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// QueryRow executes a single-row query inside the session's transaction.
//
// Returns:
//   - *sql.Row: Row to scan; errors surface from Scan
//   - error: ErrBindRequired or ErrClosed if the transaction cannot begin
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s.tx.QueryRowContext(ctx, query, args...), nil
}

// Commit commits the open transaction.
//
// On commit failure a best-effort rollback runs before the commit error is
// returned; either way the transaction is gone afterwards. The connection
// stays checked out for further use until Close.
//
// Returns:
//   - error: ErrNoTransaction, ErrClosed, or the commit error
func (s *Session) Commit() error {
	s.mu.Lock()
	err := s.commitLocked()
	s.mu.Unlock()

	if err == nil {
		s.factory.notifyCommit(s)
	}
	return err
}

// commitLocked commits the open transaction. Callers must hold s.mu.
func (s *Session) commitLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	if s.broken {
		return fmt.Errorf("%w: transaction is broken", ErrNoTransaction)
	}

	err := s.tx.Commit()
	if err != nil {
		// The transaction's fate is unknown; roll back so the connection
		// returns to a clean state before anyone reuses it.
		s.tx.Rollback() //nolint:errcheck // Best effort after failed commit
		s.tx = nil
		return fmt.Errorf("committing transaction: %w", err)
	}
	s.tx = nil
	return nil
}

// Rollback rolls back the open transaction.
//
// After Rollback the session has no transaction; automatic finalization
// will skip commit and close cleanly (the broken-transaction skip).
//
// Returns:
//   - error: ErrNoTransaction, ErrClosed, or the rollback error
func (s *Session) Rollback() error {
	s.mu.Lock()
	err := s.rollbackLocked()
	s.mu.Unlock()

	if err == nil {
		s.factory.notifyRollback(s)
	}
	return err
}

// rollbackLocked rolls back the open transaction. Callers must hold s.mu.
func (s *Session) rollbackLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTransaction
	}

	err := s.tx.Rollback()
	s.tx = nil
	s.broken = false
	if err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Close closes the session: any open transaction is rolled back and the
// connection returns to the pool.
//
// Closing an already-closed session returns ErrClosed (detected misuse);
// the automatic finalizer tolerates an application-initiated close without
// touching the connection twice.
//
// Returns:
//   - error: ErrClosed on double close, or the rollback/release error
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	err := s.closeLocked()
	s.mu.Unlock()

	s.factory.notifyClose(s)
	return err
}

// closeLocked rolls back and releases. Callers must hold s.mu; s.closed
// must be false.
func (s *Session) closeLocked() error {
	s.closed = true

	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("rolling back on close: %w", err))
		}
		s.tx = nil
		s.broken = false
	}

	// Release the connection back to the pool. Caller-supplied connections
	// belong to the caller; only the transaction is finished on them.
	if s.conn != nil && s.extConn == nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing connection: %w", err))
		}
	}
	s.conn = nil

	if len(errs) > 0 {
		return fmt.Errorf("closing session: %w", errors.Join(errs...))
	}
	return nil
}

// finalize runs the commit-or-rollback-then-close sequence exactly once.
//
// clean reports whether the owning context completed without an error.
// Called by the Manager on the commit executor; the session mutex is the
// mutual-exclusion guard that makes an explicit application Close racing
// with this finalizer safe.
func (s *Session) finalize(clean bool) (finalOutcome, error) {
	s.mu.Lock()

	if s.finalized {
		s.mu.Unlock()
		return outcomeNoop, ErrAlreadyFinalized
	}
	s.finalized = true

	if s.closed {
		// Application closed the session itself; nothing left to do.
		s.mu.Unlock()
		return outcomeNoop, nil
	}

	outcome := outcomeRollback
	var commitErr error
	if s.tx != nil && clean && !s.broken {
		commitErr = s.commitLocked()
		if commitErr == nil {
			outcome = outcomeCommit
		} else if s.tx != nil {
			// commitLocked already rolled back; this branch is for safety
			// if the transaction somehow survived.
			s.tx.Rollback() //nolint:errcheck // Best effort cleanup
			s.tx = nil
		}
	} else if s.tx == nil {
		outcome = outcomeNoop
	}

	closeErr := s.closeLocked()
	s.mu.Unlock()

	if outcome == outcomeCommit {
		s.factory.notifyCommit(s)
	}
	s.factory.notifyClose(s)

	// Commit failure outranks close failure: the durable outcome is what
	// the caller must hear about first.
	if commitErr != nil {
		return outcomeRollback, fmt.Errorf("%w: %w", ErrFinalize, commitErr)
	}
	if closeErr != nil {
		return outcome, fmt.Errorf("%w: %w", ErrFinalize, closeErr)
	}
	return outcome, nil
}

// finalOutcome records what finalization actually did, for counters.
type finalOutcome int

const (
	outcomeNoop finalOutcome = iota
	outcomeCommit
	outcomeRollback
)
