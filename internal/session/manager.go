package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nerrad567/dbscope/internal/lifecycle"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Manager scopes sessions to lifecycle contexts.
//
// For each context it lazily creates at most one session on first access,
// registers a completion hook, and finalizes the session when the context
// completes: commit on clean exit, rollback on failure, always close. The
// blocking finalization work runs on the commit executor.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Manager struct {
	factory *Factory
	exec    *Executor

	// ownsExec marks an implicitly created executor, stopped by Close.
	ownsExec bool

	mu   sync.Mutex
	live map[uuid.UUID]*Session

	// logger for finalization errors (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex

	// onFinalizeError observer (optional, set via SetOnFinalizeError).
	onFinalizeError   func(error)
	onFinalizeErrorMu sync.RWMutex

	// Counters for the metrics reporter.
	sessions       atomic.Int64
	commits        atomic.Int64
	rollbacks      atomic.Int64
	finalizeErrors atomic.Int64
}

// Stats is a snapshot of the manager's lifetime counters.
type Stats struct {
	// Sessions is the number of context sessions created.
	Sessions int64

	// Commits is the number of finalizations that committed.
	Commits int64

	// Rollbacks is the number of finalizations that rolled back.
	Rollbacks int64

	// FinalizeErrors is the number of finalizations that surfaced an error.
	FinalizeErrors int64

	// Live is the number of context sessions not yet finalized.
	Live int
}

// NewManager creates a context-scoped session manager.
//
// Parameters:
//   - factory: Session factory to draw sessions from
//   - exec: Commit executor; nil creates one implicitly with a
//     conservative size (DefaultExecutorWorkers)
//
// Returns:
//   - *Manager: Ready manager; stop it with Close at shutdown
func NewManager(factory *Factory, exec *Executor) *Manager {
	m := &Manager{
		factory: factory,
		live:    make(map[uuid.UUID]*Session),
	}
	if exec == nil {
		exec = NewExecutor(DefaultExecutorWorkers)
		m.ownsExec = true
	}
	m.exec = exec
	return m
}

// SetLogger sets a logger for finalization errors and detected misuse.
// If not set, such conditions are only visible on the error path.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// SetOnFinalizeError registers a callback invoked whenever a finalization
// surfaces an error (commit or close failure; not duplicate-finalization
// misuse). The callback runs on the finalizing goroutine and must not block.
func (m *Manager) SetOnFinalizeError(callback func(error)) {
	m.onFinalizeErrorMu.Lock()
	m.onFinalizeError = callback
	m.onFinalizeErrorMu.Unlock()
}

// notifyFinalizeError invokes the registered observer, if any.
func (m *Manager) notifyFinalizeError(err error) {
	m.onFinalizeErrorMu.RLock()
	callback := m.onFinalizeError
	m.onFinalizeErrorMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// SessionFor returns the session scoped to lctx, creating it on first call.
//
// The first call instantiates a session from the factory and registers a
// completion hook on the context; every later call for the same context
// returns the same session. The session must not be shared with other
// contexts or used from concurrent goroutines.
//
// Parameters:
//   - lctx: The owning lifecycle context
//
// Returns:
//   - *Session: The context's session
//   - error: lifecycle.ErrFinished if the context already completed
func (m *Manager) SessionFor(lctx *lifecycle.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.live[lctx.ID()]; ok {
		return s, nil
	}

	s := m.factory.Session()
	_, err := lctx.OnCompletion(func(ctx context.Context, c lifecycle.Completion) error {
		return m.finalizeHook(lctx.ID(), s, c)
	})
	if err != nil {
		return nil, fmt.Errorf("registering completion hook: %w", err)
	}

	m.live[lctx.ID()] = s
	m.sessions.Add(1)
	return s, nil
}

// ResourceFactory adapts SessionFor to the lifecycle resource factory
// contract, for publishing the per-context session as a lazy resource.
func (m *Manager) ResourceFactory() lifecycle.Factory {
	return func(lctx *lifecycle.Context) (any, error) {
		return m.SessionFor(lctx)
	}
}

// finalizeHook runs as the context completion hook. It dispatches the
// blocking commit/rollback/close work to the executor and waits for the
// result, so the context's Finish reports finalization errors but the
// hook's goroutine never performs synchronous database I/O itself.
//
// Once started, finalization is not cancellable: the session anchors its
// transaction to a detached context and the executor drains its queue on
// shutdown, so a close that has begun always completes and the connection
// returns to the pool.
func (m *Manager) finalizeHook(id uuid.UUID, s *Session, c lifecycle.Completion) error {
	defer func() {
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
	}()

	clean := c.Outcome == lifecycle.OutcomeClean

	errCh := make(chan error, 1)
	task := func() {
		outcome, err := s.finalize(clean)
		switch outcome {
		case outcomeCommit:
			m.commits.Add(1)
		case outcomeRollback:
			m.rollbacks.Add(1)
		}
		errCh <- err
	}

	if submitErr := m.exec.Submit(task); submitErr != nil {
		// The executor is gone (late shutdown). Run inline rather than
		// leak a checked-out connection.
		task()
	}

	err := <-errCh
	if err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			if logger := m.getLogger(); logger != nil {
				logger.Warn("duplicate session finalization detected", "context_id", id)
			}
			return err
		}
		m.finalizeErrors.Add(1)
		if logger := m.getLogger(); logger != nil {
			logger.Error("session finalization failed",
				"context_id", id,
				"outcome", c.Outcome.String(),
				"error", err,
			)
		}
		m.notifyFinalizeError(err)
		return err
	}
	return nil
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	live := len(m.live)
	m.mu.Unlock()

	return Stats{
		Sessions:       m.sessions.Load(),
		Commits:        m.commits.Load(),
		Rollbacks:      m.rollbacks.Load(),
		FinalizeErrors: m.finalizeErrors.Load(),
		Live:           live,
	}
}

// Close stops the manager's implicitly created executor, waiting for
// in-flight finalizations. Externally supplied executors belong to their
// creator and are left running.
func (m *Manager) Close() {
	if m.ownsExec {
		m.exec.Close()
	}
}
