package session

import (
	"database/sql"
	"sync"

	"github.com/nerrad567/dbscope/internal/engine"
)

// Config contains session construction options.
//
// These map to the database.session section of config.yaml. Unknown keys
// are rejected at load time; there is no blind keyword forwarding.
type Config struct {
	// Info is an application-defined metadata map copied onto every
	// session.
	Info map[string]any `yaml:"info"`
}

// Factory produces sessions bound to an engine or an explicit connection.
//
// It is shared by all contexts and stateless aside from its default bind
// and config. The factory is also the event-listener attachment point:
// observers registered here see every session produced by it, which is the
// synchronous indirection consumers use instead of instrumenting the
// per-context session resource itself.
//
// Observer callbacks run synchronously on the goroutine performing the
// session operation and must not call back into the session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Factory struct {
	engines map[string]*engine.Engine

	// defaultBind is set when exactly one engine is configured; sessions
	// then work without an explicit target.
	defaultBind *engine.Engine

	cfg Config

	// Observer callbacks (optional, set via SetOnBegin etc.).
	callbackMu sync.RWMutex
	onBegin    func(*Session)
	onCommit   func(*Session)
	onRollback func(*Session)
	onClose    func(*Session)
}

// NewFactory creates a session factory over the given engines.
//
// With exactly one engine, sessions auto-bind to it. With several, no
// implicit binding occurs: unqualified execution fails with ErrBindRequired
// and callers must use SessionOn.
//
// Parameters:
//   - engines: Logical name -> engine, from the engine registry
//   - cfg: Session construction options
//
// Returns:
//   - *Factory: Ready factory
func NewFactory(engines map[string]*engine.Engine, cfg Config) *Factory {
	f := &Factory{
		engines: engines,
		cfg:     cfg,
	}
	if len(engines) == 1 {
		for _, e := range engines {
			f.defaultBind = e
		}
	}
	return f
}

// DefaultBind returns the auto-bound engine, or nil when zero or several
// engines are configured.
func (f *Factory) DefaultBind() *engine.Engine {
	return f.defaultBind
}

// Session produces a new session with the factory's default bind.
//
// The session holds no connection until its first statement.
func (f *Factory) Session() *Session {
	return &Session{
		factory: f,
		bind:    f.defaultBind,
		info:    f.copyInfo(),
	}
}

// SessionOn produces a new session explicitly bound to the given engine.
func (f *Factory) SessionOn(e *engine.Engine) *Session {
	return &Session{
		factory: f,
		bind:    e,
		info:    f.copyInfo(),
	}
}

// SessionOnConn produces a session that runs its transaction on a
// pre-established connection instead of checking one out of a pool.
//
// This is the test-isolation path: a fixture opens one connection, hands it
// to the factory, and rolls the whole test back afterwards. The session
// finishes its transaction on Close but never closes the connection.
func (f *Factory) SessionOnConn(conn *sql.Conn) *Session {
	return &Session{
		factory: f,
		extConn: conn,
		info:    f.copyInfo(),
	}
}

// copyInfo clones the configured info map so sessions cannot mutate the
// factory's copy or each other's.
func (f *Factory) copyInfo() map[string]any {
	if len(f.cfg.Info) == 0 {
		return nil
	}
	info := make(map[string]any, len(f.cfg.Info))
	for k, v := range f.cfg.Info {
		info[k] = v
	}
	return info
}

// SetOnBegin sets a callback invoked when any session opens a transaction.
func (f *Factory) SetOnBegin(callback func(*Session)) {
	f.callbackMu.Lock()
	f.onBegin = callback
	f.callbackMu.Unlock()
}

// SetOnCommit sets a callback invoked after any session commits.
func (f *Factory) SetOnCommit(callback func(*Session)) {
	f.callbackMu.Lock()
	f.onCommit = callback
	f.callbackMu.Unlock()
}

// SetOnRollback sets a callback invoked after any session rolls back.
func (f *Factory) SetOnRollback(callback func(*Session)) {
	f.callbackMu.Lock()
	f.onRollback = callback
	f.callbackMu.Unlock()
}

// SetOnClose sets a callback invoked after any session closes.
func (f *Factory) SetOnClose(callback func(*Session)) {
	f.callbackMu.Lock()
	f.onClose = callback
	f.callbackMu.Unlock()
}

func (f *Factory) notifyBegin(s *Session) {
	f.callbackMu.RLock()
	callback := f.onBegin
	f.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

func (f *Factory) notifyCommit(s *Session) {
	f.callbackMu.RLock()
	callback := f.onCommit
	f.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

func (f *Factory) notifyRollback(s *Session) {
	f.callbackMu.RLock()
	callback := f.onRollback
	f.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

func (f *Factory) notifyClose(s *Session) {
	f.callbackMu.RLock()
	callback := f.onClose
	f.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}
