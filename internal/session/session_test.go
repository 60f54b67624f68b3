package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/dbscope/internal/engine"
)

// newTestEngine opens a sqlite engine backed by a temp file with an items
// table ready for use.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	e, err := engine.Open(context.Background(), "testdb", engine.Config{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "test.db"),
		Ready: func(ctx context.Context, e *engine.Engine) error {
			_, err := e.DB().ExecContext(ctx,
				"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
			return err
		},
	})
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// newTestFactory wraps a single test engine in a factory, so sessions
// auto-bind.
func newTestFactory(t *testing.T) (*engine.Engine, *Factory) {
	t.Helper()
	e := newTestEngine(t)
	f := NewFactory(map[string]*engine.Engine{"testdb": e}, Config{})
	return e, f
}

// newFKEngine opens a sqlite engine with a parent/child table pair whose
// foreign key can be deferred to commit time, for forcing commit failures.
func newFKEngine(t *testing.T) (*engine.Engine, *Factory) {
	t.Helper()

	e, err := engine.Open(context.Background(), "testdb", engine.Config{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "fk.db"),
		Ready: func(ctx context.Context, e *engine.Engine) error {
			if _, err := e.DB().ExecContext(ctx,
				"CREATE TABLE parents (id INTEGER PRIMARY KEY)"); err != nil {
				return err
			}
			_, err := e.DB().ExecContext(ctx,
				"CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER NOT NULL REFERENCES parents(id))")
			return err
		},
	})
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	f := NewFactory(map[string]*engine.Engine{"testdb": e}, Config{})
	return e, f
}

// breakCommit stages a deferred foreign key violation so the session's next
// commit fails inside the driver.
func breakCommit(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.Exec(context.Background(), "PRAGMA defer_foreign_keys = ON"); err != nil {
		t.Fatalf("deferring foreign keys: %v", err)
	}
	if _, err := s.Exec(context.Background(),
		"INSERT INTO children (id, parent_id) VALUES (1, 999)"); err != nil {
		t.Fatalf("inserting orphan child: %v", err)
	}
}

// countItems reads the committed row count through a fresh connection,
// outside any session transaction.
func countItems(t *testing.T, e *engine.Engine) int {
	t.Helper()
	var n int
	if err := e.DB().QueryRowContext(context.Background(),
		"SELECT count(*) FROM items").Scan(&n); err != nil {
		t.Fatalf("counting items: %v", err)
	}
	return n
}

// TestSession_LazyBegin verifies no transaction or connection exists until
// the first statement.
func TestSession_LazyBegin(t *testing.T) {
	e, f := newTestFactory(t)
	s := f.Session()

	if got := s.TxState(); got != TxNone {
		t.Errorf("TxState() before first statement = %v, want %v", got, TxNone)
	}
	if inUse := e.Stats().InUse; inUse != 0 {
		t.Errorf("InUse before first statement = %d, want 0", inUse)
	}

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if got := s.TxState(); got != TxActive {
		t.Errorf("TxState() after statement = %v, want %v", got, TxActive)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

// TestSession_CommitPersists verifies committed changes are visible to a new
// session against the same database.
func TestSession_CommitPersists(t *testing.T) {
	e, f := newTestFactory(t)
	s := f.Session()

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := countItems(t, e); n != 1 {
		t.Errorf("committed rows = %d, want 1", n)
	}
}

// TestSession_RollbackDiscards verifies rolled back changes are not visible.
func TestSession_RollbackDiscards(t *testing.T) {
	e, f := newTestFactory(t)
	s := f.Session()

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := s.TxState(); got != TxNone {
		t.Errorf("TxState() after rollback = %v, want %v", got, TxNone)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := countItems(t, e); n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

// TestSession_BrokenTransaction verifies a failed statement poisons the
// transaction until it is rolled back.
func TestSession_BrokenTransaction(t *testing.T) {
	_, f := newTestFactory(t)
	s := f.Session()
	defer s.Close()

	if _, err := s.Exec(context.Background(), "INSERT INTO no_such_table VALUES (1)"); err == nil {
		t.Fatal("Exec() against missing table should fail")
	}

	if got := s.TxState(); got != TxBroken {
		t.Errorf("TxState() after failed statement = %v, want %v", got, TxBroken)
	}

	// Further statements refuse the poisoned transaction.
	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Exec() on broken tx error = %v, want ErrNoTransaction", err)
	}
	// So does commit.
	if err := s.Commit(); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Commit() on broken tx error = %v, want ErrNoTransaction", err)
	}

	// Rollback recovers the session.
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := s.TxState(); got != TxNone {
		t.Errorf("TxState() after recovery = %v, want %v", got, TxNone)
	}
	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Errorf("Exec() after recovery error = %v", err)
	}
}

// TestSession_BindRequired verifies unqualified execution fails with several
// engines configured and succeeds with an explicit target.
func TestSession_BindRequired(t *testing.T) {
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)
	f := NewFactory(map[string]*engine.Engine{"db1": e1, "db2": e2}, Config{})

	if f.DefaultBind() != nil {
		t.Fatal("DefaultBind() should be nil with two engines")
	}

	s := f.Session()
	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); !errors.Is(err, ErrBindRequired) {
		t.Fatalf("unbound Exec() error = %v, want ErrBindRequired", err)
	}

	bound := f.SessionOn(e2)
	defer bound.Close()
	if _, err := bound.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("bound Exec() error = %v", err)
	}
}

// TestSession_CloseTwice verifies double close is detected misuse.
func TestSession_CloseTwice(t *testing.T) {
	_, f := newTestFactory(t)
	s := f.Session()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := s.Exec(context.Background(), "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Exec() after close error = %v, want ErrClosed", err)
	}
}

// TestSession_CloseReturnsConnection verifies close releases the pooled
// connection even with a transaction open.
func TestSession_CloseReturnsConnection(t *testing.T) {
	e, f := newTestFactory(t)
	s := f.Session()

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if inUse := e.Stats().InUse; inUse != 0 {
		t.Errorf("InUse after close = %d, want 0", inUse)
	}
	if n := countItems(t, e); n != 0 {
		t.Errorf("rows after close without commit = %d, want 0", n)
	}
}

// TestSession_QueryRow verifies reads see the session's own uncommitted
// writes.
func TestSession_QueryRow(t *testing.T) {
	_, f := newTestFactory(t)
	s := f.Session()
	defer s.Close()

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	row, err := s.QueryRow(context.Background(), "SELECT count(*) FROM items")
	if err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

// TestSession_StatementCancellation verifies a cancelled statement context
// does not tear down the transaction.
func TestSession_StatementCancellation(t *testing.T) {
	e, f := newTestFactory(t)
	s := f.Session()

	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Exec(cancelled, "INSERT INTO items (name) VALUES (?)", "b"); err == nil {
		t.Fatal("Exec() with cancelled context should fail")
	}

	// The failed statement poisons the transaction, but the connection and
	// transaction object survive for finalization to clean up.
	if got := s.TxState(); got != TxBroken {
		t.Errorf("TxState() = %v, want %v", got, TxBroken)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if inUse := e.Stats().InUse; inUse != 0 {
		t.Errorf("InUse after close = %d, want 0", inUse)
	}
}

// TestSession_CheckoutHonorsDeadline verifies waiting for a pooled
// connection respects the caller's deadline while another session holds the
// single connection.
func TestSession_CheckoutHonorsDeadline(t *testing.T) {
	e, f := newTestFactory(t)

	holder := f.Session()
	if _, err := holder.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	// The sqlite pool profile caps open connections at one, so this
	// session's first statement must wait for the holder.
	waiter := f.Session()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := waiter.Exec(ctx, "INSERT INTO items (name) VALUES (?)", "b")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Exec() should fail while the pool is exhausted")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exec() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Exec() blocked %v past its 100ms deadline", elapsed)
	}

	// Releasing the holder unblocks the pool for fresh statements.
	if err := holder.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := waiter.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "c"); err != nil {
		t.Fatalf("Exec() after release error = %v", err)
	}
	if err := waiter.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if inUse := e.Stats().InUse; inUse != 0 {
		t.Errorf("InUse after both sessions closed = %d, want 0", inUse)
	}
}

// TestSession_CommitFailureRollsBack verifies a failed commit leaves the
// session open with no transaction and nothing persisted.
func TestSession_CommitFailureRollsBack(t *testing.T) {
	e, f := newFKEngine(t)
	s := f.Session()

	breakCommit(t, s)

	if err := s.Commit(); err == nil {
		t.Fatal("Commit() with a deferred constraint violation should fail")
	}
	if got := s.TxState(); got != TxNone {
		t.Errorf("TxState() after failed commit = %v, want %v", got, TxNone)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if inUse := e.Stats().InUse; inUse != 0 {
		t.Errorf("InUse after close = %d, want 0", inUse)
	}

	var n int
	if err := e.DB().QueryRowContext(context.Background(),
		"SELECT count(*) FROM children").Scan(&n); err != nil {
		t.Fatalf("counting children: %v", err)
	}
	if n != 0 {
		t.Errorf("rows persisted by failed commit = %d, want 0", n)
	}
}

// TestSessionOnConn verifies the pre-established connection path: the
// transaction finishes but the connection stays open for its owner.
func TestSessionOnConn(t *testing.T) {
	e, f := newTestFactory(t)

	conn, err := e.Conn(context.Background())
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer conn.Close()

	s := f.SessionOnConn(conn)
	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Connection still usable after the session is gone.
	if err := conn.PingContext(context.Background()); err != nil {
		t.Errorf("connection closed by session: %v", err)
	}
}

// TestFactory_Callbacks verifies observers see begin, commit and close.
func TestFactory_Callbacks(t *testing.T) {
	_, f := newTestFactory(t)

	var events []string
	f.SetOnBegin(func(*Session) { events = append(events, "begin") })
	f.SetOnCommit(func(*Session) { events = append(events, "commit") })
	f.SetOnRollback(func(*Session) { events = append(events, "rollback") })
	f.SetOnClose(func(*Session) { events = append(events, "close") })

	s := f.Session()
	if _, err := s.Exec(context.Background(), "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []string{"begin", "commit", "close"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

// TestFactory_InfoCopied verifies sessions cannot mutate each other's
// metadata.
func TestFactory_InfoCopied(t *testing.T) {
	e := newTestEngine(t)
	f := NewFactory(map[string]*engine.Engine{"testdb": e}, Config{
		Info: map[string]any{"tenant": "acme"},
	})

	s1 := f.Session()
	s2 := f.Session()
	s1.Info()["tenant"] = "other"

	if got := s2.Info()["tenant"]; got != "acme" {
		t.Errorf("s2 info tenant = %v, want acme", got)
	}
}
