// Package repdb wraps a SQLite connection with streaming-replication
// support: cursors classify every executed statement, data-modifying
// statements are reported to registered observers inside their own
// transaction, and the whole database can be dumped as a framed
// snapshot. Routing all database access through this wrapper is what
// guarantees no change escapes the event stream.
package repdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// MutationObserver is notified about data-modifying statements executed
// through a replication-capable connection.
//
// OnMutation runs synchronously inside the transaction that executed the
// statement, so anything it writes through the cursor commits or rolls
// back together with the observed mutation. OnCommit runs after the
// transaction has committed; it is never called for a rolled-back
// transaction.
type MutationObserver interface {
	OnMutation(ctx context.Context, cur *Cursor, important bool, statement string, rows [][]any) error
	OnCommit()
}

// Conn wraps a SQLite database handle with snapshot and streaming
// replication support. It owns the underlying handle exclusively: all
// database access goes through cursors obtained from Transact.
type Conn struct {
	db *sql.DB

	mu          sync.Mutex
	observers   []MutationObserver
	replicating bool
}

// Open opens (or creates) the SQLite database at path and wraps it in a
// replication-capable connection. Replication starts disabled; mutations
// are only observed after EnableReplication.
func Open(path string) (*Conn, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serialises writers and keeps snapshots
	// consistent without extra locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Conn{db: db}, nil
}

// OpenMemory opens a private in-memory database. Used by tests and dry runs.
func OpenMemory() (*Conn, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Conn{db: db}, nil
}

// Close closes the underlying database handle. Cursors created from this
// connection become unusable.
func (c *Conn) Close() error { return c.db.Close() }

// EnableReplication starts appending observed mutations to registered
// observers. It is idempotent. There is no way to disable replication on
// a live connection; recreate the connection instead.
func (c *Conn) EnableReplication() {
	c.mu.Lock()
	c.replicating = true
	c.mu.Unlock()
}

// Replicating reports whether mutations are currently observed.
func (c *Conn) Replicating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicating
}

// AddMutationObserver registers an observer. Observers are notified in
// registration order.
func (c *Conn) AddMutationObserver(ob MutationObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, ob)
	c.mu.Unlock()
}

// RemoveMutationObserver unregisters a previously registered observer.
// The replication service unregisters itself on stop, which also breaks
// the reference cycle between service and connection.
func (c *Conn) RemoveMutationObserver(ob MutationObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.observers {
		if o == ob {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Conn) currentObservers() []MutationObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	obs := make([]MutationObserver, len(c.observers))
	copy(obs, c.observers)
	return obs
}

// Transact runs fn with a cursor bound to a new transaction. The
// transaction commits when fn returns nil and rolls back when it returns
// an error. Observer commit hooks run only after a successful commit, in
// registration order; on rollback the observed mutations are discarded
// together with the data they describe.
func (c *Conn) Transact(ctx context.Context, fn func(cur *Cursor) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	cur := &Cursor{conn: c, tx: tx}
	if err := fn(cur); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, ob := range cur.notified {
		ob.OnCommit()
	}
	return nil
}
