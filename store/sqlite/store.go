// Package sqlite implements store.Store over a replication-capable
// SQLite connection.
package sqlite

import (
	"context"
	"time"

	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/store"
)

// Store is the SQLite-backed voucher store. It owns the
// replication-capable connection for its lifetime.
type Store struct {
	conn *repdb.Conn
	now  func() time.Time

	vouchers *VoucherStore
	tokens   *TokenStore
}

// New opens (or creates) the voucher database at dbPath.
func New(dbPath string) (*Store, error) {
	conn, err := repdb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return NewWithConn(conn), nil
}

// NewWithConn wraps an existing replication-capable connection.
func NewWithConn(conn *repdb.Conn) *Store {
	s := &Store{conn: conn, now: time.Now}
	s.vouchers = &VoucherStore{st: s}
	s.tokens = &TokenStore{st: s}
	return s
}

// Ensure creates the database schema, including the event log.
func (s *Store) Ensure(ctx context.Context) error {
	return s.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		if err := cur.Execute(ctx, schema); err != nil {
			return err
		}
		return repdb.EnsureEventLog(ctx, cur)
	})
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Connection returns the replication-capable connection for the
// replication service to observe and snapshot.
func (s *Store) Connection() *repdb.Conn { return s.conn }

func (s *Store) Vouchers() store.VoucherStore { return s.vouchers }
func (s *Store) Tokens() store.TokenStore     { return s.tokens }

// CallIfEmpty runs action inside a single transaction, but only if the
// store holds no user state: no voucher, no spendable token, and no
// unspendable token. Used by recovery to guarantee it can never clobber
// live state.
func (s *Store) CallIfEmpty(ctx context.Context, action func(cur *repdb.Cursor) error) error {
	return s.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		var populated int
		err := cur.QueryRow(ctx, `
			SELECT (SELECT count(*) FROM "vouchers")
			     + (SELECT count(*) FROM "unblinded_tokens")
			     + (SELECT count(*) FROM "invalid_unblinded_tokens")`,
		).Scan(&populated)
		if err != nil {
			return err
		}
		if populated > 0 {
			return store.ErrNotEmpty
		}
		return action(cur)
	})
}

// GetEvents reads the whole event log in its own transaction.
func (s *Store) GetEvents(ctx context.Context) (*repdb.EventStream, error) {
	var stream *repdb.EventStream
	err := s.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		var err error
		stream, err = repdb.GetEvents(ctx, cur)
		return err
	})
	return stream, err
}

// AddEvent appends a bound statement to the event log inside the
// caller's transaction.
func (s *Store) AddEvent(ctx context.Context, cur *repdb.Cursor, boundStatement string) error {
	return repdb.AddEvent(ctx, cur, boundStatement)
}

// PruneEventsTo deletes events up to and including highWater, in its
// own transaction.
func (s *Store) PruneEventsTo(ctx context.Context, highWater uint64) error {
	return s.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return repdb.PruneEventsTo(ctx, cur, highWater)
	})
}
