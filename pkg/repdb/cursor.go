package repdb

import (
	"context"
	"database/sql"
	"fmt"
)

// Cursor executes statements inside the transaction it was created for.
// Data-modifying statements executed through Execute and ExecuteMany are
// classified and, when replication is enabled, reported to the
// connection's mutation observers.
type Cursor struct {
	conn *Conn
	tx   *sql.Tx

	important    bool
	lastInsertID int64
	rowsAffected int64

	// observers notified during this transaction, in first-notification
	// order; their commit hooks fire after a successful commit.
	notified []MutationObserver
}

// Execute runs a single statement with the given arguments.
func (c *Cursor) Execute(ctx context.Context, statement string, args ...any) error {
	res, err := c.tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		c.rowsAffected = n
	}
	row := make([]any, len(args))
	copy(row, args)
	return c.observe(ctx, statement, [][]any{row})
}

// ExecuteMany runs statement once per row of arguments. The whole batch
// is reported to observers as a single mutation with all its rows.
// Like its namesake it does not update LastInsertID.
func (c *Cursor) ExecuteMany(ctx context.Context, statement string, rows [][]any) error {
	var total int64
	for _, row := range rows {
		res, err := c.tx.ExecContext(ctx, statement, row...)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	c.rowsAffected = total
	return c.observe(ctx, statement, rows)
}

// Query runs a read-only statement and returns its rows.
func (c *Cursor) Query(ctx context.Context, statement string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, statement, args...)
}

// QueryRow runs a read-only statement expected to return at most one row.
func (c *Cursor) QueryRow(ctx context.Context, statement string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, statement, args...)
}

// LastInsertID returns the rowid of the most recent successful Execute
// of an INSERT statement.
func (c *Cursor) LastInsertID() int64 { return c.lastInsertID }

// RowsAffected returns the number of rows changed by the most recent
// Execute or ExecuteMany.
func (c *Cursor) RowsAffected() int64 { return c.rowsAffected }

// Important marks every mutation executed inside fn as important.
// Observers receive the flag and may use it to bypass upload
// accumulation. The flag is reset on every exit path.
func (c *Cursor) Important(fn func() error) error {
	c.important = true
	defer func() { c.important = false }()
	return fn()
}

// executeUnobserved runs a statement without classification or observer
// notification. The event log writes its own rows through this path so
// the log never observes itself.
func (c *Cursor) executeUnobserved(ctx context.Context, statement string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(ctx, statement, args...)
}

// quote returns the engine's quote() rendering of a text or blob value.
func (c *Cursor) quote(ctx context.Context, value any) (string, error) {
	var quoted string
	if err := c.tx.QueryRowContext(ctx, "SELECT quote(?)", value).Scan(&quoted); err != nil {
		return "", fmt.Errorf("quote value: %w", err)
	}
	return quoted, nil
}

func (c *Cursor) observe(ctx context.Context, statement string, rows [][]any) error {
	if !c.conn.Replicating() || !Mutates(statement) {
		return nil
	}
	for _, ob := range c.conn.currentObservers() {
		if err := ob.OnMutation(ctx, c, c.important, statement, rows); err != nil {
			return fmt.Errorf("mutation observer: %w", err)
		}
		c.markNotified(ob)
	}
	return nil
}

func (c *Cursor) markNotified(ob MutationObserver) {
	for _, seen := range c.notified {
		if seen == ob {
			return
		}
	}
	c.notified = append(c.notified, ob)
}
