package repdb

import (
	"context"
	"fmt"
)

// The event log lives inside the database it replicates so that an event
// row commits or rolls back together with the mutation it describes.
const eventLogSchema = `
CREATE TABLE IF NOT EXISTS "events" (
	"sequence" INTEGER PRIMARY KEY AUTOINCREMENT,
	"statement" TEXT NOT NULL
);`

// EnsureEventLog creates the event log table if it does not exist.
func EnsureEventLog(ctx context.Context, cur *Cursor) error {
	_, err := cur.executeUnobserved(ctx, eventLogSchema)
	if err != nil {
		return fmt.Errorf("ensure event log: %w", err)
	}
	return nil
}

// AddEvent appends a bound statement to the event log inside the caller's
// transaction. The sequence number is assigned by autoincrement. The
// insert bypasses mutation observation so the log never records itself.
func AddEvent(ctx context.Context, cur *Cursor, boundStatement string) error {
	_, err := cur.executeUnobserved(
		ctx,
		`INSERT INTO "events" ("statement") VALUES (?)`,
		boundStatement,
	)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

// GetEvents reads the whole event log in ascending sequence order.
func GetEvents(ctx context.Context, cur *Cursor) (*EventStream, error) {
	rows, err := cur.Query(ctx, `SELECT "sequence", "statement" FROM "events" ORDER BY "sequence"`)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	stream := &EventStream{}
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Sequence, &c.Statement); err != nil {
			return nil, fmt.Errorf("get events: %w", err)
		}
		stream.Changes = append(stream.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return stream, nil
}

// PruneEventsTo deletes every event with a sequence number at or below
// highWater.
func PruneEventsTo(ctx context.Context, cur *Cursor, highWater uint64) error {
	_, err := cur.executeUnobserved(ctx, `DELETE FROM "events" WHERE "sequence" <= ?`, highWater)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}
