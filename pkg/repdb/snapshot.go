package repdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Netstring frames a byte string as ASCII length, ':', the bytes, ','.
//
// See http://cr.yp.to/proto/netstrings.txt. Statements can contain
// embedded newlines (CREATE TABLE statements especially tend to), so a
// length-prefixed framing is used instead of a line-oriented one.
func Netstring(b []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(b) + 12)
	out.WriteString(strconv.Itoa(len(b)))
	out.WriteByte(':')
	out.Write(b)
	out.WriteByte(',')
	return out.Bytes()
}

// StatementsToSnapshot frames each statement as a netstring and
// concatenates the frames into a single snapshot blob.
func StatementsToSnapshot(statements []string) []byte {
	var out bytes.Buffer
	for _, s := range statements {
		out.Write(Netstring([]byte(strings.TrimSpace(s))))
	}
	return out.Bytes()
}

// ParseSnapshot splits a snapshot blob back into its statements.
func ParseSnapshot(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var statements []string
	for len(data) > 0 {
		sep := bytes.IndexByte(data, ':')
		if sep < 1 {
			return nil, fmt.Errorf("parse snapshot: missing length prefix")
		}
		n, err := strconv.Atoi(string(data[:sep]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("parse snapshot: bad length prefix %q", data[:sep])
		}
		rest := data[sep+1:]
		if len(rest) < n+1 {
			return nil, fmt.Errorf("parse snapshot: truncated frame")
		}
		if rest[n] != ',' {
			return nil, fmt.Errorf("parse snapshot: missing frame terminator")
		}
		statements = append(statements, string(rest[:n]))
		data = rest[n+1:]
	}
	return statements, nil
}

// Snapshot produces a consistent, self-contained snapshot of the whole
// database as a netstring-framed sequence of SQL statements. Replaying
// the statements in order with RecoverSnapshot against an empty database
// reproduces the schema and rows. Writers on this connection are blocked
// until the dump completes.
func (c *Conn) Snapshot(ctx context.Context) ([]byte, error) {
	var statements []string
	err := c.Transact(ctx, func(cur *Cursor) error {
		var err error
		statements, err = dumpStatements(ctx, cur)
		return err
	})
	if err != nil {
		return nil, err
	}
	return StatementsToSnapshot(statements), nil
}

// RecoverSnapshot parses a snapshot blob and executes each statement on
// the cursor, in order. The cursor's transaction supplies the atomicity:
// either the whole snapshot applies or none of it does.
func RecoverSnapshot(ctx context.Context, r io.Reader, cur *Cursor) error {
	statements, err := ParseSnapshot(r)
	if err != nil {
		return err
	}
	// Rows are dumped table by table in name order, so a child row can
	// precede its parent; foreign keys are checked at commit instead.
	if _, err := cur.executeUnobserved(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("recover snapshot: %w", err)
	}
	for _, s := range statements {
		if s == "" {
			continue
		}
		if err := cur.Execute(ctx, s); err != nil {
			return fmt.Errorf("recover snapshot: %w", err)
		}
	}
	return nil
}

// dumpStatements walks the schema and rows of the database, producing
// statements that rebuild it: table DDL, then each table's rows, then
// the autoincrement bookkeeping, then indexes, triggers and views. Every
// CREATE is emitted with IF NOT EXISTS, so replaying into a database that
// already has the schema only adds the rows.
func dumpStatements(ctx context.Context, cur *Cursor) ([]string, error) {
	type table struct{ name, ddl string }

	rows, err := cur.Query(ctx, `
		SELECT "name", "sql" FROM "sqlite_master"
		WHERE "type" = 'table' AND "name" NOT LIKE 'sqlite_%' AND "sql" IS NOT NULL
		ORDER BY "name"`)
	if err != nil {
		return nil, fmt.Errorf("dump schema: %w", err)
	}
	var tables []table
	for rows.Next() {
		var t table
		if err := rows.Scan(&t.name, &t.ddl); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dump schema: %w", err)
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump schema: %w", err)
	}

	var statements []string
	for _, t := range tables {
		statements = append(statements, idempotentDDL(t.ddl))
	}
	for _, t := range tables {
		inserts, err := dumpTableRows(ctx, cur, t.name)
		if err != nil {
			return nil, err
		}
		statements = append(statements, inserts...)
	}

	// sqlite_sequence exists once any AUTOINCREMENT table was created;
	// restoring its rows preserves the next sequence numbers.
	var hasSequence int
	err = cur.QueryRow(ctx,
		`SELECT count(*) FROM "sqlite_master" WHERE "name" = 'sqlite_sequence'`,
	).Scan(&hasSequence)
	if err != nil {
		return nil, fmt.Errorf("dump schema: %w", err)
	}
	if hasSequence > 0 {
		statements = append(statements, `DELETE FROM "sqlite_sequence"`)
		inserts, err := dumpTableRows(ctx, cur, "sqlite_sequence")
		if err != nil {
			return nil, err
		}
		statements = append(statements, inserts...)
	}

	rows, err = cur.Query(ctx, `
		SELECT "sql" FROM "sqlite_master"
		WHERE "type" IN ('index', 'trigger', 'view') AND "sql" IS NOT NULL
		ORDER BY "name"`)
	if err != nil {
		return nil, fmt.Errorf("dump schema: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return nil, fmt.Errorf("dump schema: %w", err)
		}
		statements = append(statements, idempotentDDL(ddl))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump schema: %w", err)
	}
	return statements, nil
}

// dumpTableRows renders every row of a table as an INSERT statement with
// all values rendered by the engine's quote() function, so text, blobs
// and floats survive the round trip exactly.
func dumpTableRows(ctx context.Context, cur *Cursor, name string) ([]string, error) {
	cols, err := tableColumns(ctx, cur, name)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = "quote(" + quoteIdentifier(col) + ")"
	}
	query := "SELECT " + strings.Join(quoted, ", ") + " FROM " + quoteIdentifier(name)

	rows, err := cur.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dump rows of %s: %w", name, err)
	}
	defer rows.Close()

	values := make([]string, len(cols))
	scan := make([]any, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}
	var inserts []string
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("dump rows of %s: %w", name, err)
		}
		inserts = append(inserts,
			"INSERT INTO "+quoteIdentifier(name)+" VALUES("+strings.Join(values, ",")+")")
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump rows of %s: %w", name, err)
	}
	return inserts, nil
}

func tableColumns(ctx context.Context, cur *Cursor, name string) ([]string, error) {
	rows, err := cur.Query(ctx, `SELECT "name" FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", name, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", name, err)
	}
	return cols, nil
}

// idempotentDDL adds IF NOT EXISTS to a CREATE statement taken from
// sqlite_master, where SQLite stores the text without that clause.
func idempotentDDL(ddl string) string {
	for _, kind := range []string{"CREATE TABLE ", "CREATE UNIQUE INDEX ", "CREATE INDEX ", "CREATE VIEW ", "CREATE TRIGGER "} {
		if rest, ok := strings.CutPrefix(ddl, kind); ok && !strings.HasPrefix(rest, "IF NOT EXISTS ") {
			return kind + "IF NOT EXISTS " + rest
		}
	}
	return ddl
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
