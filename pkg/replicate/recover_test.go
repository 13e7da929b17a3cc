package replicate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/repdb"
)

func recoverInto(t *testing.T, conn *repdb.Conn, r *StatefulRecoverer, dl Downloader) error {
	t.Helper()
	ctx := context.Background()
	var recoverErr error
	err := conn.Transact(ctx, func(cur *repdb.Cursor) error {
		recoverErr = r.Recover(ctx, dl, cur)
		if recoverErr != nil {
			return recoverErr
		}
		if r.State().Stage != StageSucceeded {
			return ErrRecoveryFailed
		}
		return nil
	})
	if recoverErr != nil {
		return recoverErr
	}
	if err != nil && !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("unexpected transaction error: %v", err)
	}
	return nil
}

func TestRecoverer_Succeeds(t *testing.T) {
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	snapshot := repdb.StatementsToSnapshot([]string{
		`CREATE TABLE "succeeded" ("a" TEXT)`,
		`INSERT INTO "succeeded" VALUES ('yes')`,
	})

	r := NewStatefulRecoverer()
	assert.Equal(t, StageInactive, r.State().Stage)
	require.NoError(t, recoverInto(t, conn, r, CannedDownloader(snapshot)))
	assert.Equal(t, StageSucceeded, r.State().Stage)

	ctx := context.Background()
	var a string
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.QueryRow(ctx, `SELECT "a" FROM "succeeded"`).Scan(&a)
	}))
	assert.Equal(t, "yes", a)
}

func TestRecoverer_DownloadFailure(t *testing.T) {
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, conn, r, FailDownloader(errors.New("something is wrong"))))

	state := r.State()
	assert.Equal(t, StageDownloadFailed, state.Stage)
	assert.Contains(t, state.FailureReason, "something is wrong")
}

func TestRecoverer_ImportFailure(t *testing.T) {
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, conn, r, CannedDownloader([]byte("non-sql junk"))))
	assert.Equal(t, StageImportFailed, r.State().Stage)
}

func TestRecoverer_PartialImportRollsBack(t *testing.T) {
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	// Frames parse; the second statement fails mid-import.
	blob := repdb.StatementsToSnapshot([]string{
		`CREATE TABLE "partial" ("a" INT)`,
		`INSERT INTO "missing" VALUES (1)`,
	})
	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, conn, r, CannedDownloader(blob)))
	assert.Equal(t, StageImportFailed, r.State().Stage)

	ctx := context.Background()
	err = conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.QueryRow(ctx, `SELECT count(*) FROM "partial"`).Scan(new(int))
	})
	assert.Error(t, err, "the partial import must not survive")
}

func TestRecoverer_CannotRecoverTwice(t *testing.T) {
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, conn, r, NoopDownloader))
	assert.Equal(t, StageSucceeded, r.State().Stage)

	err = recoverInto(t, conn, r, NoopDownloader)
	assert.ErrorIs(t, err, ErrAlreadyRecovering)
}

func TestReplicaDownloader_SnapshotPlusStreams(t *testing.T) {
	ctx := context.Background()
	grid := objstore.NewMemoryGrid()

	// Build the source database and its remote replica by hand:
	// a snapshot plus one newer event stream.
	source, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer source.Close()
	require.NoError(t, source.Transact(ctx, func(cur *repdb.Cursor) error {
		if err := cur.Execute(ctx, `CREATE TABLE "tokens" ("token" TEXT)`); err != nil {
			return err
		}
		return cur.Execute(ctx, `INSERT INTO "tokens" VALUES ('from-snapshot')`)
	}))
	snapshot, err := source.Snapshot(ctx)
	require.NoError(t, err)

	dir, err := grid.MakeDirectory(ctx)
	require.NoError(t, err)
	link := func(name string, data []byte) {
		blob, err := grid.Upload(ctx, func() (io.Reader, error) { return bytes.NewReader(data), nil })
		require.NoError(t, err)
		require.NoError(t, grid.Link(ctx, dir, name, blob))
	}
	link(SnapshotName, snapshot)

	tail := &repdb.EventStream{Changes: []repdb.Change{
		{Sequence: 7, Statement: `INSERT INTO "tokens" VALUES ('from-stream-7')`},
		{Sequence: 9, Statement: `INSERT INTO "tokens" VALUES ('from-stream-9')`},
	}}
	tailBytes, err := tail.ToBytes()
	require.NoError(t, err)
	link(EventStreamName(9), tailBytes)

	later := &repdb.EventStream{Changes: []repdb.Change{
		{Sequence: 12, Statement: `INSERT INTO "tokens" VALUES ('from-stream-12')`},
	}}
	laterBytes, err := later.ToBytes()
	require.NoError(t, err)
	link(EventStreamName(12), laterBytes)

	// Recover the replica into a fresh database.
	target, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer target.Close()

	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, target, r, NewReplicaDownloader(grid, objstore.AttenuateWriteCap(dir))))
	require.Equal(t, StageSucceeded, r.State().Stage)

	var tokens []string
	require.NoError(t, target.Transact(ctx, func(cur *repdb.Cursor) error {
		rows, err := cur.Query(ctx, `SELECT "token" FROM "tokens" ORDER BY rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err != nil {
				return err
			}
			tokens = append(tokens, tok)
		}
		return rows.Err()
	}))
	assert.Equal(t, []string{
		"from-snapshot",
		"from-stream-7",
		"from-stream-9",
		"from-stream-12",
	}, tokens)
}

func TestReplicaDownloader_MissingSnapshot(t *testing.T) {
	ctx := context.Background()
	grid := objstore.NewMemoryGrid()
	dir, err := grid.MakeDirectory(ctx)
	require.NoError(t, err)

	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	defer conn.Close()

	r := NewStatefulRecoverer()
	require.NoError(t, recoverInto(t, conn, r, NewReplicaDownloader(grid, dir)))
	assert.Equal(t, StageDownloadFailed, r.State().Stage)
}
