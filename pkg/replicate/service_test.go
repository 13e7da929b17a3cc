package replicate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/repdb"
)

// dbRecorder implements EventRecorder directly over a connection, the
// way the voucher store does in production.
type dbRecorder struct{ conn *repdb.Conn }

func (r dbRecorder) GetEvents(ctx context.Context) (*repdb.EventStream, error) {
	var stream *repdb.EventStream
	err := r.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		var err error
		stream, err = repdb.GetEvents(ctx, cur)
		return err
	})
	return stream, err
}

func (r dbRecorder) AddEvent(ctx context.Context, cur *repdb.Cursor, boundStatement string) error {
	return repdb.AddEvent(ctx, cur, boundStatement)
}

func (r dbRecorder) PruneEventsTo(ctx context.Context, highWater uint64) error {
	return r.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return repdb.PruneEventsTo(ctx, cur, highWater)
	})
}

// upload is one observed uploader invocation with its decoded payload.
type upload struct {
	name string
	data []byte
}

// uploadRecorder is an Uploader that records uploads and optionally
// blocks each one until the gate is released.
type uploadRecorder struct {
	mu      sync.Mutex
	uploads []upload
	started chan string
	gate    chan struct{}
}

func newUploadRecorder(blocking bool) *uploadRecorder {
	r := &uploadRecorder{started: make(chan string, 16)}
	if blocking {
		r.gate = make(chan struct{})
	}
	return r
}

func (r *uploadRecorder) uploader(ctx context.Context, name string, data objstore.DataProvider) error {
	src, err := data()
	if err != nil {
		return err
	}
	content, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.uploads = append(r.uploads, upload{name: name, data: content})
	r.mu.Unlock()
	r.started <- name
	if r.gate != nil {
		<-r.gate
	}
	return nil
}

func (r *uploadRecorder) snapshot() []upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]upload, len(r.uploads))
	copy(out, r.uploads)
	return out
}

func noPrune(context.Context, func(string) bool) error { return nil }

// tokenDB builds a connection with a voucher/token schema and the event
// log, replication not yet enabled.
func tokenDB(t *testing.T) *repdb.Conn {
	t.Helper()
	conn, err := repdb.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		if err := cur.Execute(ctx, `CREATE TABLE "vouchers" ("number" TEXT PRIMARY KEY)`); err != nil {
			return err
		}
		if err := cur.Execute(ctx, `CREATE TABLE "tokens" ("token" TEXT PRIMARY KEY)`); err != nil {
			return err
		}
		return repdb.EnsureEventLog(ctx, cur)
	}))
	return conn
}

// addTokens inserts one voucher and ten tokens inside an important
// scope, mirroring how redemption writes user-significant state.
func addTokens(t *testing.T, conn *repdb.Conn, batch int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Important(func() error {
			voucher := fmt.Sprintf("voucher-%d", batch)
			if err := cur.Execute(ctx, `INSERT INTO "vouchers" VALUES (?)`, voucher); err != nil {
				return err
			}
			rows := make([][]any, 10)
			for i := range rows {
				rows[i] = []any{fmt.Sprintf("token-%d-%d", batch, i)}
			}
			return cur.ExecuteMany(ctx, `INSERT INTO "tokens" VALUES (?)`, rows)
		})
	}))
}

func TestService_EnablesReplication(t *testing.T) {
	conn := tokenDB(t)
	rec := newUploadRecorder(false)
	svc := NewService(conn, dbRecorder{conn}, rec.uploader, noPrune, Options{})

	require.False(t, conn.Replicating())
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()
	assert.True(t, conn.Replicating())
}

func TestService_UploadCadence(t *testing.T) {
	conn := tokenDB(t)
	store := dbRecorder{conn}
	rec := newUploadRecorder(true)
	svc := NewService(conn, store, rec.uploader, noPrune, Options{})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	// The first important batch triggers an upload which then blocks in
	// the uploader.
	addTokens(t, conn, 1)
	select {
	case name := <-rec.started:
		require.Equal(t, "event-stream-11", name)
	case <-time.After(5 * time.Second):
		t.Fatal("first upload never started")
	}

	// Two more important batches while the first upload is in flight:
	// their signals collapse into a single pending upload.
	addTokens(t, conn, 2)
	addTokens(t, conn, 3)

	// Let the uploads finish.
	close(rec.gate)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 5*time.Second, 10*time.Millisecond, "expected exactly the first and the combined upload")

	uploads := rec.snapshot()
	require.Equal(t, "event-stream-11", uploads[0].name)
	first, err := repdb.EventStreamFromBytes(uploads[0].data)
	require.NoError(t, err)
	assert.Len(t, first.Changes, 11)
	high, ok := first.HighestSequence()
	require.True(t, ok)
	assert.Equal(t, uint64(11), high)

	require.Equal(t, "event-stream-33", uploads[1].name)
	second, err := repdb.EventStreamFromBytes(uploads[1].data)
	require.NoError(t, err)
	assert.Len(t, second.Changes, 22)
	high, ok = second.HighestSequence()
	require.True(t, ok)
	assert.Equal(t, uint64(33), high)

	// Everything uploaded was pruned from the local log.
	require.Eventually(t, func() bool {
		events, err := store.GetEvents(context.Background())
		return err == nil && len(events.Changes) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// No third upload sneaks in.
	assert.Len(t, rec.snapshot(), 2)
}

func TestService_ThresholdTriggersUpload(t *testing.T) {
	conn := tokenDB(t)
	store := dbRecorder{conn}
	rec := newUploadRecorder(false)
	svc := NewService(conn, store, rec.uploader, noPrune, Options{UploadThreshold: 64})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	ctx := context.Background()

	// Small, unimportant mutations accumulate without uploading.
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Execute(ctx, `INSERT INTO "tokens" VALUES (?)`, "tiny")
	}))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// One mutation pushes the accumulated size over the threshold.
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Execute(ctx, `INSERT INTO "tokens" VALUES (?)`, string(long))
	}))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	events, err := repdb.EventStreamFromBytes(rec.snapshot()[0].data)
	require.NoError(t, err)
	assert.Len(t, events.Changes, 2)
}

func TestService_StartupUploadsWhenBigEnough(t *testing.T) {
	conn := tokenDB(t)
	store := dbRecorder{conn}
	ctx := context.Background()

	// Persist events before the service exists, as if a prior run died
	// with an unshipped backlog.
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		for i := 0; i < 4; i++ {
			if err := repdb.AddEvent(ctx, cur, fmt.Sprintf(`INSERT INTO "tokens" VALUES ('seed-%d')`, i)); err != nil {
				return err
			}
		}
		return nil
	}))

	rec := newUploadRecorder(false)
	svc := NewService(conn, store, rec.uploader, noPrune, Options{UploadThreshold: 8})
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond, "backlog at or over the threshold uploads without new mutations")
	assert.Equal(t, "event-stream-4", rec.snapshot()[0].name)
}

func TestService_UploadErrorKeepsLoopAlive(t *testing.T) {
	conn := tokenDB(t)
	store := dbRecorder{conn}

	var mu sync.Mutex
	var calls int
	uploader := func(ctx context.Context, name string, data objstore.DataProvider) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return fmt.Errorf("remote unavailable")
		}
		return nil
	}

	svc := NewService(conn, store, uploader, noPrune, Options{})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	addTokens(t, conn, 1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The failed upload left the log intact; the next important
	// mutation uploads everything.
	addTokens(t, conn, 2)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		events, err := store.GetEvents(context.Background())
		return err == nil && len(events.Changes) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_SnapshotAndPrune(t *testing.T) {
	conn := tokenDB(t)
	store := dbRecorder{conn}
	rec := newUploadRecorder(false)

	var predicates []func(string) bool
	pruner := func(ctx context.Context, predicate func(string) bool) error {
		predicates = append(predicates, predicate)
		return nil
	}

	svc := NewService(conn, store, rec.uploader, pruner, Options{})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	ctx := context.Background()

	// A redemption: one voucher and twenty tokens, important, so it
	// uploads as event-stream-21.
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Important(func() error {
			if err := cur.Execute(ctx, `INSERT INTO "vouchers" VALUES (?)`, "voucher-0"); err != nil {
				return err
			}
			rows := make([][]any, 20)
			for i := range rows {
				rows[i] = []any{fmt.Sprintf("token-%d", i)}
			}
			return cur.ExecuteMany(ctx, `INSERT INTO "tokens" VALUES (?)`, rows)
		})
	}))
	require.Eventually(t, func() bool {
		uploads := rec.snapshot()
		return len(uploads) == 1 && uploads[0].name == "event-stream-21"
	}, 5*time.Second, 10*time.Millisecond)

	// Unimportant work stays local.
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Execute(ctx, `DELETE FROM "tokens" WHERE "token" = ?`, "token-0")
	}))
	events, err := store.GetEvents(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, events.Changes)
	assert.Len(t, rec.snapshot(), 1)

	require.NoError(t, svc.QueueSnapshotUpload(ctx))

	uploads := rec.snapshot()
	require.Len(t, uploads, 2)
	assert.Equal(t, SnapshotName, uploads[1].name)

	// The pruner was asked to remove exactly the covered streams.
	require.Len(t, predicates, 1)
	assert.True(t, predicates[0]("event-stream-21"))
	assert.True(t, predicates[0]("event-stream-22"), "the snapshot covers the unimportant tail too")
	assert.False(t, predicates[0]("event-stream-1234"))
	assert.False(t, predicates[0]("snapshot"))

	// The local log is empty afterwards.
	events, err = store.GetEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events.Changes)
}

func TestService_StopIsClean(t *testing.T) {
	conn := tokenDB(t)
	rec := newUploadRecorder(false)
	svc := NewService(conn, dbRecorder{conn}, rec.uploader, noPrune, Options{})
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()

	// The connection survives the service.
	ctx := context.Background()
	require.NoError(t, conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Execute(ctx, `INSERT INTO "tokens" VALUES ('after-stop')`)
	}))
}

func TestEventStreamNames(t *testing.T) {
	assert.Equal(t, "event-stream-21", EventStreamName(21))

	n, ok := ParseEventStreamName("event-stream-21")
	require.True(t, ok)
	assert.Equal(t, uint64(21), n)

	_, ok = ParseEventStreamName("snapshot")
	assert.False(t, ok)
	_, ok = ParseEventStreamName("event-stream-")
	assert.False(t, ok)
	_, ok = ParseEventStreamName("event-stream-x")
	assert.False(t, ok)
}
