// Package replicate maintains a remote replica of a local SQLite
// database: a background service that ships event streams and snapshots
// to an object-store directory, the setup that creates that directory,
// and the recoverer that rebuilds a database from it.
package replicate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/repdb"
)

// SnapshotName is the fixed directory entry name of the latest snapshot.
const SnapshotName = "snapshot"

const eventStreamPrefix = "event-stream-"

// DefaultUploadThreshold is the accumulated statement size, in bytes,
// at which the service uploads the event stream without waiting for an
// important mutation. The figure leaves roughly 10% headroom under the
// payload size the remote store handles well.
const DefaultUploadThreshold = 570000

// EventStreamName names an event-stream directory entry by its highest
// sequence number.
func EventStreamName(highestSequence uint64) string {
	return eventStreamPrefix + strconv.FormatUint(highestSequence, 10)
}

// ParseEventStreamName extracts the highest sequence number from an
// event-stream entry name. ok is false for any other name.
func ParseEventStreamName(name string) (uint64, bool) {
	rest, found := strings.CutPrefix(name, eventStreamPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Uploader ships one named replica object. The data provider may be
// called again if the transfer needs a retry; serialisation already
// happened by the time the uploader runs.
type Uploader func(ctx context.Context, name string, data objstore.DataProvider) error

// Pruner removes the remote directory entries whose names match the
// predicate.
type Pruner func(ctx context.Context, predicate func(name string) bool) error

// EventRecorder brokers access to the event log inside the replicated
// database. GetEvents and PruneEventsTo run in their own transactions;
// AddEvent joins the transaction of the cursor it is given.
type EventRecorder interface {
	GetEvents(ctx context.Context) (*repdb.EventStream, error)
	AddEvent(ctx context.Context, cur *repdb.Cursor, boundStatement string) error
	PruneEventsTo(ctx context.Context, highWater uint64) error
}

// Options configures a Service.
type Options struct {
	// UploadThreshold overrides DefaultUploadThreshold when positive.
	UploadThreshold int
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Service performs all activity related to maintaining a remote replica
// of the local database. It observes mutations on the connection,
// appends them to the event log in the same transaction, and runs a
// background loop that uploads the accumulated event stream whenever
// the trigger is signalled.
type Service struct {
	conn     *repdb.Conn
	store    EventRecorder
	uploader Uploader
	pruner   Pruner
	log      *slog.Logger

	threshold int

	// trigger is a single-slot counting signal: any number of releases
	// while an upload is pending collapse into one.
	trigger chan struct{}

	// uploadMu serialises event-stream uploads with snapshot uploads.
	uploadMu sync.Mutex

	mu          sync.Mutex
	accumulated int
	pending     bool // release the trigger at next commit

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires a replication service to a connection, the event-log
// broker, and the remote-directory collaborators.
func NewService(conn *repdb.Conn, store EventRecorder, uploader Uploader, pruner Pruner, opts Options) *Service {
	threshold := opts.UploadThreshold
	if threshold <= 0 {
		threshold = DefaultUploadThreshold
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conn:      conn,
		store:     store,
		uploader:  uploader,
		pruner:    pruner,
		log:       log,
		threshold: threshold,
		trigger:   make(chan struct{}, 1),
	}
}

// Start restores the accumulated size from the persisted event stream,
// registers the service as a mutation observer, enables replication on
// the connection, and launches the upload loop. If the persisted stream
// already meets the threshold the first iteration uploads immediately.
func (s *Service) Start(ctx context.Context) error {
	events, err := s.store.GetEvents(ctx)
	if err != nil {
		return fmt.Errorf("restore accumulated size: %w", err)
	}
	data, err := events.ToBytes()
	if err != nil {
		return fmt.Errorf("restore accumulated size: %w", err)
	}

	s.mu.Lock()
	s.accumulated = len(data)
	big := s.accumulated >= s.threshold
	s.mu.Unlock()
	if big {
		s.QueueUpload()
	}

	s.conn.AddMutationObserver(s)
	s.conn.EnableReplication()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the upload loop, waits for it to finish, and unregisters
// the mutation observer. The database connection stays open.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.conn.RemoveMutationObserver(s)
}

// QueueUpload asks for an event-stream upload to occur. A request made
// while one is already pending is a no-op.
func (s *Service) QueueUpload() {
	select {
	case s.trigger <- struct{}{}:
	default:
		// already signalled
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		}
		if err := s.uploadEvents(ctx); err != nil {
			s.log.Error("event stream upload failed", "error", err)
		}
	}
}

// uploadEvents performs a single event-stream upload: read the log,
// ship it under its high-water name, then prune what was shipped.
func (s *Service) uploadEvents(ctx context.Context) error {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	events, err := s.store.GetEvents(ctx)
	if err != nil {
		return err
	}
	high, ok := events.HighestSequence()
	if !ok {
		// a queued signal can outlive its events when a snapshot
		// upload pruned the log first
		return nil
	}
	data, err := events.ToBytes()
	if err != nil {
		return err
	}

	name := EventStreamName(high)
	err = s.uploader(ctx, name, func() (io.Reader, error) {
		return bytes.NewReader(data), nil
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.Info("uploaded event stream", "name", name, "changes", len(events.Changes))

	if err := s.store.PruneEventsTo(ctx, high); err != nil {
		return err
	}
	s.mu.Lock()
	s.accumulated = 0
	s.mu.Unlock()
	return nil
}

// QueueSnapshotUpload uploads a full snapshot under the fixed snapshot
// name, prunes every remote event stream the snapshot covers, and
// empties the local event log up to the snapshot's high water mark.
func (s *Service) QueueSnapshotUpload(ctx context.Context) error {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	events, err := s.store.GetEvents(ctx)
	if err != nil {
		return err
	}
	high, _ := events.HighestSequence() // zero when the log is empty

	snap, err := s.conn.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	err = s.uploader(ctx, SnapshotName, func() (io.Reader, error) {
		return bytes.NewReader(snap), nil
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	err = s.pruner(ctx, func(name string) bool {
		n, ok := ParseEventStreamName(name)
		return ok && n <= high
	})
	if err != nil {
		return fmt.Errorf("prune remote event streams: %w", err)
	}

	if err := s.store.PruneEventsTo(ctx, high); err != nil {
		return err
	}
	s.mu.Lock()
	s.accumulated = 0
	s.mu.Unlock()
	s.log.Info("uploaded snapshot", "high_water", high, "bytes", len(snap))
	return nil
}

// OnMutation records each observed row as a bound statement in the event
// log, inside the mutation's own transaction, and keeps the accumulated
// size accounting. Only statement text is counted; codec overhead is
// ignored because the text dominates.
func (s *Service) OnMutation(ctx context.Context, cur *repdb.Cursor, important bool, statement string, rows [][]any) error {
	for _, row := range rows {
		bound, err := repdb.BindArguments(ctx, cur, statement, row)
		if err != nil {
			return err
		}
		if err := s.store.AddEvent(ctx, cur, bound); err != nil {
			return err
		}

		s.mu.Lock()
		s.accumulated += len(bound)
		if important || s.accumulated >= s.threshold {
			s.pending = true
			s.accumulated = 0
		}
		s.mu.Unlock()
	}
	return nil
}

// OnCommit releases the upload trigger if this transaction asked for an
// upload. Deferring the release to commit time keeps the uploader from
// reading an event log whose transaction is still open.
func (s *Service) OnCommit() {
	s.mu.Lock()
	fire := s.pending
	s.pending = false
	s.mu.Unlock()
	if fire {
		s.QueueUpload()
	}
}

// NewDirentryUploader binds a grid and a mutable directory into an
// Uploader that stores a blob and links it under the given name.
func NewDirentryUploader(grid objstore.Grid, dirCap string) Uploader {
	return func(ctx context.Context, name string, data objstore.DataProvider) error {
		child, err := grid.Upload(ctx, data)
		if err != nil {
			return err
		}
		return grid.Link(ctx, dirCap, name, child)
	}
}

// NewDirentryPruner binds a grid and a mutable directory into a Pruner
// that unlinks every entry the predicate selects.
func NewDirentryPruner(grid objstore.Grid, dirCap string) Pruner {
	return func(ctx context.Context, predicate func(name string) bool) error {
		entries, err := grid.List(ctx, dirCap)
		if err != nil {
			return err
		}
		for name := range entries {
			if !predicate(name) {
				continue
			}
			if err := grid.Unlink(ctx, dirCap, name); err != nil {
				return err
			}
		}
		return nil
	}
}
