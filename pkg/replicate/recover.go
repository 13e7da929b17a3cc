package replicate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/repdb"
)

// Stage is one step of the recovery progression. The stages form a
// linear order; download_failed, import_failed and succeeded are
// terminal.
type Stage string

const (
	StageInactive       Stage = "inactive"
	StageDownloading    Stage = "downloading"
	StageDownloadFailed Stage = "download_failed"
	StageImporting      Stage = "importing"
	StageImportFailed   Stage = "import_failed"
	StageSucceeded      Stage = "succeeded"
)

// RecoveryState is the externally observable state of a recovery
// attempt.
type RecoveryState struct {
	Stage         Stage  `json:"stage"`
	FailureReason string `json:"failure-reason,omitempty"`
}

// ErrAlreadyRecovering is returned by Recover when a prior recovery on
// the same recoverer has started, whether or not it finished.
var ErrAlreadyRecovering = errors.New("recovery is already in progress")

// ErrRecoveryFailed is returned by RecoverTx when recovery ended in a
// failure stage; the enclosing transaction uses it to roll back a
// partial import. Details are in State.
var ErrRecoveryFailed = errors.New("recovery failed")

// Downloader fetches the replica to recover from and returns it as a
// netstring-framed statement sequence. The update callback lets a
// downloader publish progress into the recoverer's observable state.
type Downloader func(ctx context.Context, update func(RecoveryState)) (io.ReadCloser, error)

// StatefulRecoverer drives one recovery attempt and exposes its
// progress. Download and import failures never propagate to the caller:
// they are reflected in State, so an HTTP caller can accept a recovery
// request without waiting for its completion.
type StatefulRecoverer struct {
	mu    sync.Mutex
	state RecoveryState
}

// NewStatefulRecoverer returns a recoverer in the inactive stage.
func NewStatefulRecoverer() *StatefulRecoverer {
	return &StatefulRecoverer{state: RecoveryState{Stage: StageInactive}}
}

// State returns the current recovery state.
func (r *StatefulRecoverer) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *StatefulRecoverer) setState(state RecoveryState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Recover downloads a replica and replays it through the cursor. The
// only error it returns is ErrAlreadyRecovering; every other failure is
// captured as a terminal state.
func (r *StatefulRecoverer) Recover(ctx context.Context, download Downloader, cur *repdb.Cursor) error {
	r.mu.Lock()
	if r.state.Stage != StageInactive {
		r.mu.Unlock()
		return ErrAlreadyRecovering
	}
	r.state = RecoveryState{Stage: StageDownloading}
	r.mu.Unlock()

	body, err := download(ctx, r.setState)
	if err != nil {
		r.setState(RecoveryState{Stage: StageDownloadFailed, FailureReason: err.Error()})
		return nil
	}
	defer body.Close()

	r.setState(RecoveryState{Stage: StageImporting})
	if err := repdb.RecoverSnapshot(ctx, body, cur); err != nil {
		r.setState(RecoveryState{Stage: StageImportFailed, FailureReason: err.Error()})
		return nil
	}
	r.setState(RecoveryState{Stage: StageSucceeded})
	return nil
}

// RecoverTx is Recover shaped for use as a transactional action: when
// recovery does not reach the succeeded stage it returns
// ErrRecoveryFailed so the enclosing transaction rolls back whatever
// the partial import wrote. The failure detail stays in State.
func (r *StatefulRecoverer) RecoverTx(ctx context.Context, download Downloader, cur *repdb.Cursor) error {
	if err := r.Recover(ctx, download, cur); err != nil {
		return err
	}
	if r.State().Stage != StageSucceeded {
		return ErrRecoveryFailed
	}
	return nil
}

// NoopDownloader returns an empty replica.
func NoopDownloader(context.Context, func(RecoveryState)) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// CannedDownloader returns a downloader that serves exactly data.
func CannedDownloader(data []byte) Downloader {
	return func(context.Context, func(RecoveryState)) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// FailDownloader returns a downloader that always fails with err.
func FailDownloader(err error) Downloader {
	return func(context.Context, func(RecoveryState)) (io.ReadCloser, error) {
		return nil, err
	}
}

// NewReplicaDownloader builds a Downloader over a replica directory: it
// fetches the snapshot and every surviving event stream (all of them
// are newer than the snapshot, because snapshot uploads prune the
// covered ones) and emits a single framed statement sequence — the
// snapshot's frames followed by each stream's statements in ascending
// sequence order.
func NewReplicaDownloader(grid objstore.Grid, dirCap string) Downloader {
	return func(ctx context.Context, update func(RecoveryState)) (io.ReadCloser, error) {
		update(RecoveryState{Stage: StageDownloading})

		entries, err := grid.List(ctx, dirCap)
		if err != nil {
			return nil, fmt.Errorf("list replica directory: %w", err)
		}
		snapCap, ok := entries[SnapshotName]
		if !ok {
			return nil, fmt.Errorf("replica directory has no %s entry", SnapshotName)
		}

		var combined bytes.Buffer
		body, err := grid.Download(ctx, snapCap)
		if err != nil {
			return nil, fmt.Errorf("download snapshot: %w", err)
		}
		_, err = io.Copy(&combined, body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("download snapshot: %w", err)
		}

		type stream struct {
			seq uint64
			cap string
		}
		var streams []stream
		for name, cap := range entries {
			if n, ok := ParseEventStreamName(name); ok {
				streams = append(streams, stream{seq: n, cap: cap})
			}
		}
		sort.Slice(streams, func(i, j int) bool { return streams[i].seq < streams[j].seq })

		for _, st := range streams {
			body, err := grid.Download(ctx, st.cap)
			if err != nil {
				return nil, fmt.Errorf("download %s: %w", EventStreamName(st.seq), err)
			}
			data, err := io.ReadAll(body)
			body.Close()
			if err != nil {
				return nil, fmt.Errorf("download %s: %w", EventStreamName(st.seq), err)
			}
			events, err := repdb.EventStreamFromBytes(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", EventStreamName(st.seq), err)
			}
			for _, change := range events.Changes {
				combined.Write(repdb.Netstring([]byte(change.Statement)))
			}
		}
		return io.NopCloser(bytes.NewReader(combined.Bytes())), nil
	}
}
