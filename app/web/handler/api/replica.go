package api

import (
	"errors"

	"github.com/go-mizu/mizu"

	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/pkg/replicate"
	"github.com/litevault-dev/litevault/store"
)

type ReplicaHandler struct {
	st        store.Store
	grid      objstore.Grid
	cfg       replicate.Config
	recoverer *replicate.StatefulRecoverer
	svc       *replicate.Service
}

func NewReplicaHandler(st store.Store, grid objstore.Grid, cfg replicate.Config, recoverer *replicate.StatefulRecoverer, svc *replicate.Service) *ReplicaHandler {
	return &ReplicaHandler{st: st, grid: grid, cfg: cfg, recoverer: recoverer, svc: svc}
}

// Setup creates the remote replica directory and hands back the
// read capability the user must keep to recover later.
func (h *ReplicaHandler) Setup(c *mizu.Ctx) error {
	readCap, err := replicate.Setup(c.Context(), h.cfg, h.grid)
	if errors.Is(err, replicate.ErrReplicationAlreadySetup) {
		return c.JSON(409, map[string]string{"error": "replication is already set up"})
	}
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	return c.JSON(201, map[string]string{"recovery-capability": readCap})
}

// Status reports whether replication has been set up.
func (h *ReplicaHandler) Status(c *mizu.Ctx) error {
	return c.JSON(200, map[string]bool{"setup": replicate.IsSetup(h.cfg)})
}

// Snapshot uploads a full snapshot through the running replication
// service and answers once the upload and pruning have finished.
func (h *ReplicaHandler) Snapshot(c *mizu.Ctx) error {
	if h.svc == nil {
		return c.JSON(409, map[string]string{"error": "replication service is not running"})
	}
	if err := h.svc.QueueSnapshotUpload(c.Context()); err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	return c.JSON(200, map[string]string{"status": "uploaded"})
}

// Recover replays a replica into this store, but only if the store is
// empty. Download and import failures do not fail the request; they are
// visible through RecoveryState.
func (h *ReplicaHandler) Recover(c *mizu.Ctx) error {
	var body struct {
		ReplicaReaderCap string `json:"replica-reader-cap"`
	}
	if err := c.BindJSON(&body, 1<<20); err != nil {
		return c.JSON(400, map[string]string{"error": "json request body required"})
	}
	if body.ReplicaReaderCap == "" {
		return c.JSON(400, map[string]string{"error": "replica-reader-cap is required"})
	}

	download := replicate.NewReplicaDownloader(h.grid, body.ReplicaReaderCap)
	err := h.st.CallIfEmpty(c.Context(), func(cur *repdb.Cursor) error {
		return h.recoverer.RecoverTx(c.Context(), download, cur)
	})
	switch {
	case errors.Is(err, store.ErrNotEmpty):
		return c.JSON(409, map[string]string{"error": "store is not empty"})
	case errors.Is(err, replicate.ErrAlreadyRecovering):
		return c.JSON(409, map[string]string{"error": "recovery is already in progress"})
	case errors.Is(err, replicate.ErrRecoveryFailed):
		// accepted; the failure stage is in the observable state
	case err != nil:
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	return c.JSON(202, h.recoverer.State())
}

// RecoveryState reports the stage of the current recovery attempt.
func (h *ReplicaHandler) RecoveryState(c *mizu.Ctx) error {
	return c.JSON(200, h.recoverer.State())
}
