package replicate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/fslock"

	"github.com/litevault-dev/litevault/pkg/objstore"
)

// ReplicaRWCapBasename is the configuration file, under the node's
// private directory, holding the write capability of the remote replica
// directory.
const ReplicaRWCapBasename = "replica.rwcap"

// ErrReplicationAlreadySetup is returned by Setup when the capability
// file already exists.
var ErrReplicationAlreadySetup = errors.New("replication is already set up")

// Config locates the node's persistent replication state.
type Config struct {
	// PrivateDir is the directory for state that never leaves the node.
	PrivateDir string
}

func (c Config) rwcapPath() string {
	return filepath.Join(c.PrivateDir, ReplicaRWCapBasename)
}

// Setup creates a remote directory for this node's replica, stores its
// write capability in the private directory, and returns the attenuated
// read capability for the caller to keep as its recovery credential.
//
// An advisory lock is held across the check-create-write sequence so
// two concurrent setups cannot create two divergent remote directories.
func Setup(ctx context.Context, cfg Config, grid objstore.Grid) (string, error) {
	if err := os.MkdirAll(cfg.PrivateDir, 0700); err != nil {
		return "", fmt.Errorf("create private directory: %w", err)
	}

	path := cfg.rwcapPath()
	lock := fslock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("lock replica configuration: %w", err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return "", ErrReplicationAlreadySetup
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("check replica configuration: %w", err)
	}

	rwCap, err := grid.MakeDirectory(ctx)
	if err != nil {
		return "", fmt.Errorf("create replica directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(rwCap), 0600); err != nil {
		return "", fmt.Errorf("store replica capability: %w", err)
	}
	return objstore.AttenuateWriteCap(rwCap), nil
}

// IsSetup reports whether replication has previously been set up for
// this configuration.
func IsSetup(cfg Config) bool {
	_, err := os.Stat(cfg.rwcapPath())
	return err == nil
}

// RWCap returns the stored write capability of the replica directory.
func RWCap(cfg Config) (string, error) {
	data, err := os.ReadFile(cfg.rwcapPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("replication is not set up: %w", err)
		}
		return "", fmt.Errorf("read replica capability: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
