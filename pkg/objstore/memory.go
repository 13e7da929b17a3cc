package objstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryGrid is an in-process Grid used by tests and dry runs.
type MemoryGrid struct {
	mu    sync.Mutex
	blobs map[string][]byte
	dirs  map[string]map[string]string
}

// NewMemoryGrid returns an empty in-memory grid.
func NewMemoryGrid() *MemoryGrid {
	return &MemoryGrid{
		blobs: make(map[string][]byte),
		dirs:  make(map[string]map[string]string),
	}
}

func (g *MemoryGrid) MakeDirectory(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cap := "dir:" + ulid.Make().String()
	g.dirs[cap] = make(map[string]string)
	return cap, nil
}

func (g *MemoryGrid) Upload(_ context.Context, data DataProvider) (string, error) {
	r, err := data()
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	cap := "blob:" + hex.EncodeToString(sum[:])

	g.mu.Lock()
	g.blobs[cap] = content
	g.mu.Unlock()
	return cap, nil
}

func (g *MemoryGrid) Link(_ context.Context, dir, name, child string) error {
	loc, readOnly := unwrapCap(dir)
	if readOnly {
		return ErrReadOnly
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, ok := g.dirs[loc]
	if !ok {
		return fmt.Errorf("%w: directory %s", ErrNotFound, loc)
	}
	entries[name] = child
	return nil
}

func (g *MemoryGrid) List(_ context.Context, dir string) (map[string]string, error) {
	loc, _ := unwrapCap(dir)
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, ok := g.dirs[loc]
	if !ok {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, loc)
	}
	out := make(map[string]string, len(entries))
	for name, child := range entries {
		out[name] = child
	}
	return out, nil
}

func (g *MemoryGrid) Unlink(_ context.Context, dir, name string) error {
	loc, readOnly := unwrapCap(dir)
	if readOnly {
		return ErrReadOnly
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, ok := g.dirs[loc]
	if !ok {
		return fmt.Errorf("%w: directory %s", ErrNotFound, loc)
	}
	delete(entries, name)
	return nil
}

func (g *MemoryGrid) Download(_ context.Context, cap string) (io.ReadCloser, error) {
	loc, _ := unwrapCap(cap)
	g.mu.Lock()
	content, ok := g.blobs[loc]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, loc)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}
