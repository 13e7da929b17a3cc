// Package objstore brokers access to remote object storage: immutable
// blob uploads plus mutable, listable directories that link names to
// blobs.
//
// Capabilities are opaque strings. A directory capability obtained from
// MakeDirectory grants writing; AttenuateWriteCap derives a read-only
// capability from it that still permits List and Download, which is the
// form handed out for recovery.
package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when a capability or directory entry does not
// resolve to stored data.
var ErrNotFound = errors.New("objstore: not found")

// ErrReadOnly is returned when a mutating operation is attempted with a
// read-only capability.
var ErrReadOnly = errors.New("objstore: capability is read-only")

// DataProvider produces the bytes of one upload. Grids may call it more
// than once to retry a failed transfer, so it must return equivalent
// content each time.
type DataProvider func() (io.Reader, error)

// Grid is a remote object store.
type Grid interface {
	// MakeDirectory creates a new mutable directory and returns its
	// write capability.
	MakeDirectory(ctx context.Context) (string, error)

	// Upload stores an immutable blob and returns its capability.
	Upload(ctx context.Context, data DataProvider) (string, error)

	// Link binds name to the child capability inside the directory,
	// replacing any previous binding.
	Link(ctx context.Context, dir, name, child string) error

	// List returns the directory's entries as name to child capability.
	List(ctx context.Context, dir string) (map[string]string, error)

	// Unlink removes the named entry from the directory.
	Unlink(ctx context.Context, dir, name string) error

	// Download opens the content behind a blob capability.
	Download(ctx context.Context, cap string) (io.ReadCloser, error)
}

const readOnlyPrefix = "ro:"

// AttenuateWriteCap derives the read-only form of a directory write
// capability.
func AttenuateWriteCap(writeCap string) string {
	if strings.HasPrefix(writeCap, readOnlyPrefix) {
		return writeCap
	}
	return readOnlyPrefix + writeCap
}

// unwrapCap splits a capability into its underlying locator and whether
// it was read-only.
func unwrapCap(cap string) (string, bool) {
	if rest, ok := strings.CutPrefix(cap, readOnlyPrefix); ok {
		return rest, true
	}
	return cap, false
}
