package cli

import (
	"context"

	"github.com/litevault-dev/litevault/pkg/objstore"
)

// openGrid builds the object-store client: S3 when a bucket is
// configured, an in-process grid otherwise (useful for trying the
// replication flow without any remote storage).
func openGrid(ctx context.Context) (objstore.Grid, error) {
	if s3Bucket == "" {
		return objstore.NewMemoryGrid(), nil
	}
	return objstore.NewS3Grid(ctx, s3Bucket)
}
