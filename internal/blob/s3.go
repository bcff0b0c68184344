package blob

import (
	"context"

	"derivcore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 adapter configuration for explicit construction.
type S3Config = s3.Config

// NewS3 constructs an S3-backed blob.Store from an explicit Config.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, cfg)
}

// OpenS3FromEnv constructs an S3-backed blob.Store from the process
// environment. Requires DERIVCORE_BLOB_S3_BUCKET at minimum.
func OpenS3FromEnv(ctx context.Context) (Store, error) {
	return s3.OpenFromEnv(ctx)
}
