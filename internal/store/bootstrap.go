package store

import (
	"context"
	"fmt"

	"github.com/szibis/log-archiver/internal/logging"
)

// PrepareOptions controls startup bucket checks.
type PrepareOptions struct {
	// AutoCreateBucket creates a missing bucket instead of failing.
	AutoCreateBucket bool
	// CheckCredentials verifies read access before accepting data.
	CheckCredentials bool
}

// Prepare runs the one-shot bucket bootstrap. Any error is meant to abort startup.
func Prepare(ctx context.Context, b Bucket, opts PrepareOptions, logger *logging.Logger) error {
	exists, err := b.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if !opts.AutoCreateBucket {
			return fmt.Errorf("bucket does not exist and auto-create is disabled")
		}
		if err := b.CreateBucket(ctx); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("bucket created")
	}

	if opts.CheckCredentials {
		if err := b.CheckCredentials(ctx); err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}
		logger.Info("store credentials verified")
	}
	return nil
}
