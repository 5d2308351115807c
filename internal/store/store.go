// Package store is the remote object store boundary: existence checks,
// writes with content metadata, and bucket bootstrap.
package store

import (
	"context"
	"errors"
	"io"
)

// StorageClass is the durability tier requested for a written object.
type StorageClass string

const (
	// StorageClassStandard is the default tier.
	StorageClassStandard StorageClass = "STANDARD"
	// StorageClassReducedRedundancy is requested when reduced redundancy is enabled.
	StorageClassReducedRedundancy StorageClass = "REDUCED_REDUNDANCY"
)

// ErrKeyExists is returned by WriteIfAbsent when the key is already taken.
var ErrKeyExists = errors.New("object already exists")

// Object is one upload: a key, its body and metadata.
type Object struct {
	Key          string
	Body         io.ReadSeeker
	Size         int64
	ContentType  string
	StorageClass StorageClass
}

// Store is the capability the archiver needs from an object store.
type Store interface {
	// Exists reports whether key is present in the bucket.
	Exists(ctx context.Context, key string) (bool, error)
	// Write uploads obj, replacing any object under the same key.
	Write(ctx context.Context, obj Object) error
}

// ConditionalWriter is implemented by stores that can create an object only
// if its key is free. A taken key yields an error matching ErrKeyExists.
type ConditionalWriter interface {
	WriteIfAbsent(ctx context.Context, obj Object) error
}

// Bucket is the bootstrap surface run once at startup.
type Bucket interface {
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error
	CheckCredentials(ctx context.Context) error
}

// BucketStore combines the per-batch and bootstrap capabilities.
type BucketStore interface {
	Store
	Bucket
}
