// Package blobstore declares the optional off-box blob backend named in
// SPEC_FULL.md §4 / Open Question 3: a place a future facade could spill
// large file payloads to object storage instead of the mmap'd data
// section. Decided in DESIGN.md as interface-only for this revision — no
// core operation calls it — so the shape exists for a caller to implement
// against (an S3- or GCS-backed Store, following the pack's gcsfuse
// gcsx.StorageHandle interface idiom) without the facade depending on a
// concrete cloud SDK.
package blobstore

import "context"

// Store is a content-addressed blob backend. Nothing in this module
// constructs one; it exists so a future deployment can wire file content
// to remote storage without changing fs.Facade's exported surface.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
