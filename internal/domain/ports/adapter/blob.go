package adapter

import "context"

// BlobStore resolves an opaque blob reference to bytes. The reference is
// caller-supplied and assumed stable, so fetch failures are terminal (no
// retry). Implementations map their transport errors onto
// domain.ErrBlobNotFound / domain.ErrBlobTimeout.
type BlobStore interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error) // bytes, mime type
}
