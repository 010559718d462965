// Package blob defines the content-addressed store boundary. The store is
// oblivious to what it holds; this pipeline only ever hands it ciphertext.
package blob

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable marks transient store or network failure, including
	// per-call timeouts. The caller decides whether to retry; nothing in
	// this module retries automatically.
	ErrUnavailable = errors.New("blob: store unavailable")
	// ErrNotFound means the content identifier is unknown to the store.
	ErrNotFound = errors.New("blob: content not found")
)

// Store uploads bytes and fetches them back by content identifier.
// Identifiers are deterministic addresses of the stored bytes, so uploading
// identical content twice yields the same identifier.
type Store interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
}
