// Package local is a badger-backed content-addressed store. Identifiers are
// CIDv1 (raw codec, sha2-256), so they are derived the same way on every
// upload of the same bytes. Fetch re-hashes before returning, making silent
// on-disk corruption a hard error instead of bad plaintext downstream.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/papervault/blob"
	"github.com/collapsinghierarchy/papervault/diskcheck"
)

// Store implements blob.Store on a local badger database.
type Store struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens (or creates) the store at path. minFreeGB guards against
// filling the volume; 0 disables the check.
func Open(path string, minFreeGB uint64, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := diskcheck.Ensure(path, minFreeGB, log); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("local blob store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Upload stores data under its derived identifier. Re-uploading identical
// bytes is a no-op returning the same identifier.
func (s *Store) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	id, err := Identifier(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	s.log.WithField("cid", id).Debug("blob stored")
	return id, nil
}

// Fetch returns the bytes stored under id, verifying them against the
// identifier before handing them back.
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if _, err := cid.Decode(id); err != nil {
		return nil, fmt.Errorf("%w: invalid identifier %q", blob.ErrNotFound, id)
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}

	check, err := Identifier(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if check != id {
		return nil, fmt.Errorf("%w: stored bytes no longer match %s", blob.ErrNotFound, id)
	}
	return data, nil
}

// Identifier derives the content identifier for data: CIDv1, raw codec,
// sha2-256 multihash.
func Identifier(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}
