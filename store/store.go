// Package store persists submissions and finalized artifacts.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/papervault/model"
)

var (
	// ErrNotFound means the submission or artifact does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a conditional write matched no row: the entity
	// was not in the expected state, or was deleted by a concurrent
	// finalize commit.
	ErrConflict = errors.New("store: state conflict")
)

// Store is the persistence boundary of the custody pipeline. Conditional
// writes (UpdateStatus, SetUploaded, CommitFinalize) are atomic
// compare-and-set operations; CommitFinalize additionally runs its deletes
// and the artifact insert in the same transaction.
type Store interface {
	Insert(ctx context.Context, s *model.Submission) error
	Get(ctx context.Context, id uuid.UUID) (*model.Submission, error)

	// UpdateStatus moves id from one status to another; ErrConflict when
	// the submission is not currently in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.Status) error

	// SetUploaded atomically records the content identifier, wrapped
	// secret and optional score report, and moves Accepted -> Uploaded.
	SetUploaded(ctx context.Context, id uuid.UUID, contentID string, wrapped model.WrappedSecret, report *model.ScoreReport) error

	// ListByCompetition returns submissions for a competition key in the
	// given status, ordered by creation time then id ascending.
	ListByCompetition(ctx context.Context, key string, status model.Status) ([]*model.Submission, error)

	// CommitFinalize is the exclusive finalize commit: in one
	// transaction it moves the winner Uploaded -> Finalized, deletes
	// every other submission sharing the artifact's competition key, and
	// inserts the artifact. Exactly one concurrent caller per key can
	// succeed; the rest get ErrConflict. Returns the number of deleted
	// losers.
	CommitFinalize(ctx context.Context, winner uuid.UUID, art *model.FinalizedArtifact) (int, error)

	ArtifactByCompetition(ctx context.Context, key string) (*model.FinalizedArtifact, error)
}
