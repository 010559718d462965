package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/papervault/model"
	"github.com/collapsinghierarchy/papervault/store"
	"github.com/collapsinghierarchy/papervault/store/memory"
)

func newSubmission(key, originator string, status model.Status, created time.Time) *model.Submission {
	return &model.Submission{
		ID:             uuid.New(),
		OriginatorID:   originator,
		CompetitionKey: key,
		Status:         status,
		Deadline:       created.AddDate(0, 1, 0),
		TotalMarks:     100,
		CreatedAt:      created,
	}
}

func TestConditionalUpdateStatus(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	s := newSubmission("CS501", "TEA-1", model.StatusPending, time.Now())
	require.NoError(t, m.Insert(ctx, s))

	require.NoError(t, m.UpdateStatus(ctx, s.ID, model.StatusPending, model.StatusAccepted))
	// second accept must hit the conflict path
	require.ErrorIs(t, m.UpdateStatus(ctx, s.ID, model.StatusPending, model.StatusAccepted), store.ErrConflict)
}

func TestSetUploadedRequiresAccepted(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	s := newSubmission("CS501", "TEA-1", model.StatusPending, time.Now())
	require.NoError(t, m.Insert(ctx, s))

	err := m.SetUploaded(ctx, s.ID, "cid", model.WrappedSecret{[]byte("a")}, nil)
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Empty(t, got.ContentID)
	require.Empty(t, got.Wrapped)
}

func TestListByCompetitionOrdering(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	base := time.Now()

	newer := newSubmission("CS501", "TEA-1", model.StatusUploaded, base.Add(2*time.Second))
	older := newSubmission("CS501", "TEA-2", model.StatusUploaded, base)
	other := newSubmission("MA101", "TEA-3", model.StatusUploaded, base.Add(time.Second))
	pending := newSubmission("CS501", "TEA-4", model.StatusPending, base)
	for _, s := range []*model.Submission{newer, older, other, pending} {
		require.NoError(t, m.Insert(ctx, s))
	}

	got, err := m.ListByCompetition(ctx, "CS501", model.StatusUploaded)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, older.ID, got[0].ID)
	require.Equal(t, newer.ID, got[1].ID)
}

func TestCommitFinalizeDeletesLosers(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	winner := newSubmission("CS501", "TEA-1", model.StatusUploaded, time.Now())
	loser1 := newSubmission("CS501", "TEA-2", model.StatusUploaded, time.Now())
	loser2 := newSubmission("CS501", "TEA-3", model.StatusAccepted, time.Now())
	unrelated := newSubmission("MA101", "TEA-4", model.StatusUploaded, time.Now())
	for _, s := range []*model.Submission{winner, loser1, loser2, unrelated} {
		require.NoError(t, m.Insert(ctx, s))
	}

	deleted, err := m.CommitFinalize(ctx, winner.ID, &model.FinalizedArtifact{
		ID: uuid.New(), CompetitionKey: "CS501", Paper: []byte("paper"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	got, err := m.Get(ctx, winner.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFinalized, got.Status)

	_, err = m.Get(ctx, loser1.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Get(ctx, loser2.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// other competition keys untouched
	_, err = m.Get(ctx, unrelated.ID)
	require.NoError(t, err)

	art, err := m.ArtifactByCompetition(ctx, "CS501")
	require.NoError(t, err)
	require.Equal(t, []byte("paper"), art.Paper)
}

func TestCommitFinalizeExclusive(t *testing.T) {
	m := memory.New()
	ctx := context.Background()

	const n = 8
	subs := make([]*model.Submission, n)
	for i := range subs {
		subs[i] = newSubmission("CS501", uuid.NewString(), model.StatusUploaded, time.Now())
		require.NoError(t, m.Insert(ctx, subs[i]))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.CommitFinalize(ctx, subs[i].ID, &model.FinalizedArtifact{
				ID: uuid.New(), CompetitionKey: "CS501", Paper: []byte("p"),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, store.ErrConflict)
		}
	}
	require.Equal(t, 1, wins, "exactly one commit must win")

	_, err := m.ArtifactByCompetition(ctx, "CS501")
	require.NoError(t, err)
}
