// Package memory is a mutex-guarded in-memory Store, used by tests and the
// dev mode of the daemon. The single lock makes every conditional write
// naturally atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/papervault/model"
	"github.com/collapsinghierarchy/papervault/store"
)

type Store struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*model.Submission
	artifacts map[string]*model.FinalizedArtifact // by competition key
}

func New() *Store {
	return &Store{
		subs:      make(map[uuid.UUID]*model.Submission),
		artifacts: make(map[string]*model.FinalizedArtifact),
	}
}

func (m *Store) Insert(_ context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; ok {
		return fmt.Errorf("%w: submission %s exists", store.ErrConflict, s.ID)
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *Store) Get(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != from {
		return store.ErrConflict
	}
	s.Status = to
	return nil
}

func (m *Store) SetUploaded(_ context.Context, id uuid.UUID, contentID string, wrapped model.WrappedSecret, report *model.ScoreReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != model.StatusAccepted {
		return store.ErrConflict
	}
	s.ContentID = contentID
	s.Wrapped = wrapped
	s.Score = report
	s.Status = model.StatusUploaded
	return nil
}

func (m *Store) ListByCompetition(_ context.Context, key string, status model.Status) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, s := range m.subs {
		if s.CompetitionKey == key && s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Store) CommitFinalize(_ context.Context, winner uuid.UUID, art *model.FinalizedArtifact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.subs[winner]
	if !ok || w.Status != model.StatusUploaded || w.CompetitionKey != art.CompetitionKey {
		return 0, store.ErrConflict
	}
	if _, exists := m.artifacts[art.CompetitionKey]; exists {
		return 0, store.ErrConflict
	}

	deleted := 0
	for id, s := range m.subs {
		if s.CompetitionKey == art.CompetitionKey && id != winner {
			delete(m.subs, id)
			deleted++
		}
	}
	w.Status = model.StatusFinalized

	cp := *art
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.artifacts[art.CompetitionKey] = &cp
	return deleted, nil
}

func (m *Store) ArtifactByCompetition(_ context.Context, key string) (*model.FinalizedArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
