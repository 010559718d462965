// Package postgres implements store.Store on pgx/v5. The finalize commit
// runs in a single transaction so that concurrent finalize calls for one
// competition key cannot both succeed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/papervault/model"
	"github.com/collapsinghierarchy/papervault/store"
)

type pgStore struct{ db *pgxpool.Pool }

// NewStore wraps a pgx pool. Migrate must have been run.
func NewStore(db *pgxpool.Pool) store.Store { return &pgStore{db: db} }

// Migrate creates the schema if it does not exist. The UNIQUE constraint on
// artifacts.competition_key backs up the one-artifact-per-key invariant at
// the lowest level.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id              UUID PRIMARY KEY,
		originator_id   TEXT NOT NULL,
		competition_key TEXT NOT NULL,
		status          TEXT NOT NULL,
		content_id      TEXT,
		wrapped_secret  BYTEA,
		score_report    JSONB,
		deadline        DATE NOT NULL,
		total_marks     INT NOT NULL DEFAULT 100,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_competition
		ON submissions(competition_key, status);

	CREATE TABLE IF NOT EXISTS artifacts (
		id              UUID PRIMARY KEY,
		competition_key TEXT NOT NULL UNIQUE,
		course          TEXT NOT NULL DEFAULT '',
		semester        TEXT NOT NULL DEFAULT '',
		branch          TEXT NOT NULL DEFAULT '',
		subject         TEXT NOT NULL DEFAULT '',
		paper           BYTEA NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`
	_, err := db.Exec(ctx, schema)
	return err
}

// -------- submissions ------------------------------------------------------

func (p *pgStore) Insert(ctx context.Context, s *model.Submission) error {
	report, err := marshalReport(s.Score)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO submissions
		   (id, originator_id, competition_key, status, content_id, wrapped_secret, score_report, deadline, total_marks, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.OriginatorID, s.CompetitionKey, s.Status.String(),
		nullStr(s.ContentID), nullBytes(s.Wrapped.Marshal()), report,
		s.Deadline, s.TotalMarks, s.CreatedAt)
	return err
}

func (p *pgStore) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	row := p.db.QueryRow(ctx, selectCols+` WHERE id=$1`, id)
	s, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return s, err
}

func (p *pgStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.Status) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE submissions SET status=$3 WHERE id=$1 AND status=$2`,
		id, from.String(), to.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (p *pgStore) SetUploaded(ctx context.Context, id uuid.UUID, contentID string, wrapped model.WrappedSecret, report *model.ScoreReport) error {
	rep, err := marshalReport(report)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE submissions
		    SET status=$2, content_id=$3, wrapped_secret=$4, score_report=$5
		  WHERE id=$1 AND status=$6`,
		id, model.StatusUploaded.String(), contentID, wrapped.Marshal(), rep,
		model.StatusAccepted.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (p *pgStore) ListByCompetition(ctx context.Context, key string, status model.Status) ([]*model.Submission, error) {
	rows, err := p.db.Query(ctx,
		selectCols+` WHERE competition_key=$1 AND status=$2 ORDER BY created_at ASC, id ASC`,
		key, status.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// -------- finalize ---------------------------------------------------------

func (p *pgStore) CommitFinalize(ctx context.Context, winner uuid.UUID, art *model.FinalizedArtifact) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// serialize commits per competition key: without this, two
	// transactions each CAS their own row and then block on the other's
	// delete, in opposite lock order
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, art.CompetitionKey); err != nil {
		return 0, err
	}

	// CAS on the winner row; a concurrent commit either beat us to
	// Finalized or already deleted this row as a loser.
	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET status=$2
		  WHERE id=$1 AND status=$3 AND competition_key=$4`,
		winner, model.StatusFinalized.String(), model.StatusUploaded.String(), art.CompetitionKey)
	if err != nil {
		return 0, asConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return 0, store.ErrConflict
	}

	del, err := tx.Exec(ctx,
		`DELETE FROM submissions WHERE competition_key=$1 AND id<>$2`,
		art.CompetitionKey, winner)
	if err != nil {
		return 0, asConflict(err)
	}

	created := art.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO artifacts (id, competition_key, course, semester, branch, subject, paper, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		art.ID, art.CompetitionKey, art.Profile.Course, art.Profile.Semester,
		art.Profile.Branch, art.Profile.Subject, art.Paper, created)
	if err != nil {
		// unique violation on competition_key counts as losing the race
		return 0, asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(del.RowsAffected()), nil
}

func (p *pgStore) ArtifactByCompetition(ctx context.Context, key string) (*model.FinalizedArtifact, error) {
	var a model.FinalizedArtifact
	err := p.db.QueryRow(ctx,
		`SELECT id, competition_key, course, semester, branch, subject, paper, created_at
		   FROM artifacts WHERE competition_key=$1`, key).
		Scan(&a.ID, &a.CompetitionKey, &a.Profile.Course, &a.Profile.Semester,
			&a.Profile.Branch, &a.Profile.Subject, &a.Paper, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// -------- helpers ----------------------------------------------------------

const selectCols = `SELECT id, originator_id, competition_key, status, content_id, wrapped_secret, score_report, deadline, total_marks, created_at FROM submissions`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		s       model.Submission
		status  string
		cid     *string
		wrapped []byte
		report  []byte
	)
	err := row.Scan(&s.ID, &s.OriginatorID, &s.CompetitionKey, &status,
		&cid, &wrapped, &report, &s.Deadline, &s.TotalMarks, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if s.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if cid != nil {
		s.ContentID = *cid
	}
	if len(wrapped) > 0 {
		if s.Wrapped, err = model.UnmarshalWrappedSecret(wrapped); err != nil {
			return nil, err
		}
	}
	if len(report) > 0 {
		s.Score = &model.ScoreReport{}
		if err := json.Unmarshal(report, s.Score); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func marshalReport(r *model.ScoreReport) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// asConflict maps database-level race losses to store.ErrConflict so callers
// can classify them; anything else passes through untouched.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40P01": // unique_violation, deadlock_detected
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}
