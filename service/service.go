// Package service owns the submission lifecycle and the finalize/dedup
// protocol, orchestrating the cipher, the custodian, the content store and
// the custody ledger.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"

	"github.com/collapsinghierarchy/papervault/blob"
	"github.com/collapsinghierarchy/papervault/ledger"
	"github.com/collapsinghierarchy/papervault/model"
	"github.com/collapsinghierarchy/papervault/pkc/cipher"
	"github.com/collapsinghierarchy/papervault/pkc/custodian"
	"github.com/collapsinghierarchy/papervault/scrutiny"
	"github.com/collapsinghierarchy/papervault/store"
)

var (
	// ErrNotFound means the submission does not exist (anymore); dedup
	// losers disappear during a concurrent finalize.
	ErrNotFound = errors.New("submission not found")
	// ErrInvalidTransition is a state-machine violation: the requested
	// operation is not legal from the submission's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUploadFailed means the ciphertext never reached the content
	// store; the submission stays Accepted and the caller may retry.
	ErrUploadFailed = errors.New("content upload failed")
	// ErrWrapFailed means the ciphertext was stored but its secrets were
	// not wrapped or persisted; the submission stays Accepted and a
	// retry re-derives the same content identifier.
	ErrWrapFailed = errors.New("secret wrapping failed after upload")
	// ErrCorruptArtifact aborts finalize when the fetched ciphertext
	// fails authentication or decompression. No artifact is created.
	ErrCorruptArtifact = errors.New("artifact failed integrity check")
	// ErrDocTooLarge guards the configured document size limit.
	ErrDocTooLarge = errors.New("document too large")
)

// ProfileDirectory resolves an originator's descriptive profile, denormalized
// onto the finalized artifact. External collaborator; lookups are
// best-effort.
type ProfileDirectory interface {
	Profile(ctx context.Context, originatorID string) (model.Profile, error)
}

// StaticDirectory is a fixed in-memory ProfileDirectory.
type StaticDirectory map[string]model.Profile

func (d StaticDirectory) Profile(_ context.Context, id string) (model.Profile, error) {
	p, ok := d[id]
	if !ok {
		return model.Profile{}, fmt.Errorf("no profile for %q", id)
	}
	return p, nil
}

// Config wires a Service.
type Config struct {
	Store     store.Store
	Blobs     blob.Store
	Ledger    ledger.Recorder     // nil means ledger.Nop
	Scorer    scrutiny.Scorer     // nil means scrutiny.Nop
	Directory ProfileDirectory    // nil means empty profiles
	Custodian *custodian.Custodian
	Logger    *logrus.Logger
	// MaxDocBytes caps plaintext size; 0 means 16 MiB.
	MaxDocBytes int64
	// CallTimeout bounds each remote call; 0 means 30s.
	CallTimeout time.Duration
}

// Service is the submission state machine.
type Service struct {
	store       store.Store
	blobs       blob.Store
	ledger      ledger.Recorder
	scorer      scrutiny.Scorer
	directory   ProfileDirectory
	cust        *custodian.Custodian
	log         *logrus.Logger
	maxDocBytes int64
	callTimeout time.Duration
}

// New validates the wiring and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Blobs == nil || cfg.Custodian == nil {
		return nil, errors.New("service: store, blobs and custodian are required")
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.Nop{}
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scrutiny.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxDocBytes <= 0 {
		cfg.MaxDocBytes = 16 << 20
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Service{
		store:       cfg.Store,
		blobs:       cfg.Blobs,
		ledger:      cfg.Ledger,
		scorer:      cfg.Scorer,
		directory:   cfg.Directory,
		cust:        cfg.Custodian,
		log:         cfg.Logger,
		maxDocBytes: cfg.MaxDocBytes,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Create registers a new Pending submission for an originator.
func (s *Service) Create(ctx context.Context, originatorID, competitionKey string, deadline time.Time, totalMarks int) (*model.Submission, error) {
	if originatorID == "" || competitionKey == "" {
		return nil, errors.New("service: originator and competition key are required")
	}
	if totalMarks <= 0 {
		totalMarks = 100
	}
	sub := &model.Submission{
		ID:             uuid.New(),
		OriginatorID:   originatorID,
		CompetitionKey: competitionKey,
		Status:         model.StatusPending,
		Deadline:       deadline,
		TotalMarks:     totalMarks,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Accept moves Pending -> Accepted.
func (s *Service) Accept(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, model.StatusAccepted)
}

// Reject moves Pending or Accepted -> Rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, model.StatusRejected)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to model.Status) error {
	sub, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, to)
	}
	if err := s.store.UpdateStatus(ctx, id, sub.Status, to); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, to)
		}
		return err
	}
	return nil
}

// Upload encrypts a document, stores the ciphertext, wraps the symmetric
// key and locator under the originator's keypair and moves the submission
// to Uploaded. A content-store failure leaves the submission Accepted.
func (s *Service) Upload(ctx context.Context, id uuid.UUID, plaintext []byte) (string, error) {
	sub, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	if !sub.Status.CanTransition(model.StatusUploaded) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, model.StatusUploaded)
	}
	if int64(len(plaintext)) > s.maxDocBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrDocTooLarge, len(plaintext))
	}
	if len(plaintext) == 0 {
		// an empty "document" would be content-addressed and wrapped as
		// if valid, silently corrupting the custody chain
		return "", fmt.Errorf("%w: empty document", cipher.ErrEncrypt)
	}

	// quality scoring sees the plaintext before encryption; never aborts
	report := s.score(ctx, sub, plaintext)

	compressed, err := compress(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: compress: %v", cipher.ErrEncrypt, err)
	}
	ciphertext, key, err := cipher.Encrypt(compressed)
	if err != nil {
		return "", err
	}

	upCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	contentID, err := s.blobs.Upload(upCtx, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	wrapped, err := s.cust.Wrap(sub.OriginatorID, [][]byte{[]byte(contentID), key})
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext %s is stored and retry-safe: %v", ErrWrapFailed, contentID, err)
	}

	// the caller may cancel up to here; the commit itself runs to
	// completion
	if err := ctx.Err(); err != nil {
		return "", err
	}
	commitCtx, cancel2 := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel2()
	if err := s.store.SetUploaded(commitCtx, id, contentID, wrapped, report); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("%w: submission state changed during upload", ErrInvalidTransition)
		}
		return "", fmt.Errorf("%w: ciphertext %s is stored and retry-safe: %v", ErrWrapFailed, contentID, err)
	}

	s.recordAsync(ctx, sub.CompetitionKey, contentID)

	s.log.WithFields(logrus.Fields{
		"submission":      id,
		"competition_key": sub.CompetitionKey,
		"cid":             contentID,
	}).Info("submission uploaded")
	return contentID, nil
}

// Finalize selects this Uploaded submission as the winner for its
// competition key: it recovers the plaintext, creates the canonical
// artifact and, atomically, deletes every competing submission. Exactly one
// finalize per competition key can succeed.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*model.FinalizedArtifact, error) {
	sub, err := s.get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// deleted as a dedup loser by a competing finalize; the
			// submission was legally finalizable once, so this is a
			// transition failure, not a bad id
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return nil, err
	}
	if sub.Status != model.StatusUploaded {
		return nil, fmt.Errorf("%w: finalize requires %s, submission is %s",
			ErrInvalidTransition, model.StatusUploaded, sub.Status)
	}

	fields, err := s.cust.Unwrap(sub.OriginatorID, sub.Wrapped)
	if err != nil {
		return nil, err
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: wrapped secret has %d fields, want 2", custodian.ErrUnwrap, len(fields))
	}
	contentID, key := string(fields[0]), cipher.Key(fields[1])
	if sub.ContentID != "" && sub.ContentID != contentID {
		return nil, fmt.Errorf("%w: wrapped locator does not match stored identifier", ErrCorruptArtifact)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	ciphertext, err := s.blobs.Fetch(fetchCtx, contentID)
	if err != nil {
		return nil, err
	}

	compressed, err := cipher.Decrypt(ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	plaintext, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptArtifact, err)
	}

	art := &model.FinalizedArtifact{
		ID:             uuid.New(),
		CompetitionKey: sub.CompetitionKey,
		Profile:        s.profile(ctx, sub.OriginatorID),
		Paper:          plaintext,
		CreatedAt:      time.Now().UTC(),
	}

	// exclusive commit; once it starts it runs to completion
	commitCtx, cancel2 := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel2()
	deleted, err := s.store.CommitFinalize(commitCtx, id, art)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: submission is no longer finalizable", ErrInvalidTransition)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"submission":      id,
		"competition_key": sub.CompetitionKey,
		"dedup_losers":    deleted,
	}).Info("submission finalized")
	return art, nil
}

// Candidates lists the Uploaded submissions competing for a key, reduced to
// the most recent submission per originator, in ascending upload order. A
// stale earlier upload by the same originator is never selectable.
func (s *Service) Candidates(ctx context.Context, competitionKey string) ([]*model.Submission, error) {
	subs, err := s.store.ListByCompetition(ctx, competitionKey, model.StatusUploaded)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*model.Submission, len(subs))
	for _, sub := range subs { // ascending, so the last wins
		latest[sub.OriginatorID] = sub
	}
	out := make([]*model.Submission, 0, len(latest))
	for _, sub := range subs {
		if latest[sub.OriginatorID] == sub {
			out = append(out, sub)
		}
	}
	return out, nil
}

// Artifact returns the finalized artifact for a competition key.
func (s *Service) Artifact(ctx context.Context, competitionKey string) (*model.FinalizedArtifact, error) {
	art, err := s.store.ArtifactByCompetition(ctx, competitionKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return art, err
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *Service) score(ctx context.Context, sub *model.Submission, plaintext []byte) *model.ScoreReport {
	scoreCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	report, err := s.scorer.Score(scoreCtx, plaintext)
	if err != nil {
		s.log.WithError(err).WithField("submission", sub.ID).Warn("quality scoring failed, continuing")
		return nil
	}
	return report
}

func (s *Service) profile(ctx context.Context, originatorID string) model.Profile {
	if s.directory == nil {
		return model.Profile{}
	}
	p, err := s.directory.Profile(ctx, originatorID)
	if err != nil {
		s.log.WithError(err).WithField("originator", originatorID).Warn("profile lookup failed, artifact metadata empty")
		return model.Profile{}
	}
	return p
}

// recordAsync appends to the custody ledger without blocking or failing the
// pipeline. The entry gets its own timeout, detached from the caller.
func (s *Service) recordAsync(ctx context.Context, competitionKey, contentID string) {
	go func() {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
		defer cancel()
		receipt, err := s.ledger.Record(recCtx, competitionKey, contentID)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"competition_key": competitionKey,
				"cid":             contentID,
			}).Warn("ledger record failed, continuing")
			return
		}
		if receipt != "" {
			s.log.WithFields(logrus.Fields{
				"competition_key": competitionKey,
				"receipt":         receipt,
			}).Debug("ledger receipt")
		}
	}()
}

// -------- compression ------------------------------------------------------

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
