package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is one candidate examination paper moving through the custody
// pipeline. ContentID and Wrapped are set together once the ciphertext has
// been stored and its locator wrapped; they are never set independently.
type Submission struct {
	ID             uuid.UUID
	OriginatorID   string // decides which keypair wraps the secrets
	CompetitionKey string // e.g. subject code; one Finalized submission per key
	Status         Status
	ContentID      string
	Wrapped        WrappedSecret
	Score          *ScoreReport
	Deadline       time.Time
	TotalMarks     int
	CreatedAt      time.Time
}

// FinalizedArtifact is the single canonical decrypted paper for a
// competition key, plus descriptive metadata denormalized from the
// originator's profile at finalize time. Immutable once created.
type FinalizedArtifact struct {
	ID             uuid.UUID
	CompetitionKey string
	Profile        Profile
	Paper          []byte
	CreatedAt      time.Time
}

// Profile is the descriptive metadata an external directory holds for an
// originator. Opaque to the pipeline, copied onto the artifact.
type Profile struct {
	Course   string `json:"course"`
	Semester string `json:"semester"`
	Branch   string `json:"branch"`
	Subject  string `json:"subject"`
}

// ScoreReport is the summary returned by the external quality-scoring
// collaborator. Attached to a submission as opaque metadata.
type ScoreReport struct {
	Score float64  `json:"score"`
	Tags  []string `json:"tags,omitempty"`
	Notes []string `json:"notes,omitempty"`
}
