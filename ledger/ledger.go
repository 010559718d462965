// Package ledger is the boundary to an external append-only, tamper-evident
// log. Recording is a provenance aid, never a correctness dependency: every
// call site is free to log a failure and move on.
package ledger

import (
	"context"
	"errors"
)

// ErrUnavailable marks any failure to get an entry accepted: unreachable
// RPC endpoint, rejected transaction, or receipt timeout.
var ErrUnavailable = errors.New("ledger: record failed")

// Recorder appends a (competition key, content identifier) pair and returns
// the transaction receipt id. An empty receipt with nil error means
// recording was skipped on purpose.
type Recorder interface {
	Record(ctx context.Context, competitionKey, contentID string) (receipt string, err error)
}

// Nop is the Recorder used when no ledger is configured; it skips every
// entry.
type Nop struct{}

func (Nop) Record(context.Context, string, string) (string, error) { return "", nil }
