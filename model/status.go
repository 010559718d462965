package model

import "fmt"

// Status is the submission lifecycle state. The set is closed; anything else
// is rejected at parse time.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusAccepted  Status = "Accepted"
	StatusUploaded  Status = "Uploaded"
	StatusFinalized Status = "Finalized"
	StatusRejected  Status = "Rejected"
)

// transitions holds every legal move. Finalized and Rejected are terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusUploaded, StatusRejected},
	StatusUploaded: {StatusFinalized},
}

// CanTransition reports whether s -> to is a legal lifecycle move.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

func (s Status) String() string { return string(s) }

// ParseStatus validates a stored status string against the closed set.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusPending, StatusAccepted, StatusUploaded, StatusFinalized, StatusRejected:
		return s, nil
	default:
		return "", fmt.Errorf("unknown submission status %q", v)
	}
}
