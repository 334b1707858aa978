package graphsync

import "time"

// FailureKind separates sections rejected before any write from sections
// whose write to the store failed.
type FailureKind string

const (
	FailureInvalid FailureKind = "invalid"
	FailureWrite   FailureKind = "write"
)

type Failure struct {
	Slug  string      `json:"slug"`
	Title string      `json:"title"`
	Kind  FailureKind `json:"kind"`
	Error string      `json:"error"`
}

// Collision lists the headings of one pass that normalized to the same slug.
// The last heading in document order is the one persisted.
type Collision struct {
	Slug   string   `json:"slug"`
	Titles []string `json:"titles"`
}

// Result is the summary of one pass. Failed counts per-section failures;
// the pass itself still completed when Run returns a nil error.
type Result struct {
	PassID        string      `json:"passId"`
	DocumentID    string      `json:"documentId"`
	Revision      string      `json:"revision"`
	Parsed        int         `json:"parsed"`
	Created       int         `json:"created"`
	Updated       int         `json:"updated"`
	Unchanged     int         `json:"unchanged"`
	Deleted       int         `json:"deleted"`
	Failed        int         `json:"failed"`
	Failures      []Failure   `json:"failures"`
	Collisions    []Collision `json:"collisions"`
	DeletedSlugs  []string    `json:"deletedSlugs"`
	// RetainedSlugs are sections whose write failed this pass. They keep
	// their previous content and are not swept.
	RetainedSlugs []string    `json:"retainedSlugs"`
	StartedAt     time.Time   `json:"startedAt"`
	FinishedAt    time.Time   `json:"finishedAt"`
}

// Changed reports whether the pass created, updated or deleted anything.
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
