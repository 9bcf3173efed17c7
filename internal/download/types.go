// Package download defines core types shared across the orchestration subsystems.
package download

import (
	"time"
)

// Status represents the lifecycle state of a download job.
type Status string

// Job status values tracked by the job store.
const (
	StatusPending  Status = "pending"
	StatusQueued   Status = "queued"
	StatusActive   Status = "active"
	StatusRetrying Status = "retrying"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusQueued, StatusActive},
	StatusQueued:   {StatusActive},
	StatusActive:   {StatusComplete, StatusRetrying, StatusFailed},
	StatusRetrying: {StatusActive, StatusQueued},
}

// CanTransition reports whether moving from one status to another follows the job state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Origin identifies the page that produced a submission. It is a copy of lookup-only
// fields; nothing here keeps the page itself alive.
type Origin struct {
	TabID   int    `json:"tab_id,omitempty"`
	Title   string `json:"title,omitempty"`
	PageURL string `json:"page_url,omitempty"`
}

// Overrides carries per-submission knobs supplied by the caller.
type Overrides struct {
	Filename string `json:"filename,omitempty"`
}

// Job is the record kept for each submitted fetch-and-save request.
type Job struct {
	ID           string     `json:"id"`
	SourceURL    string     `json:"source_url"`
	CanonicalURL string     `json:"canonical_url"`
	Filename     string     `json:"filename"`
	Origin       Origin     `json:"origin"`
	Attempts     int        `json:"attempts"`
	Status       Status     `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	TransportID  string     `json:"transport_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Location     string     `json:"location,omitempty"`
	SHA256       string     `json:"sha256,omitempty"`
}

// Snapshot is the aggregate status returned to callers.
type Snapshot struct {
	Active int   `json:"active"`
	Queued int   `json:"queued"`
	Jobs   []Job `json:"downloads"`
}

// BatchItem is a single entry of a batch submission.
type BatchItem struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// BatchResult reports the outcome of one batch entry.
type BatchResult struct {
	URL   string `json:"url"`
	JobID string `json:"job_id,omitempty"`
	Err   error  `json:"-"`
}

// DispatchRequest is handed to the Transport for a single attempt.
type DispatchRequest struct {
	JobID    string
	URL      string
	Filename string
	Dir      string
	Attempt  int
}

// Outcome is the terminal result of one transport attempt.
type Outcome string

// Transport outcomes.
const (
	OutcomeComplete    Outcome = "complete"
	OutcomeInterrupted Outcome = "interrupted"
)

// Signal is the asynchronous completion report emitted by a Transport.
type Signal struct {
	TransportID string
	Outcome     Outcome
	Err         error
	Location    string
	Bytes       int64
	Digest      string
}

// Reachability is the answer of a Validator probe.
type Reachability int

// Probe answers. Unknown covers errors and timeouts.
const (
	Unknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// NotificationKind distinguishes success and failure notifications.
type NotificationKind string

// Notification kinds.
const (
	NotifyComplete NotificationKind = "complete"
	NotifyFailed   NotificationKind = "failed"
)

// Notification is a fire-and-forget message for the user-facing notifier.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	JobID    string           `json:"job_id"`
	URL      string           `json:"url"`
	Filename string           `json:"filename"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}
