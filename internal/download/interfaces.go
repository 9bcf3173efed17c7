package download

import (
	"context"
	"io"
	"time"
)

// Transport performs the actual fetch and save. Dispatch must not block on the
// transfer itself; the outcome is reported later as exactly one Signal tagged
// with the returned transport ID.
type Transport interface {
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
}

// Notifier displays success/failure to the user. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Validator optionally confirms that a URL is reachable.
type Validator interface {
	Probe(ctx context.Context, rawURL string) Reachability
}

// BlobStore writes fetched artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time and schedules callbacks (useful for testing).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
