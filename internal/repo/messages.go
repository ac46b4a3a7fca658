package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/lead-relay/internal/model"
)

type EnqueueParams struct {
	Recipient    string
	Body         string
	Priority     int
	ScheduledFor *time.Time
	LastError    *string
	Metadata     map[string]any
}

// QueueStore persists queued messages across process restarts.
//
// Read paths (DequeueNext, Stats) never fail: storage errors are logged and
// reported as an empty queue. Enqueue always surfaces storage errors so the
// caller knows the message was not recorded.
type QueueStore interface {
	Enqueue(ctx context.Context, p EnqueueParams) (int64, error)
	DequeueNext(ctx context.Context, maxAttempts int) *model.QueuedMessage
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Stats(ctx context.Context) model.QueueStats
	PurgeSent(ctx context.Context, olderThanDays int) (int64, error)
	List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error)
}
