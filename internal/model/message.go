package model

import "time"

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// DefaultMaxAttempts bounds both the dispatcher's direct retries and the
// number of drain attempts a queued message gets before it turns failed.
const DefaultMaxAttempts = 3

type QueuedMessage struct {
	ID            int64          `json:"id"`
	Recipient     string         `json:"recipient"`
	Body          string         `json:"body"`
	Priority      int            `json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	Status        Status         `json:"status"`
	ScheduledFor  *time.Time     `json:"scheduled_for,omitempty"`
	LastError     *string        `json:"last_error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
