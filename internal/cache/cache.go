package cache

import (
	"context"
	"time"
)

type Delivery struct {
	MessageID string    `json:"messageId,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// DeliveryCache remembers the last successful delivery per recipient.
type DeliveryCache interface {
	StoreSent(ctx context.Context, recipient, messageID string, sentAt time.Time) error
	LastSent(ctx context.Context, recipient string) (Delivery, bool, error)
}
