package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// ReceiptCache retains provider delivery receipts for sent messages so the
// UI can resolve external message ids without hitting the queue store.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, messageID uuid.UUID, ch model.Channel, externalID string, sentAt time.Time) error
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) StoreReceipt(ctx context.Context, messageID uuid.UUID, ch model.Channel, externalID string, sentAt time.Time) error {
	return nil
}
