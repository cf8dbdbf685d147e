package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// ErrNotClaimed is returned by MarkSent/MarkFailed when the message is not in
// the sending state. Completion signals for unclaimed messages are logged and
// dropped by the caller, never applied to terminal rows.
var ErrNotClaimed = errors.New("message is not claimed for sending")

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

type MessageRepository interface {
	// Enqueue creates a pending message eligible immediately.
	Enqueue(ctx context.Context, ch model.Channel, recipient string, payload model.Payload) (model.QueuedMessage, error)

	// ClaimBatch atomically selects up to limit pending messages on the
	// channel whose nextAttemptAt <= now, oldest-eligible first, and
	// transitions them to sending. No message is ever returned to two
	// concurrent callers.
	ClaimBatch(ctx context.Context, ch model.Channel, limit int, now time.Time) ([]model.QueuedMessage, error)

	// MarkSent transitions sending -> sent. Returns ErrNotClaimed if the
	// message was not in the sending state.
	MarkSent(ctx context.Context, id uuid.UUID, externalID string) error

	// MarkFailed records a failed attempt: sending -> pending when the
	// message will be retried, sending -> failed when final. Returns
	// ErrNotClaimed if the message was not in the sending state.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, attemptCount int, nextAttemptAt time.Time, final bool) error

	// Release returns a claimed message to pending without recording an
	// attempt. Used when a claimed message could not be dispatched at all
	// (shutdown mid-batch); such cases never consume the attempt budget.
	Release(ctx context.Context, id uuid.UUID) error

	// Get returns a single message by id.
	Get(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error)

	// List returns messages with the given status, newest first.
	List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error)
}
