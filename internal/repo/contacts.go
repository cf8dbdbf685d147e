package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// ErrContactNotFound is returned when a contact id does not exist.
var ErrContactNotFound = errors.New("contact not found")

// ContactRepository is the contact and inbound-message history store. The
// last inbound timestamp per (contact, channel) is what opens messaging
// windows on the Meta channels.
type ContactRepository interface {
	Get(ctx context.Context, id uuid.UUID) (model.Contact, error)

	// LastInboundAt returns the most recent inbound timestamp on the
	// channel, or nil if the contact never messaged in on it.
	LastInboundAt(ctx context.Context, contactID uuid.UUID, ch model.Channel) (*time.Time, error)

	// RecordInbound stores an inbound-message timestamp for the contact.
	RecordInbound(ctx context.Context, contactID uuid.UUID, ch model.Channel, at time.Time) error
}
