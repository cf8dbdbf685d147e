package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

type inboundKey struct {
	contact uuid.UUID
	channel model.Channel
}

// MemoryContactRepo is the in-memory ContactRepository for tests and local
// runs. PutContact seeds contacts directly.
type MemoryContactRepo struct {
	mu       sync.Mutex
	contacts map[uuid.UUID]model.Contact
	inbound  map[inboundKey]time.Time
}

func NewMemoryContactRepo() *MemoryContactRepo {
	return &MemoryContactRepo{
		contacts: make(map[uuid.UUID]model.Contact),
		inbound:  make(map[inboundKey]time.Time),
	}
}

func (r *MemoryContactRepo) PutContact(c model.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.ID] = c
}

func (r *MemoryContactRepo) Get(ctx context.Context, id uuid.UUID) (model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[id]
	if !ok {
		return model.Contact{}, ErrContactNotFound
	}
	return c, nil
}

func (r *MemoryContactRepo) LastInboundAt(ctx context.Context, contactID uuid.UUID, ch model.Channel) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.inbound[inboundKey{contact: contactID, channel: ch}]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (r *MemoryContactRepo) RecordInbound(ctx context.Context, contactID uuid.UUID, ch model.Channel, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := inboundKey{contact: contactID, channel: ch}
	if prev, ok := r.inbound[key]; ok && prev.After(at) {
		return nil
	}
	r.inbound[key] = at.UTC()
	return nil
}
