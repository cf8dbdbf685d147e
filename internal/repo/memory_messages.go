package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// MemoryMessageRepo is a mutex-guarded in-memory queue store. It backs tests
// and local runs without Postgres; the claim transition holds the same
// at-most-one-claim guarantee as the SQL implementation.
type MemoryMessageRepo struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*model.QueuedMessage
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{msgs: make(map[uuid.UUID]*model.QueuedMessage)}
}

func (r *MemoryMessageRepo) Enqueue(ctx context.Context, ch model.Channel, recipient string, payload model.Payload) (model.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	m := &model.QueuedMessage{
		ID:            uuid.New(),
		Channel:       ch,
		Recipient:     recipient,
		Payload:       payload,
		Status:        model.Pending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.msgs[m.ID] = m
	return *m, nil
}

func (r *MemoryMessageRepo) ClaimBatch(ctx context.Context, ch model.Channel, limit int, now time.Time) ([]model.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []*model.QueuedMessage
	for _, m := range r.msgs {
		if m.Channel == ch && m.Status == model.Pending && !m.NextAttemptAt.After(now) {
			eligible = append(eligible, m)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].NextAttemptAt.Equal(eligible[j].NextAttemptAt) {
			return eligible[i].NextAttemptAt.Before(eligible[j].NextAttemptAt)
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimedAt := time.Now().UTC()
	out := make([]model.QueuedMessage, 0, len(eligible))
	for _, m := range eligible {
		m.Status = model.Sending
		m.UpdatedAt = claimedAt
		out = append(out, *m)
	}
	return out, nil
}

func (r *MemoryMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok || m.Status != model.Sending {
		return ErrNotClaimed
	}

	now := time.Now().UTC()
	m.Status = model.Sent
	m.AttemptCount++
	m.ExternalID = &externalID
	m.SentAt = &now
	m.UpdatedAt = now
	return nil
}

func (r *MemoryMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, attemptCount int, nextAttemptAt time.Time, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok || m.Status != model.Sending {
		return ErrNotClaimed
	}

	m.AttemptCount = attemptCount
	m.LastError = &reason
	m.UpdatedAt = time.Now().UTC()
	if final {
		m.Status = model.Failed
	} else {
		m.Status = model.Pending
		m.NextAttemptAt = nextAttemptAt.UTC()
	}
	return nil
}

func (r *MemoryMessageRepo) Release(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok || m.Status != model.Sending {
		return ErrNotClaimed
	}
	m.Status = model.Pending
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryMessageRepo) Get(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return model.QueuedMessage{}, ErrNotFound
	}
	return *m, nil
}

func (r *MemoryMessageRepo) List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.QueuedMessage
	for _, m := range r.msgs {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
