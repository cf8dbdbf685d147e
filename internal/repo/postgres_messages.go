package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Enqueue(ctx context.Context, ch model.Channel, recipient string, payload model.Payload) (model.QueuedMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.QueuedMessage{}, err
	}

	now := time.Now().UTC()
	msg := model.QueuedMessage{
		ID:            uuid.New(),
		Channel:       ch,
		Recipient:     recipient,
		Payload:       payload,
		Status:        model.Pending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO queued_messages
			(id, channel, recipient, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5, $5)
	`, msg.ID, string(ch), recipient, body, now)
	if err != nil {
		return model.QueuedMessage{}, err
	}
	return msg, nil
}

func (r *PostgresMessageRepo) ClaimBatch(ctx context.Context, ch model.Channel, limit int, now time.Time) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, channel, recipient, payload, status, attempt_count,
		       next_attempt_at, last_error, created_at, updated_at
		FROM queued_messages
		WHERE status = 'pending' AND channel = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, string(ch), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	claimedAt := time.Now().UTC()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queued_messages
			SET status = 'sending', updated_at = $2
			WHERE id = $1
		`, m.ID, claimedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Status = model.Sending
		msgs[i].UpdatedAt = claimedAt
	}
	return msgs, nil
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, externalID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'sent',
		    attempt_count = attempt_count + 1,
		    sent_at = now(),
		    external_id = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, externalID)
	if err != nil {
		return err
	}
	return requireClaimed(res)
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, attemptCount int, nextAttemptAt time.Time, final bool) error {
	var (
		res sql.Result
		err error
	)
	if final {
		// A terminal failure keeps its last next_attempt_at untouched.
		res, err = r.db.ExecContext(ctx, `
			UPDATE queued_messages
			SET status = 'failed', attempt_count = $2, last_error = $3, updated_at = now()
			WHERE id = $1 AND status = 'sending'
		`, id, attemptCount, reason)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE queued_messages
			SET status = 'pending', attempt_count = $2, last_error = $3,
			    next_attempt_at = $4, updated_at = now()
			WHERE id = $1 AND status = 'sending'
		`, id, attemptCount, reason, nextAttemptAt.UTC())
	}
	if err != nil {
		return err
	}
	return requireClaimed(res)
}

func (r *PostgresMessageRepo) Release(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id)
	if err != nil {
		return err
	}
	return requireClaimed(res)
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, channel, recipient, payload, status, attempt_count,
		       next_attempt_at, last_error, external_id, sent_at, created_at, updated_at
		FROM queued_messages
		WHERE id = $1
	`, id)

	m, err := scanFullMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueuedMessage{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresMessageRepo) List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel, recipient, payload, status, attempt_count,
		       next_attempt_at, last_error, external_id, sent_at, created_at, updated_at
		FROM queued_messages
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueuedMessage
	for rows.Next() {
		m, err := scanFullMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func requireClaimed(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (model.QueuedMessage, error) {
	var (
		m       model.QueuedMessage
		channel string
		status  string
		payload []byte
		lastErr sql.NullString
	)
	if err := s.Scan(
		&m.ID,
		&channel,
		&m.Recipient,
		&payload,
		&status,
		&m.AttemptCount,
		&m.NextAttemptAt,
		&lastErr,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.QueuedMessage{}, err
	}

	m.Channel = model.Channel(channel)
	m.Status = model.Status(status)
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return model.QueuedMessage{}, err
	}
	if lastErr.Valid {
		v := lastErr.String
		m.LastError = &v
	}
	return m, nil
}

func scanFullMessage(s rowScanner) (model.QueuedMessage, error) {
	var (
		m          model.QueuedMessage
		channel    string
		status     string
		payload    []byte
		lastErr    sql.NullString
		externalID sql.NullString
		sentAt     sql.NullTime
	)
	if err := s.Scan(
		&m.ID,
		&channel,
		&m.Recipient,
		&payload,
		&status,
		&m.AttemptCount,
		&m.NextAttemptAt,
		&lastErr,
		&externalID,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.QueuedMessage{}, err
	}

	m.Channel = model.Channel(channel)
	m.Status = model.Status(status)
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return model.QueuedMessage{}, err
	}
	if lastErr.Valid {
		v := lastErr.String
		m.LastError = &v
	}
	if externalID.Valid {
		v := externalID.String
		m.ExternalID = &v
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}
