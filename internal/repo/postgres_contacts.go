package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
)

type PostgresContactRepo struct {
	db *sql.DB
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

func (r *PostgresContactRepo) Get(ctx context.Context, id uuid.UUID) (model.Contact, error) {
	var (
		c         model.Contact
		phone     sql.NullString
		email     sql.NullString
		fbPSID    sql.NullString
		igSID     sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, facebook_psid, instagram_sid
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &phone, &email, &fbPSID, &igSID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contact{}, ErrContactNotFound
	}
	if err != nil {
		return model.Contact{}, err
	}

	c.Phone = phone.String
	c.Email = email.String
	c.FacebookPSID = fbPSID.String
	c.InstagramSID = igSID.String
	return c, nil
}

func (r *PostgresContactRepo) LastInboundAt(ctx context.Context, contactID uuid.UUID, ch model.Channel) (*time.Time, error) {
	var at sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(received_at)
		FROM inbound_messages
		WHERE contact_id = $1 AND channel = $2
	`, contactID, string(ch)).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}

	t := at.Time
	return &t, nil
}

func (r *PostgresContactRepo) RecordInbound(ctx context.Context, contactID uuid.UUID, ch model.Channel, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inbound_messages (contact_id, channel, received_at)
		VALUES ($1, $2, $3)
	`, contactID, string(ch), at.UTC())
	return err
}
