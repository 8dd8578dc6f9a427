package mailer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Send statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrNotFound = errors.New("sent email not found")

// SentEmail is one outbound send attempt.
type SentEmail struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	IdempotencyKey   string    `json:"idempotency_key,omitempty"`
	Status           string    `json:"status"`
	ProviderResponse string    `json:"provider_response,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
	Recipient        string    `json:"recipient"`
	Subject          string    `json:"subject"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SentStore persists send records in Postgres.
type SentStore struct{ db *sql.DB }

// NewSentStore creates a Postgres-backed sent-email store.
func NewSentStore(db *sql.DB) *SentStore { return &SentStore{db: db} }

// Claim atomically claims an idempotency key by inserting a pending
// record. The (user_id, idempotency_key) unique index plus ON CONFLICT
// DO NOTHING makes this a single atomic step, so concurrent retries with
// the same key cannot both win. Returns the record and whether this call
// created it; when fresh is false the caller must return the existing
// record's outcome instead of sending again.
func (s *SentStore) Claim(ctx context.Context, userID, idempotencyKey, recipient, subject string) (rec *SentEmail, fresh bool, err error) {
	rec = &SentEmail{
		ID:             uuid.New().String(),
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Status:         StatusPending,
		Recipient:      recipient,
		Subject:        subject,
	}

	if idempotencyKey == "" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO sent_emails (id, user_id, idempotency_key, status, recipient, subject, created_at, updated_at)
			VALUES ($1, $2, NULL, $3, $4, $5, NOW(), NOW())
		`, rec.ID, userID, StatusPending, recipient, subject)
		if err != nil {
			return nil, false, fmt.Errorf("insert sent email: %w", err)
		}
		return rec, true, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_emails (id, user_id, idempotency_key, status, recipient, subject, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, rec.ID, userID, idempotencyKey, StatusPending, recipient, subject)
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.GetByIdempotencyKey(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// MarkResult records the outcome of a send attempt.
func (s *SentStore) MarkResult(ctx context.Context, id, status, providerResponse, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sent_emails
		SET status = $2, provider_response = $3, message_id = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status, nullIfEmpty(providerResponse), nullIfEmpty(messageID))
	if err != nil {
		return fmt.Errorf("mark send result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByIdempotencyKey loads the record a previous Claim created.
func (s *SentStore) GetByIdempotencyKey(ctx context.Context, userID, key string) (*SentEmail, error) {
	rec := &SentEmail{}
	var idemKey, provider, messageID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, idempotency_key, status, provider_response, message_id,
		       recipient, subject, created_at, updated_at
		FROM sent_emails
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key).Scan(
		&rec.ID, &rec.UserID, &idemKey, &rec.Status, &provider, &messageID,
		&rec.Recipient, &rec.Subject, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sent email: %w", err)
	}
	rec.IdempotencyKey = idemKey.String
	rec.ProviderResponse = provider.String
	rec.MessageID = messageID.String
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
