package endpoints

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Store persists endpoints in Postgres. The email_addresses.endpoint_id
// foreign key carries ON DELETE SET NULL, so deleting an endpoint detaches
// referencing addresses instead of leaving dangling ids.
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed endpoint store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Create(ctx context.Context, e *Endpoint) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoints
			(id, user_id, name, type, config, webhook_format, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, e.ID, e.UserID, e.Name, e.Type, []byte(e.Config), nullIfEmpty(e.WebhookFormat), e.IsActive)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*Endpoint, error) {
	e := &Endpoint{}
	var format sql.NullString
	var config []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, config, webhook_format, is_active, created_at, updated_at
		FROM endpoints
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&e.ID, &e.UserID, &e.Name, &e.Type, &config, &format, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	e.Config = config
	e.WebhookFormat = format.String
	return e, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, config, webhook_format, is_active, created_at, updated_at
		FROM endpoints
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		var format sql.NullString
		var config []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Type, &config, &format, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		e.Config = config
		e.WebhookFormat = format.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateConfig replaces an endpoint's config and format. The caller is
// expected to have validated the new config via the typed constructors.
func (s *Store) UpdateConfig(ctx context.Context, userID, id string, config []byte, webhookFormat string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE endpoints
		SET config = $3, webhook_format = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID, config, nullIfEmpty(webhookFormat))
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetActive(ctx context.Context, userID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE endpoints SET is_active = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID, active)
	if err != nil {
		return fmt.Errorf("set endpoint active: %w", err)
	}
	return requireRow(res)
}

// Delete removes the endpoint. The FK nulls out email_addresses rows that
// referenced it.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM endpoints WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
