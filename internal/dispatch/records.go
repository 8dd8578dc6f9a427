package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delivery outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
)

// DeliveryRecord is one dispatch attempt, the row the endpoint test UI
// reads back.
type DeliveryRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	EndpointID     string    `json:"endpoint_id,omitempty"`
	Recipient      string    `json:"recipient"`
	MessageID      string    `json:"message_id,omitempty"`
	Format         string    `json:"format,omitempty"`
	Status         string    `json:"status"`
	ResponseCode   int       `json:"response_code,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordStore persists delivery records in Postgres.
type RecordStore struct{ db *sql.DB }

// NewRecordStore creates a Postgres-backed delivery record store.
func NewRecordStore(db *sql.DB) *RecordStore { return &RecordStore{db: db} }

func (s *RecordStore) Create(ctx context.Context, r *DeliveryRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries
			(id, user_id, endpoint_id, recipient, message_id, format, status,
			 response_code, response_time_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, r.ID, r.UserID, nullIfEmpty(r.EndpointID), r.Recipient, nullIfEmpty(r.MessageID),
		nullIfEmpty(r.Format), r.Status, nullIfZero(r.ResponseCode), r.ResponseTimeMs,
		nullIfEmpty(r.Error))
	if err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}
	return nil
}

// ListByEndpoint returns recent deliveries for one endpoint, newest first.
func (s *RecordStore) ListByEndpoint(ctx context.Context, userID, endpointID string, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint_id, recipient, message_id, format, status,
		       response_code, response_time_ms, error, created_at
		FROM deliveries
		WHERE user_id = $1 AND endpoint_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		var endpointID, messageID, format, errMsg sql.NullString
		var code sql.NullInt64
		if err := rows.Scan(&r.ID, &r.UserID, &endpointID, &r.Recipient, &messageID,
			&format, &r.Status, &code, &r.ResponseTimeMs, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		r.EndpointID = endpointID.String
		r.MessageID = messageID.String
		r.Format = format.String
		r.ResponseCode = int(code.Int64)
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
