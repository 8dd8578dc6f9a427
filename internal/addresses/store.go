// Package addresses persists the email addresses users provision on their
// domains. An address row is only a routing entry; SES rule membership is
// managed separately by the rule manager, and the two are reconciled by
// the is_receipt_rule_configured flag.
package addresses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("email address not found")
	ErrDomainMismatch = errors.New("address domain does not match owning domain")
)

// EmailAddress is a provisioned recipient on a verified domain.
// EndpointID is a weak reference: the FK nulls it when the endpoint is
// deleted, and delivery falls through to the domain's catch-all target.
type EmailAddress struct {
	ID                      string    `json:"id"`
	Address                 string    `json:"address"`
	DomainID                string    `json:"domain_id"`
	EndpointID              string    `json:"endpoint_id,omitempty"`
	IsActive                bool      `json:"is_active"`
	IsReceiptRuleConfigured bool      `json:"is_receipt_rule_configured"`
	UserID                  string    `json:"user_id"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// DomainPart returns the part after "@", lowercased.
func DomainPart(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// Store persists email addresses in Postgres.
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed address store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Create inserts an address after checking it belongs to domainName.
func (s *Store) Create(ctx context.Context, a *EmailAddress, domainName string) error {
	if DomainPart(a.Address) != strings.ToLower(domainName) {
		return fmt.Errorf("%w: %s not under %s", ErrDomainMismatch, a.Address, domainName)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Address = strings.ToLower(a.Address)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_addresses
			(id, address, domain_id, endpoint_id, is_active, is_receipt_rule_configured,
			 user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, a.ID, a.Address, a.DomainID, nullIfEmpty(a.EndpointID), a.IsActive, a.IsReceiptRuleConfigured, a.UserID)
	if err != nil {
		return fmt.Errorf("create email address: %w", err)
	}
	return nil
}

// GetByAddress resolves an exact (case-insensitive) address match.
func (s *Store) GetByAddress(ctx context.Context, address string) (*EmailAddress, error) {
	a := &EmailAddress{}
	var endpointID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, address, domain_id, endpoint_id, is_active, is_receipt_rule_configured,
		       user_id, created_at, updated_at
		FROM email_addresses
		WHERE address = $1
	`, strings.ToLower(address)).Scan(
		&a.ID, &a.Address, &a.DomainID, &endpointID, &a.IsActive, &a.IsReceiptRuleConfigured,
		&a.UserID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email address: %w", err)
	}
	a.EndpointID = endpointID.String
	return a, nil
}

// ListByDomain returns every address on a domain, active first.
func (s *Store) ListByDomain(ctx context.Context, domainID string) ([]EmailAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, domain_id, endpoint_id, is_active, is_receipt_rule_configured,
		       user_id, created_at, updated_at
		FROM email_addresses
		WHERE domain_id = $1
		ORDER BY is_active DESC, address
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list email addresses: %w", err)
	}
	defer rows.Close()

	var out []EmailAddress
	for rows.Next() {
		var a EmailAddress
		var endpointID sql.NullString
		if err := rows.Scan(&a.ID, &a.Address, &a.DomainID, &endpointID, &a.IsActive,
			&a.IsReceiptRuleConfigured, &a.UserID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan email address: %w", err)
		}
		a.EndpointID = endpointID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveAddresses returns the active address strings for a domain, the
// list the rule manager feeds into SES recipients.
func (s *Store) ActiveAddresses(ctx context.Context, domainID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM email_addresses
		WHERE domain_id = $1 AND is_active = true
		ORDER BY address
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list active addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// Exists reports whether a manually-created row exists for the exact
// address on the domain. The blocking gate uses this check.
func (s *Store) Exists(ctx context.Context, domainID, address string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM email_addresses WHERE domain_id = $1 AND address = $2)
	`, domainID, strings.ToLower(address)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email address exists: %w", err)
	}
	return exists, nil
}

// SetEndpoint reassigns the delivery endpoint for an address. Empty
// endpointID detaches it.
func (s *Store) SetEndpoint(ctx context.Context, userID, id, endpointID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_addresses SET endpoint_id = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID, nullIfEmpty(endpointID))
	if err != nil {
		return fmt.Errorf("set address endpoint: %w", err)
	}
	return requireRow(res)
}

// MarkRuleConfigured records whether the SES rule currently includes the
// address.
func (s *Store) MarkRuleConfigured(ctx context.Context, id string, configured bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_addresses SET is_receipt_rule_configured = $2, updated_at = NOW()
		WHERE id = $1
	`, id, configured)
	if err != nil {
		return fmt.Errorf("mark rule configured: %w", err)
	}
	return requireRow(res)
}

// Delete removes the row only. The caller decides whether to re-drive the
// SES rule from the remaining active addresses.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM email_addresses WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete email address: %w", err)
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
