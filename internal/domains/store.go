package domains

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store persists domains and their DNS records in Postgres.
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed domain store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const domainColumns = `id, domain_name, status, verification_token, ses_verification_status,
	       is_catch_all_enabled, catch_all_endpoint_id, can_receive_emails,
	       user_id, created_at, updated_at`

func (s *Store) Create(ctx context.Context, d *Domain) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	d.DomainName = strings.ToLower(d.DomainName)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domains
			(id, domain_name, status, verification_token, ses_verification_status,
			 is_catch_all_enabled, catch_all_endpoint_id, can_receive_emails,
			 user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, d.ID, d.DomainName, d.Status, nullIfEmpty(d.VerificationToken),
		nullIfEmpty(d.SESVerificationStatus), d.IsCatchAllEnabled,
		nullIfEmpty(d.CatchAllEndpointID), d.CanReceiveEmails, d.UserID)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

func (s *Store) scanDomain(row interface {
	Scan(dest ...interface{}) error
}) (*Domain, error) {
	d := &Domain{}
	var token, sesStatus, catchAllEndpoint sql.NullString
	err := row.Scan(
		&d.ID, &d.DomainName, &d.Status, &token, &sesStatus,
		&d.IsCatchAllEnabled, &catchAllEndpoint, &d.CanReceiveEmails,
		&d.UserID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan domain: %w", err)
	}
	d.VerificationToken = token.String
	d.SESVerificationStatus = sesStatus.String
	d.CatchAllEndpointID = catchAllEndpoint.String
	return d, nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (*Domain, error) {
	return s.scanDomain(s.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE id = $1 AND user_id = $2`, id, userID))
}

// GetByName resolves a domain by its name across all users; the delivery
// path has only the recipient address to go on.
func (s *Store) GetByName(ctx context.Context, name string) (*Domain, error) {
	return s.scanDomain(s.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE domain_name = $1`, strings.ToLower(name)))
}

func (s *Store) List(ctx context.Context, userID string) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()
	return collectDomains(rows)
}

// ListUnverified returns domains the verification poller should re-drive.
func (s *Store) ListUnverified(ctx context.Context) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE status IN ($1, $2) ORDER BY updated_at`,
		StatusPending, StatusDNSVerified)
	if err != nil {
		return nil, fmt.Errorf("list unverified domains: %w", err)
	}
	defer rows.Close()
	return collectDomains(rows)
}

func collectDomains(rows *sql.Rows) ([]Domain, error) {
	var out []Domain
	for rows.Next() {
		var d Domain
		var token, sesStatus, catchAllEndpoint sql.NullString
		if err := rows.Scan(&d.ID, &d.DomainName, &d.Status, &token, &sesStatus,
			&d.IsCatchAllEnabled, &catchAllEndpoint, &d.CanReceiveEmails,
			&d.UserID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		d.VerificationToken = token.String
		d.SESVerificationStatus = sesStatus.String
		d.CatchAllEndpointID = catchAllEndpoint.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateVerification persists the outcome of a verification pass.
func (s *Store) UpdateVerification(ctx context.Context, id, status, token, sesStatus string, canReceive bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE domains
		SET status = $2, verification_token = $3, ses_verification_status = $4,
		    can_receive_emails = $5, updated_at = NOW()
		WHERE id = $1
	`, id, status, nullIfEmpty(token), nullIfEmpty(sesStatus), canReceive)
	if err != nil {
		return fmt.Errorf("update domain verification: %w", err)
	}
	return requireRow(res)
}

// SetCatchAll records the catch-all toggle and its endpoint. The SES rule
// change happens first via the rule manager; this is the DB mirror.
func (s *Store) SetCatchAll(ctx context.Context, id string, enabled bool, endpointID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE domains
		SET is_catch_all_enabled = $2, catch_all_endpoint_id = $3, updated_at = NOW()
		WHERE id = $1
	`, id, enabled, nullIfEmpty(endpointID))
	if err != nil {
		return fmt.Errorf("set catch-all: %w", err)
	}
	return requireRow(res)
}

// ReplaceDnsRecords swaps the domain's DNS record set in one transaction.
// Records are recreated wholesale on every verification (re)initiation.
func (s *Store) ReplaceDnsRecords(ctx context.Context, domainID string, records []DnsRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace dns records: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dns_records WHERE domain_id = $1`, domainID); err != nil {
		return fmt.Errorf("clear dns records: %w", err)
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.New().String()
		}
		records[i].DomainID = domainID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dns_records (id, domain_id, type, name, expected_value, is_verified)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, records[i].ID, domainID, records[i].Type, records[i].Name,
			records[i].ExpectedValue, records[i].IsVerified); err != nil {
			return fmt.Errorf("insert dns record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace dns records: %w", err)
	}
	return nil
}

func (s *Store) ListDnsRecords(ctx context.Context, domainID string) ([]DnsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain_id, type, name, expected_value, is_verified
		FROM dns_records WHERE domain_id = $1 ORDER BY type, name
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list dns records: %w", err)
	}
	defer rows.Close()

	var out []DnsRecord
	for rows.Next() {
		var r DnsRecord
		if err := rows.Scan(&r.ID, &r.DomainID, &r.Type, &r.Name, &r.ExpectedValue, &r.IsVerified); err != nil {
			return nil, fmt.Errorf("scan dns record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkDnsRecordVerified(ctx context.Context, id string, verified bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dns_records SET is_verified = $2 WHERE id = $1`, id, verified)
	if err != nil {
		return fmt.Errorf("mark dns record verified: %w", err)
	}
	return nil
}

// Delete removes the domain row; dns_records and email_addresses cascade.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM domains WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
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
