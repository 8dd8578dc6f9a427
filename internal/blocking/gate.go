// Package blocking maintains the blocklist of catch-all-only addresses.
// Only addresses that exist purely as catch-all matches may be blocked;
// manually-provisioned addresses are deactivated on their own record so
// there is a single source of truth for "is this address active".
package blocking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
)

var (
	ErrAlreadyBlocked   = errors.New("email address is already blocked")
	ErrNoCatchAll       = errors.New("domain does not have catch-all enabled")
	ErrManagedAddress   = errors.New("address has a managed record; deactivate it instead of blocking")
	ErrUnknownDomain    = errors.New("address domain is not registered")
	ErrMalformedAddress = errors.New("malformed email address")
)

// BlockedEmail is one blocklist entry.
type BlockedEmail struct {
	ID           string    `json:"id"`
	EmailAddress string    `json:"email_address"`
	DomainID     string    `json:"domain_id"`
	Reason       string    `json:"reason,omitempty"`
	BlockedBy    string    `json:"blocked_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// DomainLookup resolves a domain by name. *domains.Store satisfies it.
type DomainLookup interface {
	GetByName(ctx context.Context, name string) (*domains.Domain, error)
}

// AddressLookup checks for managed address rows. *addresses.Store
// satisfies it.
type AddressLookup interface {
	Exists(ctx context.Context, domainID, address string) (bool, error)
}

// Gate enforces the blocklist rules and persists entries.
type Gate struct {
	db      *sql.DB
	domains DomainLookup
	addrs   AddressLookup
}

// NewGate creates a blocking gate.
func NewGate(db *sql.DB, domainLookup DomainLookup, addrLookup AddressLookup) *Gate {
	return &Gate{db: db, domains: domainLookup, addrs: addrLookup}
}

// Block adds an address to the blocklist after validating eligibility:
// not already blocked, domain is catch-all enabled, and no managed
// EmailAddress row exists for the exact address.
func (g *Gate) Block(ctx context.Context, address, blockedBy, reason string) (*BlockedEmail, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	domainPart := addresses.DomainPart(address)
	if domainPart == "" {
		return nil, ErrMalformedAddress
	}

	d, err := g.domains.GetByName(ctx, domainPart)
	if err != nil {
		if errors.Is(err, domains.ErrNotFound) {
			return nil, ErrUnknownDomain
		}
		return nil, err
	}
	if !d.IsCatchAllEnabled {
		return nil, ErrNoCatchAll
	}

	managed, err := g.addrs.Exists(ctx, d.ID, address)
	if err != nil {
		return nil, err
	}
	if managed {
		return nil, ErrManagedAddress
	}

	blocked, err := g.IsBlocked(ctx, address)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrAlreadyBlocked
	}

	entry := &BlockedEmail{
		ID:           uuid.New().String(),
		EmailAddress: address,
		DomainID:     d.ID,
		Reason:       reason,
		BlockedBy:    blockedBy,
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO blocked_emails (id, email_address, domain_id, reason, blocked_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, entry.ID, entry.EmailAddress, entry.DomainID, nullIfEmpty(entry.Reason), entry.BlockedBy)
	if err != nil {
		// The IsBlocked pre-check races with concurrent Block calls; the
		// unique constraint on email_address settles the winner and the
		// loser reports the same error as the pre-check.
		if isUniqueViolation(err) {
			return nil, ErrAlreadyBlocked
		}
		return nil, fmt.Errorf("insert blocked email: %w", err)
	}

	logger.Info("address blocked", "email", address, "blocked_by", blockedBy)
	return entry, nil
}

// Unblock removes an address from the blocklist. Removing an address that
// is not blocked is not an error.
func (g *Gate) Unblock(ctx context.Context, address string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM blocked_emails WHERE email_address = $1`, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("delete blocked email: %w", err)
	}
	return nil
}

// IsBlocked is the fast existence check the dispatcher consults before
// any fan-out begins.
func (g *Gate) IsBlocked(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := g.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocked_emails WHERE email_address = $1)`,
		strings.ToLower(address)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blocked email: %w", err)
	}
	return exists, nil
}

// List returns the blocklist for a domain.
func (g *Gate) List(ctx context.Context, domainID string) ([]BlockedEmail, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, email_address, domain_id, reason, blocked_by, created_at
		FROM blocked_emails WHERE domain_id = $1 ORDER BY created_at DESC
	`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list blocked emails: %w", err)
	}
	defer rows.Close()

	var out []BlockedEmail
	for rows.Next() {
		var b BlockedEmail
		var reason sql.NullString
		if err := rows.Scan(&b.ID, &b.EmailAddress, &b.DomainID, &reason, &b.BlockedBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocked email: %w", err)
		}
		b.Reason = reason.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
