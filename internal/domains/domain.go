// Package domains drives domain provisioning: persisting domains and
// their required DNS records, and orchestrating SES identity verification
// through its state machine (pending → dns_verified → ses_verified, with
// failed reachable on AWS rejection).
package domains

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Domain verification statuses.
const (
	StatusPending     = "pending"
	StatusDNSVerified = "dns_verified"
	StatusSESVerified = "ses_verified"
	StatusFailed      = "failed"
)

var ErrNotFound = errors.New("domain not found")

// Domain is a customer-owned mail domain.
// IsCatchAllEnabled=true implies no individual-address SES rule exists
// for the domain; the rule manager maintains that exclusion.
type Domain struct {
	ID                    string    `json:"id"`
	DomainName            string    `json:"domain_name"`
	Status                string    `json:"status"`
	VerificationToken     string    `json:"verification_token,omitempty"`
	SESVerificationStatus string    `json:"ses_verification_status,omitempty"`
	IsCatchAllEnabled     bool      `json:"is_catch_all_enabled"`
	CatchAllEndpointID    string    `json:"catch_all_endpoint_id,omitempty"`
	CanReceiveEmails      bool      `json:"can_receive_emails"`
	UserID                string    `json:"user_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DnsRecord is a record the customer must publish. Owned by Domain and
// recreated wholesale whenever verification is (re)initiated.
type DnsRecord struct {
	ID            string `json:"id"`
	DomainID      string `json:"domain_id"`
	Type          string `json:"type"` // TXT or MX
	Name          string `json:"name"`
	ExpectedValue string `json:"expected_value"`
	IsVerified    bool   `json:"is_verified"`
}

var domainNameRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidDomainName reports whether name is a plausible DNS domain. This is
// the first gate; anything failing it never reaches AWS.
func ValidDomainName(name string) bool {
	return domainNameRegex.MatchString(strings.ToLower(name))
}
