package domains

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"github.com/ignite/inbound-gateway/internal/dnscheck"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
	"github.com/ignite/inbound-gateway/internal/rules"
	"github.com/ignite/inbound-gateway/internal/sesraw"
)

// Storage is the persistence surface the orchestrator needs. *Store
// satisfies it; tests provide a fake.
type Storage interface {
	Get(ctx context.Context, userID, id string) (*Domain, error)
	GetByName(ctx context.Context, name string) (*Domain, error)
	ListUnverified(ctx context.Context) ([]Domain, error)
	UpdateVerification(ctx context.Context, id, status, token, sesStatus string, canReceive bool) error
	ReplaceDnsRecords(ctx context.Context, domainID string, records []DnsRecord) error
	ListDnsRecords(ctx context.Context, domainID string) ([]DnsRecord, error)
	Delete(ctx context.Context, userID, id string) error
}

// DNSVerifier runs the record checks. *dnscheck.Verifier satisfies it.
type DNSVerifier interface {
	VerifyRecords(ctx context.Context, records []dnscheck.Record) []dnscheck.RecordCheck
}

// RuleCleaner tears down SES rules on domain deletion. *rules.Manager
// satisfies it.
type RuleCleaner interface {
	DeleteDomainRules(ctx context.Context, domain string) rules.Result
}

// Notifier delivers the "domain verified" notification. Failures are
// logged and never roll back verification state.
type Notifier interface {
	NotifyDomainVerified(ctx context.Context, d *Domain) error
}

// VerificationResult is what a verification pass reports back to the API.
type VerificationResult struct {
	Status     string                 `json:"status"`
	SESStatus  string                 `json:"ses_status,omitempty"`
	CanProceed bool                   `json:"can_proceed"`
	DnsRecords []DnsRecord            `json:"dns_records"`
	Checks     []dnscheck.RecordCheck `json:"checks,omitempty"`
	Warning    string                 `json:"warning,omitempty"`
}

// Orchestrator drives the domain verification state machine.
type Orchestrator struct {
	store    Storage
	api      sesraw.API
	dns      DNSVerifier
	cleaner  RuleCleaner
	notifier Notifier
	region   string
}

// NewOrchestrator assembles the orchestrator. api may be nil when AWS is
// unconfigured; verification then reports a warning instead of failing.
// notifier may be nil.
func NewOrchestrator(store Storage, api sesraw.API, dns DNSVerifier, cleaner RuleCleaner, notifier Notifier, region string) *Orchestrator {
	return &Orchestrator{store: store, api: api, dns: dns, cleaner: cleaner, notifier: notifier, region: region}
}

// RequiredRecords returns the DNS records a domain owner must publish for
// SES verification and inbound mail routing.
func (o *Orchestrator) RequiredRecords(domainName, token string) []DnsRecord {
	return []DnsRecord{
		{Type: "TXT", Name: "_amazonses." + domainName, ExpectedValue: token},
		{Type: "MX", Name: domainName, ExpectedValue: fmt.Sprintf("10 inbound-smtp.%s.amazonaws.com", o.region)},
	}
}

// InitiateVerification starts or re-drives verification for a domain. It
// is idempotent: an existing verification token is reused rather than
// re-requested, and the SES status and DNS checks are refreshed on every
// call. Safe to call from the API and the poller concurrently.
func (o *Orchestrator) InitiateVerification(ctx context.Context, userID, domainID string) (*VerificationResult, error) {
	d, err := o.store.Get(ctx, userID, domainID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusSESVerified {
		records, _ := o.store.ListDnsRecords(ctx, d.ID)
		return &VerificationResult{Status: d.Status, SESStatus: d.SESVerificationStatus, CanProceed: true, DnsRecords: records}, nil
	}

	if o.api == nil {
		return &VerificationResult{
			Status:  d.Status,
			Warning: "AWS credentials not configured; domain saved but verification cannot proceed",
		}, nil
	}

	token := d.VerificationToken
	sesStatus, sesToken, err := sesraw.VerificationStatus(ctx, o.api, d.DomainName)
	if err != nil {
		return nil, fmt.Errorf("refreshing SES status for %s: %w", d.DomainName, err)
	}
	if sesToken != "" {
		token = sesToken
	}

	// Request the identity only when SES does not know it yet. Re-requesting
	// an existing identity churns the token and invalidates published DNS.
	if token == "" || sesStatus == "NotStarted" {
		out, err := o.api.VerifyDomainIdentity(ctx, &ses.VerifyDomainIdentityInput{
			Domain: aws.String(d.DomainName),
		})
		if err != nil {
			return nil, fmt.Errorf("requesting domain identity for %s: %w", d.DomainName, err)
		}
		token = aws.ToString(out.VerificationToken)
		if sesStatus == "NotStarted" {
			sesStatus = "Pending"
		}
	}

	records := o.RequiredRecords(d.DomainName, token)
	toCheck := make([]dnscheck.Record, len(records))
	for i, r := range records {
		toCheck[i] = dnscheck.Record{Type: r.Type, Name: r.Name, Expected: r.ExpectedValue}
	}
	checks := o.dns.VerifyRecords(ctx, toCheck)
	for i := range records {
		records[i].IsVerified = checks[i].Verified
	}
	dnsOK := dnscheck.AllVerified(checks)

	status := StatusPending
	canReceive := false
	switch {
	case sesStatus == "Success" && dnsOK:
		// SES reporting Success can lead actual propagation visibility;
		// requiring the local DNS pass too avoids a premature ready state.
		status = StatusSESVerified
		canReceive = true
	case sesStatus == "Failed":
		status = StatusFailed
	case dnsOK:
		status = StatusDNSVerified
	}

	if err := o.store.ReplaceDnsRecords(ctx, d.ID, records); err != nil {
		return nil, err
	}
	if err := o.store.UpdateVerification(ctx, d.ID, status, token, sesStatus, canReceive); err != nil {
		return nil, err
	}

	if status == StatusSESVerified && d.Status != StatusSESVerified && o.notifier != nil {
		verified := *d
		verified.Status = status
		verified.CanReceiveEmails = true
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := o.notifier.NotifyDomainVerified(nctx, &verified); err != nil {
				logger.Warn("domain verified notification failed", "domain", verified.DomainName, "error", err.Error())
			}
		}()
	}

	logger.Info("verification pass", "domain", d.DomainName, "status", status, "ses_status", sesStatus, "dns_ok", fmt.Sprintf("%t", dnsOK))
	return &VerificationResult{
		Status:     status,
		SESStatus:  sesStatus,
		CanProceed: status == StatusSESVerified,
		DnsRecords: records,
		Checks:     checks,
	}, nil
}

// Delete tears a domain down: SES identity, receipt rules, then rows.
// A missing SES identity is success; the domain may never have completed
// verification.
func (o *Orchestrator) Delete(ctx context.Context, userID, domainID string) error {
	d, err := o.store.Get(ctx, userID, domainID)
	if err != nil {
		return err
	}

	if o.api != nil {
		_, err := o.api.DeleteIdentity(ctx, &ses.DeleteIdentityInput{Identity: aws.String(d.DomainName)})
		if err != nil && !sesraw.IsNotFound(err) {
			return fmt.Errorf("deleting SES identity %s: %w", d.DomainName, err)
		}
		if o.cleaner != nil {
			if res := o.cleaner.DeleteDomainRules(ctx, d.DomainName); res.Status == rules.StatusFailed {
				return fmt.Errorf("deleting receipt rules for %s: %s", d.DomainName, res.Error)
			}
		}
	}

	return o.store.Delete(ctx, userID, domainID)
}
