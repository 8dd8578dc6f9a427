package domains

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/ignite/inbound-gateway/internal/dnscheck"
	"github.com/ignite/inbound-gateway/internal/rules"
	"github.com/ignite/inbound-gateway/internal/sesraw"
)

type fakeStore struct {
	domains map[string]*Domain
	records map[string][]DnsRecord
}

func newFakeStore(ds ...*Domain) *fakeStore {
	s := &fakeStore{domains: map[string]*Domain{}, records: map[string][]DnsRecord{}}
	for _, d := range ds {
		s.domains[d.ID] = d
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, userID, id string) (*Domain, error) {
	d, ok := s.domains[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) GetByName(ctx context.Context, name string) (*Domain, error) {
	for _, d := range s.domains {
		if d.DomainName == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) ListUnverified(ctx context.Context) ([]Domain, error) {
	var out []Domain
	for _, d := range s.domains {
		if d.Status == StatusPending || d.Status == StatusDNSVerified {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateVerification(ctx context.Context, id, status, token, sesStatus string, canReceive bool) error {
	d, ok := s.domains[id]
	if !ok {
		return ErrNotFound
	}
	d.Status, d.VerificationToken, d.SESVerificationStatus, d.CanReceiveEmails = status, token, sesStatus, canReceive
	return nil
}

func (s *fakeStore) ReplaceDnsRecords(ctx context.Context, domainID string, records []DnsRecord) error {
	s.records[domainID] = records
	return nil
}

func (s *fakeStore) ListDnsRecords(ctx context.Context, domainID string) ([]DnsRecord, error) {
	return s.records[domainID], nil
}

func (s *fakeStore) Delete(ctx context.Context, userID, id string) error {
	if _, ok := s.domains[id]; !ok {
		return ErrNotFound
	}
	delete(s.domains, id)
	return nil
}

// fakeSES embeds the interface so only the methods the orchestrator uses
// need implementing.
type fakeSES struct {
	sesraw.API
	status        string
	token         string
	verifyCalls   int
	deleteErr     error
	deletedIdents []string
}

func (f *fakeSES) GetIdentityVerificationAttributes(ctx context.Context, in *ses.GetIdentityVerificationAttributesInput, _ ...func(*ses.Options)) (*ses.GetIdentityVerificationAttributesOutput, error) {
	out := &ses.GetIdentityVerificationAttributesOutput{VerificationAttributes: map[string]types.IdentityVerificationAttributes{}}
	if f.status != "" {
		out.VerificationAttributes[in.Identities[0]] = types.IdentityVerificationAttributes{
			VerificationStatus: types.VerificationStatus(f.status),
			VerificationToken:  aws.String(f.token),
		}
	}
	return out, nil
}

func (f *fakeSES) VerifyDomainIdentity(ctx context.Context, in *ses.VerifyDomainIdentityInput, _ ...func(*ses.Options)) (*ses.VerifyDomainIdentityOutput, error) {
	f.verifyCalls++
	if f.token == "" {
		f.token = "tok-123"
	}
	return &ses.VerifyDomainIdentityOutput{VerificationToken: aws.String(f.token)}, nil
}

func (f *fakeSES) DeleteIdentity(ctx context.Context, in *ses.DeleteIdentityInput, _ ...func(*ses.Options)) (*ses.DeleteIdentityOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletedIdents = append(f.deletedIdents, aws.ToString(in.Identity))
	return &ses.DeleteIdentityOutput{}, nil
}

// fakeDNS reports every record verified or none.
type fakeDNS struct{ verified bool }

func (f *fakeDNS) VerifyRecords(ctx context.Context, records []dnscheck.Record) []dnscheck.RecordCheck {
	out := make([]dnscheck.RecordCheck, len(records))
	for i, r := range records {
		out[i] = dnscheck.RecordCheck{Type: r.Type, Name: r.Name, Expected: r.Expected, Verified: f.verified}
	}
	return out
}

type fakeCleaner struct{ deleted []string }

func (f *fakeCleaner) DeleteDomainRules(ctx context.Context, domain string) rules.Result {
	f.deleted = append(f.deleted, domain)
	return rules.Result{Status: rules.StatusUpdated}
}

type fakeNotifier struct {
	mu    sync.Mutex
	wg    sync.WaitGroup
	calls []string
}

func (f *fakeNotifier) NotifyDomainVerified(ctx context.Context, d *Domain) error {
	f.mu.Lock()
	f.calls = append(f.calls, d.DomainName)
	f.mu.Unlock()
	f.wg.Done()
	return nil
}

func TestInitiateVerificationPendingWhileDNSUnpropagated(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{status: "Pending", token: "tok-123"}
	o := NewOrchestrator(store, api, &fakeDNS{verified: false}, nil, nil, "us-east-1")

	res, err := o.InitiateVerification(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending || res.CanProceed {
		t.Errorf("result = %+v, want pending/cannot-proceed", res)
	}
	if len(res.DnsRecords) != 2 {
		t.Fatalf("records = %d, want TXT+MX", len(res.DnsRecords))
	}
	if res.DnsRecords[0].Name != "_amazonses.example.com" || res.DnsRecords[0].ExpectedValue != "tok-123" {
		t.Errorf("TXT record = %+v", res.DnsRecords[0])
	}
	if res.DnsRecords[1].ExpectedValue != "10 inbound-smtp.us-east-1.amazonaws.com" {
		t.Errorf("MX record = %+v", res.DnsRecords[1])
	}
}

func TestInitiateVerificationReachesSESVerified(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, VerificationToken: "tok-123", UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{status: "Success", token: "tok-123"}
	notifier := &fakeNotifier{}
	notifier.wg.Add(1)
	o := NewOrchestrator(store, api, &fakeDNS{verified: true}, nil, notifier, "us-east-1")

	res, err := o.InitiateVerification(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSESVerified || !res.CanProceed {
		t.Errorf("result = %+v, want ses_verified/can-proceed", res)
	}
	if !store.domains["d1"].CanReceiveEmails {
		t.Error("can_receive_emails not persisted")
	}
	if api.verifyCalls != 0 {
		t.Error("existing token was re-requested from SES")
	}

	done := make(chan struct{})
	go func() { notifier.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("verified notification never dispatched")
	}
}

func TestInitiateVerificationDNSOnlyIsNotEnough(t *testing.T) {
	// SES still Pending: local DNS visibility alone must not flip the
	// domain to ses_verified.
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, VerificationToken: "tok-123", UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{status: "Pending", token: "tok-123"}
	o := NewOrchestrator(store, api, &fakeDNS{verified: true}, nil, nil, "us-east-1")

	res, err := o.InitiateVerification(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusDNSVerified || res.CanProceed {
		t.Errorf("result = %+v, want dns_verified/cannot-proceed", res)
	}
}

func TestInitiateVerificationSESFailure(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, VerificationToken: "tok-123", UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{status: "Failed", token: "tok-123"}
	o := NewOrchestrator(store, api, &fakeDNS{verified: true}, nil, nil, "us-east-1")

	res, err := o.InitiateVerification(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

func TestInitiateVerificationUnknownIdentityRequestsToken(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{}
	o := NewOrchestrator(store, api, &fakeDNS{verified: false}, nil, nil, "us-east-1")

	if _, err := o.InitiateVerification(context.Background(), "u1", "d1"); err != nil {
		t.Fatal(err)
	}
	if api.verifyCalls != 1 {
		t.Errorf("verifyCalls = %d, want 1", api.verifyCalls)
	}
	if store.domains["d1"].VerificationToken != "tok-123" {
		t.Errorf("token = %q", store.domains["d1"].VerificationToken)
	}
}

func TestInitiateVerificationWithoutAWS(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, UserID: "u1"}
	store := newFakeStore(d)
	o := NewOrchestrator(store, nil, &fakeDNS{}, nil, nil, "us-east-1")

	res, err := o.InitiateVerification(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Warning == "" {
		t.Error("missing configuration warning")
	}
	if store.domains["d1"].Status != StatusPending {
		t.Error("status changed without AWS")
	}
}

func TestDeleteDomainCleansSES(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusSESVerified, UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{}
	cleaner := &fakeCleaner{}
	o := NewOrchestrator(store, api, &fakeDNS{}, cleaner, nil, "us-east-1")

	if err := o.Delete(context.Background(), "u1", "d1"); err != nil {
		t.Fatal(err)
	}
	if len(api.deletedIdents) != 1 || api.deletedIdents[0] != "example.com" {
		t.Errorf("deleted identities = %v", api.deletedIdents)
	}
	if len(cleaner.deleted) != 1 || cleaner.deleted[0] != "example.com" {
		t.Errorf("rule cleanup = %v", cleaner.deleted)
	}
	if _, ok := store.domains["d1"]; ok {
		t.Error("domain row not deleted")
	}
}

func TestDeleteDomainMissingIdentityOK(t *testing.T) {
	d := &Domain{ID: "d1", DomainName: "example.com", Status: StatusPending, UserID: "u1"}
	store := newFakeStore(d)
	api := &fakeSES{deleteErr: &types.RuleSetDoesNotExistException{}}
	o := NewOrchestrator(store, api, &fakeDNS{}, &fakeCleaner{}, nil, "us-east-1")

	if err := o.Delete(context.Background(), "u1", "d1"); err != nil {
		t.Fatalf("already-deleted identity must be success, got %v", err)
	}
}

func TestValidDomainName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"example.com", true},
		{"mail.sub.example.co.uk", true},
		{"EXAMPLE.COM", true},
		{"no-tld", false},
		{"-bad.com", false},
		{"spaces in.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidDomainName(tt.name); got != tt.valid {
			t.Errorf("ValidDomainName(%q) = %t, want %t", tt.name, got, tt.valid)
		}
	}
}
