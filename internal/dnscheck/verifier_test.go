package dnscheck

import (
	"context"
	"net"
	"testing"
)

type fakeResolver struct {
	txt    map[string][]string
	mx     map[string][]*net.MX
	txtErr error
	mxErr  error
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if f.txtErr != nil {
		return nil, f.txtErr
	}
	return f.txt[name], nil
}

func (f *fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	if f.mxErr != nil {
		return nil, f.mxErr
	}
	return f.mx[name], nil
}

func TestVerifyTXT(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		expected string
		want     bool
	}{
		{"exact match", []string{"abc123"}, "abc123", true},
		{"among others", []string{"v=spf1 -all", "abc123"}, "abc123", true},
		{"prefix does not count", []string{"abc1234"}, "abc123", false},
		{"absent", []string{"other"}, "abc123", false},
		{"no records", nil, "abc123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Verifier{primary: &fakeResolver{
				txt: map[string][]string{"_amazonses.example.com": tt.values},
			}}
			check := v.VerifyTXT(context.Background(), "_amazonses.example.com", tt.expected)
			if check.Verified != tt.want {
				t.Errorf("Verified = %v, want %v", check.Verified, tt.want)
			}
		})
	}
}

func TestVerifyMXMatchesPriorityAndHost(t *testing.T) {
	v := &Verifier{primary: &fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "inbound-smtp.us-east-1.amazonaws.com.", Pref: 10}},
		},
	}}
	check := v.VerifyMXWithFallback(context.Background(), "example.com", "10 inbound-smtp.us-east-1.amazonaws.com")
	if !check.Verified {
		t.Fatalf("not verified: %+v", check)
	}
}

func TestVerifyMXWrongPriority(t *testing.T) {
	v := &Verifier{primary: &fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "inbound-smtp.us-east-1.amazonaws.com.", Pref: 20}},
		},
	}}
	check := v.VerifyMXWithFallback(context.Background(), "example.com", "10 inbound-smtp.us-east-1.amazonaws.com")
	if check.Verified {
		t.Fatal("priority mismatch must not verify")
	}
}

func TestVerifyMXFallsBackOnNotFound(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", IsNotFound: true}
	fallback := &fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "inbound-smtp.us-east-1.amazonaws.com.", Pref: 10}},
		},
	}
	v := &Verifier{
		primary:   &fakeResolver{mxErr: notFound},
		fallbacks: []lookuper{fallback},
	}
	check := v.VerifyMXWithFallback(context.Background(), "example.com", "10 inbound-smtp.us-east-1.amazonaws.com")
	if !check.Verified {
		t.Fatalf("fallback resolver should have verified: %+v", check)
	}
}

func TestVerifyMXStopsAfterAuthoritativeAnswer(t *testing.T) {
	// Primary answers with a non-matching record; fallbacks must not be
	// consulted since the answer is authoritative.
	fallback := &fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "inbound-smtp.us-east-1.amazonaws.com.", Pref: 10}},
		},
	}
	v := &Verifier{
		primary: &fakeResolver{
			mx: map[string][]*net.MX{"example.com": {{Host: "mail.other.com.", Pref: 10}}},
		},
		fallbacks: []lookuper{fallback},
	}
	check := v.VerifyMXWithFallback(context.Background(), "example.com", "10 inbound-smtp.us-east-1.amazonaws.com")
	if check.Verified {
		t.Fatal("mismatched authoritative answer must not verify via fallback")
	}
}

func TestVerifyRecordsBatch(t *testing.T) {
	v := &Verifier{primary: &fakeResolver{
		txt: map[string][]string{"_amazonses.example.com": {"token"}},
		mx:  map[string][]*net.MX{"example.com": {{Host: "inbound-smtp.us-east-1.amazonaws.com.", Pref: 10}}},
	}}
	checks := v.VerifyRecords(context.Background(), []Record{
		{Type: "TXT", Name: "_amazonses.example.com", Expected: "token"},
		{Type: "MX", Name: "example.com", Expected: "10 inbound-smtp.us-east-1.amazonaws.com"},
		{Type: "CNAME", Name: "x.example.com", Expected: "y"},
	})
	if len(checks) != 3 {
		t.Fatalf("len = %d", len(checks))
	}
	if !checks[0].Verified || !checks[1].Verified {
		t.Errorf("expected first two verified: %+v", checks)
	}
	if checks[2].Verified || checks[2].Error == "" {
		t.Errorf("unsupported type must fail with error: %+v", checks[2])
	}
}

func TestAllVerified(t *testing.T) {
	if AllVerified(nil) {
		t.Error("empty batch must not count as verified")
	}
	if AllVerified([]RecordCheck{{Verified: true}, {Verified: false}}) {
		t.Error("partial batch must not count as verified")
	}
	if !AllVerified([]RecordCheck{{Verified: true}, {Verified: true}}) {
		t.Error("full batch should verify")
	}
}
