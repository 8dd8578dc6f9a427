// Package dnscheck validates that the TXT and MX records a customer was
// asked to publish are actually visible in DNS. Verification against the
// local resolver alone produces false negatives during propagation, so MX
// lookups fall back to a fixed chain of public resolvers before a record
// is reported missing.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Record is a DNS record to verify.
type Record struct {
	Type     string `json:"type"` // TXT or MX
	Name     string `json:"name"`
	Expected string `json:"expected_value"`
}

// RecordCheck is the outcome of verifying one record. Errors are carried
// per-record as strings rather than returned, so a batch never aborts on
// one resolver failure; the caller aggregates.
type RecordCheck struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Expected string `json:"expected_value"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// lookuper is the resolver surface used by the verifier. *net.Resolver
// satisfies it; tests substitute fakes.
type lookuper interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Verifier checks DNS records using the system resolver with a fallback
// chain of public resolvers for MX lookups.
type Verifier struct {
	primary   lookuper
	fallbacks []lookuper
}

// NewVerifier creates a Verifier. fallbackAddrs are "host:port" resolver
// addresses tried in order when the system resolver reports no data.
func NewVerifier(fallbackAddrs []string) *Verifier {
	v := &Verifier{primary: net.DefaultResolver}
	for _, addr := range fallbackAddrs {
		v.fallbacks = append(v.fallbacks, resolverFor(addr))
	}
	return v
}

func resolverFor(addr string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, addr)
		},
	}
}

// VerifyTXT checks that the exact expected string is present in the TXT
// record set for name. A superset or prefix match does not count.
func (v *Verifier) VerifyTXT(ctx context.Context, name, expected string) RecordCheck {
	check := RecordCheck{Type: "TXT", Name: name, Expected: expected}

	values, err := v.primary.LookupTXT(ctx, name)
	if err != nil {
		check.Error = err.Error()
		return check
	}

	for _, val := range values {
		if val == expected {
			check.Verified = true
			return check
		}
	}
	return check
}

// VerifyMXWithFallback checks that an MX record formatted as
// "<priority> <exchange>" exactly matches expected. On a not-found or
// no-data answer it retries against each fallback resolver in order;
// propagation lag, not misconfiguration, is the common failure.
func (v *Verifier) VerifyMXWithFallback(ctx context.Context, name, expected string) RecordCheck {
	check := RecordCheck{Type: "MX", Name: name, Expected: expected}

	resolvers := append([]lookuper{v.primary}, v.fallbacks...)
	var lastErr error
	for _, r := range resolvers {
		records, err := r.LookupMX(ctx, name)
		if err != nil {
			lastErr = err
			if isNoData(err) {
				continue
			}
			break
		}
		lastErr = nil
		for _, mx := range records {
			got := fmt.Sprintf("%d %s", mx.Pref, strings.TrimSuffix(mx.Host, "."))
			if got == expected {
				check.Verified = true
				return check
			}
		}
		// Answer received but no match: later resolvers would return the
		// same authoritative data, stop here.
		return check
	}

	if lastErr != nil {
		check.Error = lastErr.Error()
	}
	return check
}

// VerifyRecords checks every record concurrently. Each record gets an
// independent result; partial failures never abort the batch.
func (v *Verifier) VerifyRecords(ctx context.Context, records []Record) []RecordCheck {
	checks := make([]RecordCheck, len(records))
	var wg sync.WaitGroup

	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec Record) {
			defer wg.Done()
			switch strings.ToUpper(rec.Type) {
			case "TXT":
				checks[i] = v.VerifyTXT(ctx, rec.Name, rec.Expected)
			case "MX":
				checks[i] = v.VerifyMXWithFallback(ctx, rec.Name, rec.Expected)
			default:
				checks[i] = RecordCheck{
					Type:     rec.Type,
					Name:     rec.Name,
					Expected: rec.Expected,
					Error:    fmt.Sprintf("unsupported record type %q", rec.Type),
				}
			}
		}(i, rec)
	}

	wg.Wait()
	return checks
}

// AllVerified reports whether every check in the batch passed.
func AllVerified(checks []RecordCheck) bool {
	for _, c := range checks {
		if !c.Verified {
			return false
		}
	}
	return len(checks) > 0
}

// isNoData reports whether err is a DNS not-found / no-data answer, the
// case worth retrying against an independent resolver.
func isNoData(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTemporary
	}
	return false
}
