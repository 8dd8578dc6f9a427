package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/config"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/mailer"
	"github.com/ignite/inbound-gateway/internal/payload"
	"github.com/ignite/inbound-gateway/internal/pkg/httpretry"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
)

// BlockChecker gates delivery. *blocking.Gate satisfies it.
type BlockChecker interface {
	IsBlocked(ctx context.Context, address string) (bool, error)
}

// AddressResolver resolves exact address matches. *addresses.Store
// satisfies it.
type AddressResolver interface {
	GetByAddress(ctx context.Context, address string) (*addresses.EmailAddress, error)
}

// DomainResolver resolves catch-all routing. *domains.Store satisfies it.
type DomainResolver interface {
	GetByName(ctx context.Context, name string) (*domains.Domain, error)
}

// EndpointResolver loads delivery endpoints. *endpoints.Store satisfies it.
type EndpointResolver interface {
	Get(ctx context.Context, userID, id string) (*endpoints.Endpoint, error)
}

// Forwarder relays mail to forwarding addresses. *mailer.Mailer satisfies
// it.
type Forwarder interface {
	Forward(ctx context.Context, userID string, data payload.BaseEmailData, to string) (*mailer.SentEmail, error)
}

// Recorder persists delivery outcomes. *RecordStore satisfies it.
type Recorder interface {
	Create(ctx context.Context, r *DeliveryRecord) error
}

// Dispatcher routes received-email events to endpoints.
type Dispatcher struct {
	gate      BlockChecker
	addrs     AddressResolver
	domains   DomainResolver
	endpoints EndpointResolver
	forwarder Forwarder
	records   Recorder
	fetcher   *RawFetcher
	client    httpretry.HTTPDoer
	cfg       config.DeliveryConfig
}

// NewDispatcher assembles a dispatcher. client may be nil; a default
// HTTP client is then used per delivery with the endpoint's timeout.
func NewDispatcher(gate BlockChecker, addrs AddressResolver, domainStore DomainResolver,
	endpointStore EndpointResolver, forwarder Forwarder, records Recorder,
	fetcher *RawFetcher, client httpretry.HTTPDoer, cfg config.DeliveryConfig) *Dispatcher {
	if cfg.DefaultTimeoutSeconds == 0 {
		cfg.DefaultTimeoutSeconds = 10
	}
	if cfg.DefaultRetryAttempts == 0 {
		cfg.DefaultRetryAttempts = 3
	}
	if cfg.MaxTimeoutSeconds == 0 {
		cfg.MaxTimeoutSeconds = 30
	}
	return &Dispatcher{
		gate: gate, addrs: addrs, domains: domainStore, endpoints: endpointStore,
		forwarder: forwarder, records: records, fetcher: fetcher, client: client, cfg: cfg,
	}
}

// HandleEvent processes one inbound event, fanning each recipient out to
// its resolved endpoint. Failures are per-recipient; the event as a whole
// never errors, matching the always-200 ingestion contract.
func (d *Dispatcher) HandleEvent(ctx context.Context, event InboundEvent) []DeliveryRecord {
	var results []DeliveryRecord
	for _, rec := range event.ProcessedRecords {
		for _, recipient := range rec.SES.Receipt.Recipients {
			results = append(results, d.handleRecipient(ctx, rec, recipient)...)
		}
	}
	return results
}

func (d *Dispatcher) handleRecipient(ctx context.Context, rec ProcessedRecord, recipient string) []DeliveryRecord {
	// Blocklist first: a blocked address must be suppressed before any
	// delivery work, not merely before the final POST.
	blocked, err := d.gate.IsBlocked(ctx, recipient)
	if err != nil {
		logger.Error("blocklist check failed", "recipient", recipient, "error", err.Error())
		return d.saveAll(ctx, DeliveryRecord{
			Recipient: recipient, MessageID: rec.SES.Mail.MessageID,
			Status: OutcomeFailed, Error: "blocklist check failed: " + err.Error(),
		})
	}
	if blocked {
		logger.Info("delivery suppressed for blocked address", "recipient", recipient)
		return d.saveAll(ctx, DeliveryRecord{
			Recipient: recipient, MessageID: rec.SES.Mail.MessageID,
			Status: OutcomeSuppressed, Error: "address is blocked",
		})
	}

	userID, endpointID, reason, err := d.resolve(ctx, recipient)
	if err != nil {
		// Lookup failures are infrastructure errors, not routing decisions;
		// record them as failed so history separates "couldn't" from
		// "chose not to".
		logger.Error("recipient resolution failed", "recipient", recipient, "error", err.Error())
		return d.saveAll(ctx, DeliveryRecord{
			Recipient: recipient, MessageID: rec.SES.Mail.MessageID,
			Status: OutcomeFailed, Error: err.Error(),
		})
	}
	if endpointID == "" {
		return d.saveAll(ctx, DeliveryRecord{
			Recipient: recipient, MessageID: rec.SES.Mail.MessageID,
			Status: OutcomeSuppressed, Error: reason,
		})
	}

	ep, err := d.endpoints.Get(ctx, userID, endpointID)
	if err != nil {
		return d.saveAll(ctx, DeliveryRecord{
			UserID: userID, EndpointID: endpointID, Recipient: recipient,
			MessageID: rec.SES.Mail.MessageID, Status: OutcomeFailed,
			Error: "endpoint lookup failed: " + err.Error(),
		})
	}
	if !ep.IsActive {
		return d.saveAll(ctx, DeliveryRecord{
			UserID: userID, EndpointID: endpointID, Recipient: recipient,
			MessageID: rec.SES.Mail.MessageID, Status: OutcomeSuppressed,
			Error: "endpoint is inactive",
		})
	}

	data := rec.BaseData(recipient)
	if rec.EmailContent == nil && rec.S3Location != "" && d.fetcher != nil {
		if content, err := d.fetcher.Fetch(ctx, rec.S3Location); err == nil {
			data.Text, data.HTML, data.Headers = content.Text, content.HTML, content.Headers
		} else {
			logger.Warn("raw mail fetch failed, delivering metadata only",
				"s3_location", rec.S3Location, "error", err.Error())
		}
	}

	return d.DeliverToEndpoint(ctx, ep, data)
}

// resolve maps a recipient to (userID, endpointID). An empty endpointID
// with a nil error means the mail is deliberately unrouted; reason says
// why. A non-nil error means the lookup itself failed.
func (d *Dispatcher) resolve(ctx context.Context, recipient string) (userID, endpointID, reason string, err error) {
	addr, lookupErr := d.addrs.GetByAddress(ctx, recipient)
	switch {
	case lookupErr == nil:
		if !addr.IsActive {
			return "", "", "address is inactive", nil
		}
		if addr.EndpointID == "" {
			return "", "", "address has no endpoint assigned", nil
		}
		return addr.UserID, addr.EndpointID, "", nil
	case !errors.Is(lookupErr, addresses.ErrNotFound):
		return "", "", "", fmt.Errorf("address lookup failed: %w", lookupErr)
	}

	domainPart := addresses.DomainPart(recipient)
	dom, lookupErr := d.domains.GetByName(ctx, domainPart)
	if lookupErr != nil {
		if errors.Is(lookupErr, domains.ErrNotFound) {
			return "", "", "no registered domain for recipient", nil
		}
		return "", "", "", fmt.Errorf("domain lookup failed: %w", lookupErr)
	}
	if !dom.IsCatchAllEnabled || dom.CatchAllEndpointID == "" {
		return "", "", "no address match and catch-all disabled", nil
	}
	return dom.UserID, dom.CatchAllEndpointID, "", nil
}

// DeliverToEndpoint executes one delivery. Group endpoints produce one
// record per member; everything else produces one record.
func (d *Dispatcher) DeliverToEndpoint(ctx context.Context, ep *endpoints.Endpoint, data payload.BaseEmailData) []DeliveryRecord {
	switch ep.Type {
	case endpoints.TypeWebhook:
		return d.saveAll(ctx, d.deliverWebhook(ctx, ep, data))
	case endpoints.TypeEmail:
		cfg, err := ep.Forward()
		if err != nil {
			return d.saveAll(ctx, failedRecord(ep, data, err))
		}
		return d.saveAll(ctx, d.deliverForward(ctx, ep, data, cfg.Email))
	case endpoints.TypeGroup:
		cfg, err := ep.Group()
		if err != nil {
			return d.saveAll(ctx, failedRecord(ep, data, err))
		}
		return d.deliverGroup(ctx, ep, data, cfg.Emails)
	default:
		return d.saveAll(ctx, failedRecord(ep, data, fmt.Errorf("unknown endpoint type %q", ep.Type)))
	}
}

// TestDelivery sends a synthetic payload to an endpoint so configuration
// can be validated before real mail arrives.
func (d *Dispatcher) TestDelivery(ctx context.Context, ep *endpoints.Endpoint, recipient string) []DeliveryRecord {
	return d.DeliverToEndpoint(ctx, ep, payload.TestData(recipient))
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, ep *endpoints.Endpoint, data payload.BaseEmailData) DeliveryRecord {
	record := DeliveryRecord{
		UserID: ep.UserID, EndpointID: ep.ID, Recipient: data.Recipient,
		MessageID: data.MessageID, Format: ep.WebhookFormat,
	}

	cfg, err := ep.Webhook()
	if err != nil {
		record.Status, record.Error = OutcomeFailed, err.Error()
		return record
	}

	body, err := json.Marshal(payload.ForFormat(ep.WebhookFormat, data))
	if err != nil {
		record.Status, record.Error = OutcomeFailed, "encoding payload: "+err.Error()
		return record
	}

	perAttempt := cfg.Timeout(d.cfg.DefaultTimeout(), time.Duration(d.cfg.MaxTimeoutSeconds)*time.Second)
	retries := cfg.RetryAttempts
	if retries == 0 {
		retries = d.cfg.DefaultRetryAttempts
	}

	// Bound the whole retry run: the upstream forwarder expects a prompt
	// acknowledgement, so attempts plus backoff never exceed this deadline.
	total := time.Duration(retries+1)*perAttempt + 5*time.Second
	dctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		record.Status, record.Error = OutcomeFailed, "building request: "+err.Error()
		return record
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "inbound-gateway/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := d.client
	if client == nil {
		client = &http.Client{Timeout: perAttempt}
	}
	retrier := httpretry.NewRetryClient(client, retries)
	retrier.SetBackoff(200*time.Millisecond, 2*time.Second)

	start := time.Now()
	resp, err := retrier.Do(req)
	record.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Status, record.Error = OutcomeFailed, err.Error()
		return record
	}
	defer resp.Body.Close()

	record.ResponseCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		record.Status = OutcomeSuccess
	} else {
		record.Status = OutcomeFailed
		record.Error = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	}
	logger.Info("webhook delivery", "endpoint_id", ep.ID, "status", record.Status,
		"code", record.ResponseCode, "ms", record.ResponseTimeMs)
	return record
}

func (d *Dispatcher) deliverForward(ctx context.Context, ep *endpoints.Endpoint, data payload.BaseEmailData, to string) DeliveryRecord {
	record := DeliveryRecord{
		UserID: ep.UserID, EndpointID: ep.ID, Recipient: data.Recipient,
		MessageID: data.MessageID, Format: "forward",
	}
	start := time.Now()
	sent, err := d.forwarder.Forward(ctx, ep.UserID, data, to)
	record.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Status, record.Error = OutcomeFailed, err.Error()
		return record
	}
	if sent.Status == mailer.StatusSent {
		record.Status = OutcomeSuccess
	} else {
		record.Status, record.Error = OutcomeFailed, sent.ProviderResponse
	}
	return record
}

// deliverGroup fans out concurrently; each member's outcome is
// independent and a member failure never rolls back the others.
func (d *Dispatcher) deliverGroup(ctx context.Context, ep *endpoints.Endpoint, data payload.BaseEmailData, members []string) []DeliveryRecord {
	results := make([]DeliveryRecord, len(members))
	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			results[i] = d.deliverForward(ctx, ep, data, member)
		}(i, member)
	}
	wg.Wait()
	return d.saveAll(ctx, results...)
}

func (d *Dispatcher) saveAll(ctx context.Context, recs ...DeliveryRecord) []DeliveryRecord {
	for i := range recs {
		if d.records == nil {
			continue
		}
		if err := d.records.Create(ctx, &recs[i]); err != nil {
			logger.Warn("delivery record not persisted", "recipient", recs[i].Recipient, "error", err.Error())
		}
	}
	return recs
}

func failedRecord(ep *endpoints.Endpoint, data payload.BaseEmailData, err error) DeliveryRecord {
	return DeliveryRecord{
		UserID: ep.UserID, EndpointID: ep.ID, Recipient: data.Recipient,
		MessageID: data.MessageID, Status: OutcomeFailed, Error: err.Error(),
	}
}
