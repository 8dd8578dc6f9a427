package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/payload"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
	"github.com/ignite/inbound-gateway/internal/sesraw"
)

// SendRequest is one outbound send. IdempotencyKey, when set, guarantees
// the same (user, key) pair produces exactly one SES send.
type SendRequest struct {
	UserID         string
	IdempotencyKey string
	Raw            RawMessageParams
}

// Mailer sends raw mail through SES and records every attempt.
type Mailer struct {
	api         sesraw.API
	store       *SentStore
	mailFrom    string // local part used when sending as a customer domain
	notifyEmail string // destination for operational notifications, may be empty
}

// NewMailer creates a mailer. api may be nil when AWS is unconfigured;
// sends then fail with a configuration error.
func NewMailer(api sesraw.API, store *SentStore, mailFrom, notifyEmail string) *Mailer {
	if mailFrom == "" {
		mailFrom = "relay"
	}
	return &Mailer{api: api, store: store, mailFrom: mailFrom, notifyEmail: notifyEmail}
}

// Send composes and sends one message. Repeating a request with the same
// idempotency key returns the original record without a second SES call.
func (m *Mailer) Send(ctx context.Context, req SendRequest) (*SentEmail, error) {
	if m.api == nil {
		return nil, fmt.Errorf("SES client not configured")
	}

	recipient := ""
	if len(req.Raw.To) > 0 {
		recipient = req.Raw.To[0]
	}
	rec, fresh, err := m.store.Claim(ctx, req.UserID, req.IdempotencyKey, recipient, req.Raw.Subject)
	if err != nil {
		return nil, err
	}
	if !fresh {
		logger.Debug("duplicate send suppressed", "user_id", req.UserID, "idempotency_key", req.IdempotencyKey)
		return rec, nil
	}

	raw, err := BuildRawMessage(req.Raw)
	if err != nil {
		_ = m.store.MarkResult(ctx, rec.ID, StatusFailed, err.Error(), "")
		rec.Status = StatusFailed
		rec.ProviderResponse = err.Error()
		return rec, err
	}

	out, err := m.api.SendRawEmail(ctx, &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: []byte(raw)},
		Source:       aws.String(req.Raw.From),
		Destinations: append(append([]string{}, req.Raw.To...), req.Raw.Cc...),
	})
	if err != nil {
		_ = m.store.MarkResult(ctx, rec.ID, StatusFailed, err.Error(), "")
		rec.Status = StatusFailed
		rec.ProviderResponse = err.Error()
		return rec, fmt.Errorf("sending raw email: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	if err := m.store.MarkResult(ctx, rec.ID, StatusSent, "ok", messageID); err != nil {
		logger.Warn("send succeeded but result not recorded", "sent_email_id", rec.ID, "error", err.Error())
	}
	rec.Status = StatusSent
	rec.MessageID = messageID
	return rec, nil
}

// Forward relays a received message to a forwarding address. The sender
// is an address on the verified receiving domain so SES accepts the send;
// Reply-To preserves the original author.
func (m *Mailer) Forward(ctx context.Context, userID string, data payload.BaseEmailData, to string) (*SentEmail, error) {
	domain := addresses.DomainPart(data.Recipient)
	if domain == "" {
		return nil, fmt.Errorf("recipient %q has no domain part", data.Recipient)
	}

	headers := map[string]string{}
	if data.MessageID != "" {
		headers["In-Reply-To"] = ensureAngles(data.MessageID)
		headers["References"] = ensureAngles(data.MessageID)
	}

	return m.Send(ctx, SendRequest{
		UserID:         userID,
		IdempotencyKey: forwardKey(data.MessageID, to),
		Raw: RawMessageParams{
			From:    fmt.Sprintf("%s@%s", m.mailFrom, domain),
			To:      []string{to},
			ReplyTo: data.From.Email,
			Subject: "Fwd: " + data.Subject,
			Text:    data.Text,
			HTML:    data.HTML,
			Headers: headers,
		},
	})
}

// NotifyDomainVerified sends the operational "domain is live" email.
// Skipped silently when no notification address is configured.
func (m *Mailer) NotifyDomainVerified(ctx context.Context, d *domains.Domain) error {
	if m.notifyEmail == "" || m.api == nil {
		logger.Debug("verified notification skipped", "domain", d.DomainName)
		return nil
	}
	_, err := m.Send(ctx, SendRequest{
		UserID:         d.UserID,
		IdempotencyKey: "domain-verified-" + d.ID,
		Raw: RawMessageParams{
			From:    fmt.Sprintf("%s@%s", m.mailFrom, d.DomainName),
			To:      []string{m.notifyEmail},
			Subject: fmt.Sprintf("Domain %s is verified and receiving mail", d.DomainName),
			Text: fmt.Sprintf("Domain %s completed SES verification. Inbound mail routing is now active.",
				d.DomainName),
		},
	})
	return err
}

// forwardKey dedupes forwards per original message and destination, so a
// re-delivered inbound event does not forward twice.
func forwardKey(messageID, to string) string {
	if messageID == "" {
		return ""
	}
	return "fwd-" + messageID + "-" + to
}

func ensureAngles(id string) string {
	if len(id) > 0 && id[0] == '<' {
		return id
	}
	return "<" + id + ">"
}
