// Package dispatch fans a received-email event out to its resolved
// endpoints: webhook POSTs, mail forwards, and group fan-out. Resolution
// consults the blocklist first, then exact address match, then the
// domain's catch-all endpoint.
package dispatch

import (
	"net/mail"
	"strings"
	"time"

	"github.com/ignite/inbound-gateway/internal/payload"
)

// EventType is the only inbound event type the Lambda forwarder emits.
const EventType = "ses_event_with_content"

// InboundEvent is the payload the external Lambda forwarder posts after
// SES stores a message.
type InboundEvent struct {
	Type             string            `json:"type"`
	ProcessedRecords []ProcessedRecord `json:"processedRecords"`
}

// ProcessedRecord is one received message. EmailContent may be nil when
// the forwarder could not inline the body; the raw message is then
// fetched from S3Location.
type ProcessedRecord struct {
	SES          SESRecord     `json:"ses"`
	EmailContent *EmailContent `json:"emailContent"`
	S3Location   string        `json:"s3Location"`
}

// SESRecord mirrors the receipt/mail halves of an SES notification.
type SESRecord struct {
	Receipt Receipt `json:"receipt"`
	Mail    Mail    `json:"mail"`
}

type Receipt struct {
	Recipients []string `json:"recipients"`
}

type Mail struct {
	MessageID     string        `json:"messageId"`
	Source        string        `json:"source"`
	Timestamp     time.Time     `json:"timestamp"`
	Destination   []string      `json:"destination"`
	CommonHeaders CommonHeaders `json:"commonHeaders"`
}

type CommonHeaders struct {
	From      []string `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	MessageID string   `json:"messageId"`
}

// EmailContent is the parsed body the forwarder extracted.
type EmailContent struct {
	Text        string               `json:"text,omitempty"`
	HTML        string               `json:"html,omitempty"`
	Headers     map[string]string    `json:"headers,omitempty"`
	Attachments []payload.Attachment `json:"attachments,omitempty"`
}

// BaseData converts a record into the canonical form for one matched
// recipient.
func (r ProcessedRecord) BaseData(recipient string) payload.BaseEmailData {
	data := payload.BaseEmailData{
		MessageID:   r.SES.Mail.MessageID,
		Recipient:   strings.ToLower(recipient),
		From:        parseAddress(firstOr(r.SES.Mail.CommonHeaders.From, r.SES.Mail.Source)),
		Subject:     r.SES.Mail.CommonHeaders.Subject,
		S3Location:  r.S3Location,
		Date:        r.SES.Mail.Timestamp,
		Attachments: []payload.Attachment{},
	}
	if data.Date.IsZero() {
		data.Date = time.Now().UTC()
	}
	for _, to := range r.SES.Mail.CommonHeaders.To {
		data.To = append(data.To, parseAddress(to))
	}
	if len(data.To) == 0 {
		for _, to := range r.SES.Mail.Destination {
			data.To = append(data.To, parseAddress(to))
		}
	}
	if r.EmailContent != nil {
		data.Text = r.EmailContent.Text
		data.HTML = r.EmailContent.HTML
		data.Headers = r.EmailContent.Headers
		if len(r.EmailContent.Attachments) > 0 {
			data.Attachments = r.EmailContent.Attachments
		}
	}
	return data
}

func parseAddress(s string) payload.Address {
	if a, err := mail.ParseAddress(s); err == nil {
		return payload.Address{Name: a.Name, Email: strings.ToLower(a.Address)}
	}
	return payload.Address{Email: strings.ToLower(strings.TrimSpace(s))}
}

func firstOr(list []string, fallback string) string {
	if len(list) > 0 {
		return list[0]
	}
	return fallback
}
