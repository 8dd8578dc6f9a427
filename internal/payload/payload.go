// Package payload shapes a canonical received email into the wire format
// an endpoint expects. The inbound format is the stable native shape
// consumers integrate against; Discord and Slack are lossy chat renderings.
package payload

import (
	"fmt"
	"strings"
	"time"
)

// Address is a parsed mailbox.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes an attachment by metadata only. Binary content is
// never forwarded to chat platforms; native consumers fetch it from S3.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// BaseEmailData is the canonical received-email representation every
// format renders from.
type BaseEmailData struct {
	MessageID   string            `json:"message_id"`
	Recipient   string            `json:"recipient"`
	From        Address           `json:"from"`
	To          []Address         `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments"`
	S3Location  string            `json:"s3_location,omitempty"`
	Date        time.Time         `json:"date"`
}

// Truncation limits imposed by the chat platforms.
const (
	discordBodyLimit = 2000
	slackBodyLimit   = 1000
)

// InboundPayload is the native wire format. Field layout is a published
// contract; shape changes must be versioned, never made in place.
type InboundPayload struct {
	Event     string        `json:"event"`
	Timestamp string        `json:"timestamp"`
	Email     BaseEmailData `json:"email"`
}

// DiscordPayload matches Discord's webhook execute body.
type DiscordPayload struct {
	Content string         `json:"content"`
	Embeds  []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// SlackPayload matches Slack's incoming-webhook attachment body.
type SlackPayload struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments"`
}

type SlackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []SlackField `json:"fields"`
	Ts       int64        `json:"ts"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// ForFormat renders data in the given webhook format. Unknown formats
// fall back to inbound, the only lossless shape.
func ForFormat(format string, data BaseEmailData) interface{} {
	switch format {
	case "discord":
		return Discord(data)
	case "slack":
		return Slack(data)
	default:
		return Inbound(data)
	}
}

// Inbound renders the native payload.
func Inbound(data BaseEmailData) InboundPayload {
	if data.Attachments == nil {
		data.Attachments = []Attachment{}
	}
	return InboundPayload{
		Event:     "email.received",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Email:     data,
	}
}

// Discord renders an embed. Body text is truncated to Discord's 2000-char
// description limit; attachments are listed by filename only.
func Discord(data BaseEmailData) DiscordPayload {
	fields := []DiscordField{
		{Name: "From", Value: formatAddress(data.From), Inline: true},
		{Name: "To", Value: data.Recipient, Inline: true},
	}
	if len(data.Attachments) > 0 {
		fields = append(fields, DiscordField{
			Name:  fmt.Sprintf("Attachments (%d)", len(data.Attachments)),
			Value: attachmentNames(data.Attachments),
		})
	}
	return DiscordPayload{
		Embeds: []DiscordEmbed{{
			Title:       orUntitled(data.Subject),
			Description: truncate(bodyText(data), discordBodyLimit),
			Color:       0x5865F2,
			Fields:      fields,
			Timestamp:   data.Date.UTC().Format(time.RFC3339),
		}},
	}
}

// Slack renders an attachment. Body text is truncated to 1000 chars.
func Slack(data BaseEmailData) SlackPayload {
	fields := []SlackField{
		{Title: "From", Value: formatAddress(data.From), Short: true},
		{Title: "To", Value: data.Recipient, Short: true},
	}
	if len(data.Attachments) > 0 {
		fields = append(fields, SlackField{
			Title: "Attachments",
			Value: attachmentNames(data.Attachments),
		})
	}
	return SlackPayload{
		Text: fmt.Sprintf("New email: %s", orUntitled(data.Subject)),
		Attachments: []SlackAttachment{{
			Fallback: fmt.Sprintf("Email from %s: %s", formatAddress(data.From), orUntitled(data.Subject)),
			Color:    "#36a64f",
			Title:    orUntitled(data.Subject),
			Text:     truncate(bodyText(data), slackBodyLimit),
			Fields:   fields,
			Ts:       data.Date.Unix(),
		}},
	}
}

// TestData returns self-consistent synthetic email data so endpoint
// configuration can be exercised before any real mail exists.
func TestData(recipient string) BaseEmailData {
	if recipient == "" {
		recipient = "test@example.com"
	}
	return BaseEmailData{
		MessageID: "test-message-id@example.com",
		Recipient: recipient,
		From:      Address{Name: "Test Sender", Email: "sender@example.com"},
		To:        []Address{{Email: recipient}},
		Subject:   "Test email delivery",
		Text:      "This is a test message verifying your endpoint configuration.",
		HTML:      "<p>This is a test message verifying your endpoint configuration.</p>",
		Headers:   map[string]string{"X-Test": "true"},
		Attachments: []Attachment{
			{Filename: "sample.pdf", ContentType: "application/pdf", Size: 1024},
		},
		Date: time.Now().UTC(),
	}
}

// TestPayload renders a synthetic payload in the given format.
func TestPayload(format, recipient string) interface{} {
	return ForFormat(format, TestData(recipient))
}

func bodyText(data BaseEmailData) string {
	if data.Text != "" {
		return data.Text
	}
	return stripTags(data.HTML)
}

func formatAddress(a Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

func attachmentNames(atts []Attachment) string {
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.Filename
	}
	return strings.Join(names, ", ")
}

func orUntitled(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "(no subject)"
	}
	return subject
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Rune-safe cut with an ellipsis marker inside the limit.
	runes := []rune(s)
	if len(runes) > limit-3 {
		runes = runes[:limit-3]
	}
	for len(string(runes)) > limit-3 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// stripTags removes HTML tags for chat previews. Not a sanitizer; the
// output is plain display text for Discord/Slack only.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
