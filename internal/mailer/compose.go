// Package mailer composes and sends outbound mail through SES raw send:
// forwards of received messages, replies with thread continuity, and
// transactional notifications.
package mailer

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/inbound-gateway/internal/addresses"
)

// RawMessageParams are the inputs for building one raw MIME message.
// Headers entries override generated headers of the same name; a caller
// supplying Message-ID keeps thread continuity through an existing
// conversation.
type RawMessageParams struct {
	From       string
	To         []string
	Cc         []string
	ReplyTo    string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References string
	Headers    map[string]string
}

// BuildRawMessage renders an RFC 2822 message. With both text and HTML
// bodies it emits multipart/alternative, text part first. MUAs prefer
// the last part they can render, so text-first makes HTML win where
// supported.
func BuildRawMessage(p RawMessageParams) (string, error) {
	if p.From == "" {
		return "", errors.New("missing From address")
	}
	if len(p.To) == 0 {
		return "", errors.New("missing To addresses")
	}
	if p.Text == "" && p.HTML == "" {
		return "", errors.New("message needs a text or HTML body")
	}

	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	custom := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		custom[strings.ToLower(k)] = v
	}
	headerOr := func(name, generated string) string {
		if v, ok := custom[strings.ToLower(name)]; ok {
			delete(custom, strings.ToLower(name))
			return v
		}
		return generated
	}

	writeHeader("From", p.From)
	writeHeader("To", strings.Join(p.To, ", "))
	if len(p.Cc) > 0 {
		writeHeader("Cc", strings.Join(p.Cc, ", "))
	}
	if p.ReplyTo != "" {
		writeHeader("Reply-To", p.ReplyTo)
	}
	writeHeader("Subject", encodeSubject(p.Subject))

	messageID := headerOr("Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), senderDomain(p.From)))
	writeHeader("Message-ID", messageID)

	if v := headerOr("In-Reply-To", p.InReplyTo); v != "" {
		writeHeader("In-Reply-To", v)
	}
	if v := headerOr("References", p.References); v != "" {
		writeHeader("References", v)
	}

	// RFC 2822 date grammar, not ISO 8601; MTAs reject the latter.
	writeHeader("Date", headerOr("Date", time.Now().Format(time.RFC1123Z)))
	writeHeader("MIME-Version", "1.0")

	for k, v := range custom {
		if strings.EqualFold(k, "content-type") {
			continue
		}
		writeHeader(canonicalHeader(k), v)
	}

	switch {
	case p.Text != "" && p.HTML != "":
		boundary := "=_" + strings.ReplaceAll(uuid.New().String(), "-", "")
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		b.WriteString("\r\n")
		writePart(&b, boundary, "text/plain; charset=UTF-8", p.Text)
		writePart(&b, boundary, "text/html; charset=UTF-8", p.HTML)
		b.WriteString("--" + boundary + "--\r\n")
	case p.HTML != "":
		writeHeader("Content-Type", "text/html; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(p.HTML)
		b.WriteString("\r\n")
	default:
		writeHeader("Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(p.Text)
		b.WriteString("\r\n")
	}

	return b.String(), nil
}

func writePart(b *strings.Builder, boundary, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
}

func encodeSubject(subject string) string {
	for _, r := range subject {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", subject)
		}
	}
	return subject
}

// senderDomain extracts the domain part of a From value, tolerating the
// "Name <addr>" form.
func senderDomain(from string) string {
	addr := from
	if i := strings.LastIndex(from, "<"); i >= 0 {
		addr = strings.TrimSuffix(from[i+1:], ">")
	}
	if d := addresses.DomainPart(addr); d != "" {
		return d
	}
	return "localhost"
}

func canonicalHeader(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}
