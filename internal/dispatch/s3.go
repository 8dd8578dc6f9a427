package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the object-fetch surface used to pull stored raw mail.
// *s3.Client satisfies it.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RawFetcher loads raw messages the receipt rule stored in S3, for events
// whose forwarder could not inline the parsed content.
type RawFetcher struct {
	api    S3API
	bucket string
}

// NewRawFetcher creates a fetcher bound to the receive bucket. api may be
// nil when AWS is unconfigured.
func NewRawFetcher(api S3API, bucket string) *RawFetcher {
	return &RawFetcher{api: api, bucket: bucket}
}

// Fetch retrieves and minimally parses the raw message at s3Location.
// The location is either a bare object key in the receive bucket or an
// "s3://bucket/key" URI.
func (f *RawFetcher) Fetch(ctx context.Context, s3Location string) (*EmailContent, error) {
	if f == nil || f.api == nil {
		return nil, fmt.Errorf("S3 client not configured")
	}
	bucket, key := f.bucket, s3Location
	if strings.HasPrefix(s3Location, "s3://") {
		rest := strings.TrimPrefix(s3Location, "s3://")
		if i := strings.Index(rest, "/"); i > 0 {
			bucket, key = rest[:i], rest[i+1:]
		}
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("unresolvable s3 location %q", s3Location)
	}

	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", bucket, key, err)
	}
	return parseRawMessage(raw), nil
}

// parseRawMessage extracts headers and a body from a raw RFC 2822
// message. It does not walk MIME trees; an unparseable message degrades
// to the whole payload as text so delivery still carries something.
func parseRawMessage(raw []byte) *EmailContent {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return &EmailContent{Text: string(raw)}
	}

	headers := map[string]string{}
	for k := range msg.Header {
		headers[k] = msg.Header.Get(k)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return &EmailContent{Headers: headers}
	}

	content := &EmailContent{Headers: headers}
	if strings.Contains(strings.ToLower(msg.Header.Get("Content-Type")), "text/html") {
		content.HTML = string(body)
	} else {
		content.Text = string(body)
	}
	return content
}
