// Package sesraw wraps the AWS SES v1 API surface the gateway depends on:
// domain identity verification, receipt rules, and raw sending. The v1 API
// is the only one that exposes receipt rules; everything goes through a
// narrow interface so rule-management logic is testable against a fake.
package sesraw

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/ignite/inbound-gateway/internal/config"
)

// API is the subset of the SES client used by the gateway. *ses.Client
// satisfies it; tests provide a fake.
type API interface {
	VerifyDomainIdentity(ctx context.Context, in *ses.VerifyDomainIdentityInput, optFns ...func(*ses.Options)) (*ses.VerifyDomainIdentityOutput, error)
	GetIdentityVerificationAttributes(ctx context.Context, in *ses.GetIdentityVerificationAttributesInput, optFns ...func(*ses.Options)) (*ses.GetIdentityVerificationAttributesOutput, error)
	DeleteIdentity(ctx context.Context, in *ses.DeleteIdentityInput, optFns ...func(*ses.Options)) (*ses.DeleteIdentityOutput, error)
	CreateReceiptRuleSet(ctx context.Context, in *ses.CreateReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.CreateReceiptRuleSetOutput, error)
	DescribeReceiptRuleSet(ctx context.Context, in *ses.DescribeReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.DescribeReceiptRuleSetOutput, error)
	CreateReceiptRule(ctx context.Context, in *ses.CreateReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.CreateReceiptRuleOutput, error)
	UpdateReceiptRule(ctx context.Context, in *ses.UpdateReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.UpdateReceiptRuleOutput, error)
	DeleteReceiptRule(ctx context.Context, in *ses.DeleteReceiptRuleInput, optFns ...func(*ses.Options)) (*ses.DeleteReceiptRuleOutput, error)
	SetActiveReceiptRuleSet(ctx context.Context, in *ses.SetActiveReceiptRuleSetInput, optFns ...func(*ses.Options)) (*ses.SetActiveReceiptRuleSetOutput, error)
	SendRawEmail(ctx context.Context, in *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// NewClient builds a real SES client from application config. Returns nil
// (not an error) when credentials are absent, so resources can still be
// created in a needs-configuration state.
func NewClient(ctx context.Context, cfg appconfig.AWSConfig) (*ses.Client, error) {
	if !cfg.Configured() {
		log.Printf("[sesraw] AWS credentials not configured, SES operations disabled")
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return ses.NewFromConfig(awsCfg), nil
}

// IsAlreadyExists reports whether err is the SES "already exists" error.
// Creating a rule set that exists is treated as success.
func IsAlreadyExists(err error) bool {
	var ae *types.AlreadyExistsException
	return errors.As(err, &ae)
}

// IsNotFound reports whether err indicates a missing rule, rule set, or
// identity. Deleting something already gone is treated as success.
func IsNotFound(err error) bool {
	var ruleSet *types.RuleSetDoesNotExistException
	if errors.As(err, &ruleSet) {
		return true
	}
	var rule *types.RuleDoesNotExistException
	if errors.As(err, &rule) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException", "IdentityNotFound":
			return true
		}
	}
	return false
}

// IsThrottle reports whether err is an SES throttling or limit error.
// These map to HTTP 429 at the API boundary.
func IsThrottle(err error) bool {
	var limit *types.LimitExceededException
	if errors.As(err, &limit) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	return false
}

// VerificationStatus fetches the SES verification status and token for a
// domain identity. Status is the raw SES value ("Success", "Pending",
// "Failed", ...) or "NotStarted" when the identity is unknown.
func VerificationStatus(ctx context.Context, api API, domain string) (status, token string, err error) {
	out, err := api.GetIdentityVerificationAttributes(ctx, &ses.GetIdentityVerificationAttributesInput{
		Identities: []string{domain},
	})
	if err != nil {
		return "", "", fmt.Errorf("getting identity verification attributes: %w", err)
	}

	attrs, ok := out.VerificationAttributes[domain]
	if !ok {
		return "NotStarted", "", nil
	}
	return string(attrs.VerificationStatus), aws.ToString(attrs.VerificationToken), nil
}
