// Package rules manages AWS SES receipt rules per domain. For any domain
// at most one of the individual-address rule or the catch-all rule may be
// active; a misconfigured rule set causes silent mail loss, so every
// mutation is serialized per domain and sequenced delete-before-create.
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/inbound-gateway/internal/pkg/distlock"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
	"github.com/ignite/inbound-gateway/internal/sesraw"
)

// Status tags the outcome of a rule operation.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the outcome of a rule operation. AWS failures are reported
// here rather than as Go errors so callers inspect Status explicitly.
// Recipients is the list SES actually holds after the operation; callers
// must read it back rather than assume their requested list was applied.
type Result struct {
	Status     Status   `json:"status"`
	RuleName   string   `json:"rule_name,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Error      string   `json:"error,omitempty"`
	Retryable  bool     `json:"retryable,omitempty"`
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error(), Retryable: sesraw.IsThrottle(err)}
}

// Manager mutates the shared SES receipt rule set.
type Manager struct {
	api     sesraw.API
	db      *sql.DB
	redis   *redis.Client
	ruleSet string
	lockTTL time.Duration
}

// NewManager creates a rule manager operating on the named rule set.
// redisClient may be nil; locking then falls back to PG advisory locks.
func NewManager(api sesraw.API, db *sql.DB, redisClient *redis.Client, ruleSetName string) *Manager {
	return &Manager{
		api:     api,
		db:      db,
		redis:   redisClient,
		ruleSet: ruleSetName,
		lockTTL: 30 * time.Second,
	}
}

// IndividualRuleName returns the SES rule name for a domain's
// individual-address rule.
func IndividualRuleName(domain string) string {
	return domain + "-rule"
}

// CatchAllRuleName returns the SES rule name for a domain's catch-all rule.
func CatchAllRuleName(domain string) string {
	return domain + "-catchall-rule"
}

// ConfigureEmailReceiving creates or updates the individual-address rule
// for a domain. Recipients are merged (set union) with any existing rule
// so incremental address additions never regress earlier ones.
func (m *Manager) ConfigureEmailReceiving(ctx context.Context, domain string, addresses []string, lambdaArn, s3Bucket string) Result {
	if s3Bucket == "" {
		return Result{Status: StatusFailed, Error: "S3 bucket not configured"}
	}
	if lambdaArn == "" {
		return Result{Status: StatusFailed, Error: "Lambda forwarder ARN not configured"}
	}
	if m.api == nil {
		return Result{Status: StatusFailed, Error: "SES client not configured"}
	}

	lock := distlock.NewLock(m.redis, m.db, "ses-rules:"+domain, m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return failed(fmt.Errorf("acquiring rule lock: %w", err))
	}
	if !acquired {
		return Result{Status: StatusFailed, Error: "another rule operation is in progress for this domain", Retryable: true}
	}
	defer lock.Release(ctx)

	if err := m.ensureRuleSet(ctx); err != nil {
		return failed(err)
	}

	ruleName := IndividualRuleName(domain)
	existing, err := m.findRule(ctx, ruleName)
	if err != nil {
		return failed(err)
	}

	recipients := addresses
	if existing != nil {
		recipients = mergeRecipients(existing.Recipients, addresses)
	} else {
		recipients = mergeRecipients(nil, addresses)
	}
	if len(recipients) == 0 {
		// Defensive fallback: a rule with zero recipients is useless.
		recipients = []string{domain}
	}

	rule := m.buildRule(ruleName, recipients, s3Bucket, "emails/"+domain+"/", lambdaArn)

	status := StatusCreated
	if existing != nil {
		status = StatusUpdated
		_, err = m.api.UpdateReceiptRule(ctx, &ses.UpdateReceiptRuleInput{
			RuleSetName: aws.String(m.ruleSet),
			Rule:        rule,
		})
	} else {
		_, err = m.api.CreateReceiptRule(ctx, &ses.CreateReceiptRuleInput{
			RuleSetName: aws.String(m.ruleSet),
			Rule:        rule,
		})
	}
	if err != nil {
		return failed(fmt.Errorf("writing receipt rule %s: %w", ruleName, err))
	}

	// Rule creation and rule-set activation are separate SES calls.
	// Activation is idempotent, so a failure here leaves a created-but-
	// inactive rule that the next re-drive fixes.
	if err := m.activate(ctx); err != nil {
		logger.Warn("rule set activation failed after rule write", "domain", domain, "error", err.Error())
		return Result{Status: StatusFailed, RuleName: ruleName, Recipients: recipients,
			Error: fmt.Sprintf("rule written but rule set activation failed: %v", err), Retryable: true}
	}

	logger.Info("configured individual receipt rule", "domain", domain, "recipients", fmt.Sprintf("%d", len(recipients)), "status", string(status))
	return Result{Status: status, RuleName: ruleName, Recipients: recipients}
}

// ConfigureCatchAll replaces a domain's individual rule with a catch-all
// rule. The individual rule MUST be deleted before the catch-all rule is
// created: SES evaluates the individual rule first, which would shadow
// catch-all for exactly those addresses and silently break a subset of
// mail.
func (m *Manager) ConfigureCatchAll(ctx context.Context, domain, lambdaArn, s3Bucket string) Result {
	if s3Bucket == "" {
		return Result{Status: StatusFailed, Error: "S3 bucket not configured"}
	}
	if lambdaArn == "" {
		return Result{Status: StatusFailed, Error: "Lambda forwarder ARN not configured"}
	}
	if m.api == nil {
		return Result{Status: StatusFailed, Error: "SES client not configured"}
	}

	lock := distlock.NewLock(m.redis, m.db, "ses-rules:"+domain, m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return failed(fmt.Errorf("acquiring rule lock: %w", err))
	}
	if !acquired {
		return Result{Status: StatusFailed, Error: "another rule operation is in progress for this domain", Retryable: true}
	}
	defer lock.Release(ctx)

	if err := m.ensureRuleSet(ctx); err != nil {
		return failed(err)
	}

	// Step 1: delete the individual rule and wait for completion before
	// creating the catch-all rule.
	if err := m.deleteRule(ctx, IndividualRuleName(domain)); err != nil {
		return failed(fmt.Errorf("deleting individual rule before catch-all: %w", err))
	}

	ruleName := CatchAllRuleName(domain)
	existing, err := m.findRule(ctx, ruleName)
	if err != nil {
		return failed(err)
	}

	// SES catch-all semantics: the recipient is the bare domain, not
	// "*@domain". The S3 prefix is distinct so catch-all-captured mail is
	// distinguishable from individually-routed mail.
	recipients := []string{domain}
	rule := m.buildRule(ruleName, recipients, s3Bucket, "emails/"+domain+"/catchall/", lambdaArn)

	status := StatusCreated
	if existing != nil {
		status = StatusUpdated
		_, err = m.api.UpdateReceiptRule(ctx, &ses.UpdateReceiptRuleInput{
			RuleSetName: aws.String(m.ruleSet),
			Rule:        rule,
		})
	} else {
		_, err = m.api.CreateReceiptRule(ctx, &ses.CreateReceiptRuleInput{
			RuleSetName: aws.String(m.ruleSet),
			Rule:        rule,
		})
	}
	if err != nil {
		return failed(fmt.Errorf("writing catch-all rule %s: %w", ruleName, err))
	}

	if err := m.activate(ctx); err != nil {
		logger.Warn("rule set activation failed after catch-all write", "domain", domain, "error", err.Error())
		return Result{Status: StatusFailed, RuleName: ruleName, Recipients: recipients,
			Error: fmt.Sprintf("rule written but rule set activation failed: %v", err), Retryable: true}
	}

	logger.Info("configured catch-all receipt rule", "domain", domain, "status", string(status))
	return Result{Status: status, RuleName: ruleName, Recipients: recipients}
}

// RestoreIndividualRules is the inverse of ConfigureCatchAll: it removes
// the catch-all rule and recreates the individual rule from the supplied
// address list. With no addresses it deletes the catch-all and stops;
// an empty-recipients rule either is invalid or matches nothing usefully.
func (m *Manager) RestoreIndividualRules(ctx context.Context, domain string, addresses []string, lambdaArn, s3Bucket string) Result {
	if m.api == nil {
		return Result{Status: StatusFailed, Error: "SES client not configured"}
	}

	lock := distlock.NewLock(m.redis, m.db, "ses-rules:"+domain, m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return failed(fmt.Errorf("acquiring rule lock: %w", err))
	}
	if !acquired {
		return Result{Status: StatusFailed, Error: "another rule operation is in progress for this domain", Retryable: true}
	}
	defer lock.Release(ctx)

	if err := m.ensureRuleSet(ctx); err != nil {
		return failed(err)
	}

	if err := m.deleteRule(ctx, CatchAllRuleName(domain)); err != nil {
		return failed(fmt.Errorf("deleting catch-all rule: %w", err))
	}

	if len(addresses) == 0 {
		logger.Info("catch-all removed, no addresses to restore", "domain", domain)
		return Result{Status: StatusSkipped, Recipients: []string{}}
	}

	if s3Bucket == "" {
		return Result{Status: StatusFailed, Error: "S3 bucket not configured"}
	}
	if lambdaArn == "" {
		return Result{Status: StatusFailed, Error: "Lambda forwarder ARN not configured"}
	}

	ruleName := IndividualRuleName(domain)
	recipients := mergeRecipients(nil, addresses)
	rule := m.buildRule(ruleName, recipients, s3Bucket, "emails/"+domain+"/", lambdaArn)

	_, err = m.api.CreateReceiptRule(ctx, &ses.CreateReceiptRuleInput{
		RuleSetName: aws.String(m.ruleSet),
		Rule:        rule,
	})
	if err != nil && sesraw.IsAlreadyExists(err) {
		_, err = m.api.UpdateReceiptRule(ctx, &ses.UpdateReceiptRuleInput{
			RuleSetName: aws.String(m.ruleSet),
			Rule:        rule,
		})
	}
	if err != nil {
		return failed(fmt.Errorf("restoring individual rule %s: %w", ruleName, err))
	}

	if err := m.activate(ctx); err != nil {
		return Result{Status: StatusFailed, RuleName: ruleName, Recipients: recipients,
			Error: fmt.Sprintf("rule written but rule set activation failed: %v", err), Retryable: true}
	}

	logger.Info("restored individual receipt rule", "domain", domain, "recipients", fmt.Sprintf("%d", len(recipients)))
	return Result{Status: StatusCreated, RuleName: ruleName, Recipients: recipients}
}

// DeleteDomainRules removes both rules for a domain (domain teardown).
// Rules already gone are not an error.
func (m *Manager) DeleteDomainRules(ctx context.Context, domain string) Result {
	if m.api == nil {
		return Result{Status: StatusFailed, Error: "SES client not configured"}
	}

	lock := distlock.NewLock(m.redis, m.db, "ses-rules:"+domain, m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return failed(fmt.Errorf("acquiring rule lock: %w", err))
	}
	if !acquired {
		return Result{Status: StatusFailed, Error: "another rule operation is in progress for this domain", Retryable: true}
	}
	defer lock.Release(ctx)

	if err := m.deleteRule(ctx, IndividualRuleName(domain)); err != nil {
		return failed(err)
	}
	if err := m.deleteRule(ctx, CatchAllRuleName(domain)); err != nil {
		return failed(err)
	}

	logger.Info("deleted receipt rules", "domain", domain)
	return Result{Status: StatusUpdated, Recipients: []string{}}
}

// ActiveRecipients returns the recipient list SES currently holds for the
// domain's individual rule, or nil if the rule does not exist.
func (m *Manager) ActiveRecipients(ctx context.Context, domain string) ([]string, error) {
	rule, err := m.findRule(ctx, IndividualRuleName(domain))
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	return rule.Recipients, nil
}

// ensureRuleSet creates the shared rule set if absent. "Already exists"
// is success.
func (m *Manager) ensureRuleSet(ctx context.Context) error {
	_, err := m.api.CreateReceiptRuleSet(ctx, &ses.CreateReceiptRuleSetInput{
		RuleSetName: aws.String(m.ruleSet),
	})
	if err != nil && !sesraw.IsAlreadyExists(err) {
		return fmt.Errorf("creating rule set %s: %w", m.ruleSet, err)
	}
	return nil
}

// activate marks the shared rule set active. SES requires this as an
// explicit call independent of rule creation; it is idempotent.
func (m *Manager) activate(ctx context.Context) error {
	_, err := m.api.SetActiveReceiptRuleSet(ctx, &ses.SetActiveReceiptRuleSetInput{
		RuleSetName: aws.String(m.ruleSet),
	})
	if err != nil {
		return fmt.Errorf("activating rule set %s: %w", m.ruleSet, err)
	}
	return nil
}

// findRule looks up a rule by name in the shared rule set. Returns nil
// when the rule or the rule set does not exist.
func (m *Manager) findRule(ctx context.Context, name string) (*types.ReceiptRule, error) {
	out, err := m.api.DescribeReceiptRuleSet(ctx, &ses.DescribeReceiptRuleSetInput{
		RuleSetName: aws.String(m.ruleSet),
	})
	if err != nil {
		if sesraw.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describing rule set %s: %w", m.ruleSet, err)
	}

	for i := range out.Rules {
		if aws.ToString(out.Rules[i].Name) == name {
			return &out.Rules[i], nil
		}
	}
	return nil, nil
}

// deleteRule removes a rule; missing rules are success.
func (m *Manager) deleteRule(ctx context.Context, name string) error {
	_, err := m.api.DeleteReceiptRule(ctx, &ses.DeleteReceiptRuleInput{
		RuleSetName: aws.String(m.ruleSet),
		RuleName:    aws.String(name),
	})
	if err != nil && !sesraw.IsNotFound(err) {
		return fmt.Errorf("deleting rule %s: %w", name, err)
	}
	return nil
}

// buildRule assembles the rule body. Action order matters: the S3 write
// must persist the raw message before the async Lambda fires, because the
// forwarder fetches the content from S3.
func (m *Manager) buildRule(name string, recipients []string, bucket, prefix, lambdaArn string) *types.ReceiptRule {
	return &types.ReceiptRule{
		Name:        aws.String(name),
		Enabled:     true,
		Recipients:  recipients,
		ScanEnabled: true,
		TlsPolicy:   types.TlsPolicyOptional,
		Actions: []types.ReceiptAction{
			{
				S3Action: &types.S3Action{
					BucketName:      aws.String(bucket),
					ObjectKeyPrefix: aws.String(prefix),
				},
			},
			{
				LambdaAction: &types.LambdaAction{
					FunctionArn:    aws.String(lambdaArn),
					InvocationType: types.InvocationTypeEvent,
				},
			},
		},
	}
}

// mergeRecipients returns the sorted set union of two recipient lists.
func mergeRecipients(existing, requested []string) []string {
	set := make(map[string]struct{}, len(existing)+len(requested))
	for _, r := range existing {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	for _, r := range requested {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	merged := make([]string, 0, len(set))
	for r := range set {
		merged = append(merged, r)
	}
	sort.Strings(merged)
	return merged
}
