// Package api exposes the HTTP surface: the ingestion webhook the Lambda
// forwarder posts to, and the provisioning API for domains, addresses,
// endpoints, and the blocklist. Authentication of end users happens in a
// fronting proxy; requests arrive here with the authenticated user id in
// the X-User-ID header.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/blocking"
	"github.com/ignite/inbound-gateway/internal/config"
	"github.com/ignite/inbound-gateway/internal/dispatch"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/pkg/httputil"
	"github.com/ignite/inbound-gateway/internal/rules"
)

// Handlers carries the wired services behind the HTTP surface.
type Handlers struct {
	cfg        *config.Config
	domains    *domains.Store
	orch       *domains.Orchestrator
	addrs      *addresses.Store
	endpoints  *endpoints.Store
	gate       *blocking.Gate
	rules      *rules.Manager
	dispatcher *dispatch.Dispatcher
	records    *dispatch.RecordStore
	startedAt  time.Time
}

// NewHandlers wires the handler set.
func NewHandlers(cfg *config.Config, domainStore *domains.Store, orch *domains.Orchestrator,
	addrStore *addresses.Store, endpointStore *endpoints.Store, gate *blocking.Gate,
	ruleManager *rules.Manager, dispatcher *dispatch.Dispatcher, recordStore *dispatch.RecordStore) *Handlers {
	return &Handlers{
		cfg: cfg, domains: domainStore, orch: orch, addrs: addrStore,
		endpoints: endpointStore, gate: gate, rules: ruleManager,
		dispatcher: dispatcher, records: recordStore, startedAt: time.Now(),
	}
}

// HealthCheck reports liveness and which external integrations are wired.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"aws_configured": h.cfg.AWS.Configured(),
		"s3_bucket_set":  h.cfg.Receive.S3Bucket != "",
		"lambda_arn_set": h.cfg.Receive.LambdaArn != "",
	})
}

// userID extracts the authenticated user. The fronting proxy always sets
// it; a bare local run falls back to a fixed id so the API stays usable.
func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return "local"
}

// configWarning names the first missing piece of receive configuration,
// empty when fully configured. Surfaced as a warning field so resources
// can still be created in a needs-configuration state.
func (h *Handlers) configWarning() string {
	switch {
	case !h.cfg.AWS.Configured():
		return "AWS credentials not configured; SES rules cannot be managed yet"
	case h.cfg.Receive.S3Bucket == "":
		return "SES S3 bucket not configured; receipt rules cannot be created yet"
	case h.cfg.Receive.LambdaArn == "":
		return "Lambda forwarder ARN not configured; receipt rules cannot be created yet"
	}
	return ""
}

// writeRuleOutcome maps a rule manager result onto the response. Throttle
// failures get 429; other hard failures get 502; configuration gaps were
// already reported as warnings before the SES call.
func writeRuleOutcome(w http.ResponseWriter, res rules.Result, body map[string]interface{}) {
	body["rule"] = res
	if res.Status == rules.StatusFailed {
		if res.Retryable {
			httputil.TooManyRequests(w, res.Error)
			return
		}
		httputil.JSON(w, http.StatusBadGateway, body)
		return
	}
	httputil.OK(w, body)
}
