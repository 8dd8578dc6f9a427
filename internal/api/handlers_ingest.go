package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/inbound-gateway/internal/dispatch"
	"github.com/ignite/inbound-gateway/internal/pkg/httputil"
	"github.com/ignite/inbound-gateway/internal/pkg/logger"
)

// IngestInbound receives processed email events from the Lambda
// forwarder. The contract with the upstream is strict: authenticate the
// bearer key, then answer 200 with a success-shaped body no matter what
// happens internally. A non-200 here triggers the forwarder's own
// SES-driven retry storm, which re-delivers the same mail over and over.
func (h *Handlers) IngestInbound(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeService(r) {
		// Auth is the one non-200 path: a misconfigured key is an operator
		// error to surface, not a transient to swallow.
		httputil.Error(w, http.StatusUnauthorized, "invalid service credentials")
		return
	}

	var event dispatch.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		logger.Error("ingest: malformed payload", "error", err.Error())
		httputil.OK(w, map[string]interface{}{"status": "accepted", "processed": 0})
		return
	}
	if event.Type != dispatch.EventType {
		logger.Warn("ingest: unexpected event type", "type", event.Type)
		httputil.OK(w, map[string]interface{}{"status": "accepted", "processed": 0})
		return
	}

	// Dispatch runs detached from the request so the upstream gets its
	// acknowledgement immediately; delivery deadlines are bounded inside
	// the dispatcher.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		results := h.dispatcher.HandleEvent(ctx, event)
		failed := 0
		for _, res := range results {
			if res.Status == dispatch.OutcomeFailed {
				failed++
			}
		}
		logger.Info("ingest: event processed",
			"records", len(event.ProcessedRecords), "deliveries", len(results), "failed", failed)
	}()

	httputil.OK(w, map[string]interface{}{
		"status":  "accepted",
		"records": len(event.ProcessedRecords),
	})
}

func (h *Handlers) authorizeService(r *http.Request) bool {
	key := h.cfg.Ingest.ServiceAPIKey
	if key == "" {
		logger.Warn("ingest: SERVICE_API_KEY not configured, rejecting")
		return false
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}
