package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/pkg/httputil"
)

type endpointRequest struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Config        json.RawMessage `json:"config"`
	WebhookFormat string          `json:"webhook_format"`
}

// buildEndpoint runs the typed constructor for the requested variant, so
// malformed configs are rejected here and never reach the store.
func buildEndpoint(uid string, req endpointRequest) (*endpoints.Endpoint, error) {
	switch req.Type {
	case endpoints.TypeWebhook:
		var cfg endpoints.WebhookConfig
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return nil, err
		}
		return endpoints.NewWebhook(uid, req.Name, cfg, req.WebhookFormat)
	case endpoints.TypeEmail:
		var cfg endpoints.ForwardConfig
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return nil, err
		}
		return endpoints.NewForward(uid, req.Name, cfg)
	case endpoints.TypeGroup:
		var cfg endpoints.GroupConfig
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return nil, err
		}
		return endpoints.NewGroup(uid, req.Name, cfg)
	default:
		return nil, errors.New("type must be webhook, email, or email_group")
	}
}

func (h *Handlers) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ep, err := buildEndpoint(userID(r), req)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := h.endpoints.Create(r.Context(), ep); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"endpoint": ep})
}

func (h *Handlers) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	list, err := h.endpoints.List(r.Context(), userID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"endpoints": list})
}

func (h *Handlers) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpoints.Get(r.Context(), userID(r), chi.URLParam(r, "endpointID"))
	if err != nil {
		writeEndpointErr(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"endpoint": ep})
}

// UpdateEndpoint replaces the config, revalidating through the same
// constructors as creation.
func (h *Handlers) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	existing, err := h.endpoints.Get(r.Context(), uid, chi.URLParam(r, "endpointID"))
	if err != nil {
		writeEndpointErr(w, err)
		return
	}

	var req endpointRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = existing.Type
	}
	if req.Type != existing.Type {
		httputil.BadRequest(w, "endpoint type cannot be changed")
		return
	}
	if req.Name == "" {
		req.Name = existing.Name
	}
	if req.WebhookFormat == "" {
		req.WebhookFormat = existing.WebhookFormat
	}

	validated, err := buildEndpoint(uid, req)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := h.endpoints.UpdateConfig(r.Context(), uid, existing.ID, validated.Config, validated.WebhookFormat); err != nil {
		writeEndpointErr(w, err)
		return
	}
	existing.Config = validated.Config
	existing.WebhookFormat = validated.WebhookFormat
	httputil.OK(w, map[string]interface{}{"endpoint": existing})
}

// DeleteEndpoint removes the endpoint; referencing addresses are detached
// by the FK, and mail for them falls through to catch-all or suppression.
func (h *Handlers) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.endpoints.Delete(r.Context(), userID(r), chi.URLParam(r, "endpointID")); err != nil {
		writeEndpointErr(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "deleted"})
}

// TestEndpoint delivers a synthetic payload and returns the outcomes the
// UI shows: status, response code, latency, and the format actually sent.
func (h *Handlers) TestEndpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if r.ContentLength > 0 && !httputil.Decode(w, r, &req) {
		return
	}

	ep, err := h.endpoints.Get(r.Context(), userID(r), chi.URLParam(r, "endpointID"))
	if err != nil {
		writeEndpointErr(w, err)
		return
	}
	results := h.dispatcher.TestDelivery(r.Context(), ep, req.Recipient)
	httputil.OK(w, map[string]interface{}{"deliveries": results})
}

// ListDeliveries returns recent delivery records for an endpoint.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	ep, err := h.endpoints.Get(r.Context(), uid, chi.URLParam(r, "endpointID"))
	if err != nil {
		writeEndpointErr(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.records.ListByEndpoint(r.Context(), uid, ep.ID, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"deliveries": list})
}

func writeEndpointErr(w http.ResponseWriter, err error) {
	if errors.Is(err, endpoints.ErrNotFound) {
		httputil.NotFound(w, "endpoint not found")
		return
	}
	httputil.InternalError(w, err)
}
