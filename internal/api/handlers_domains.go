package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/pkg/httputil"
	"github.com/ignite/inbound-gateway/internal/rules"
)

// CreateDomain registers a domain and, when AWS is configured, starts
// verification immediately. Config gaps come back as a warning, not an
// error: the row is still created in a needs-configuration state.
func (h *Handlers) CreateDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DomainName string `json:"domain_name"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.DomainName = strings.ToLower(strings.TrimSpace(req.DomainName))
	if !domains.ValidDomainName(req.DomainName) {
		httputil.BadRequest(w, "invalid domain name")
		return
	}

	d := &domains.Domain{DomainName: req.DomainName, UserID: userID(r)}
	if err := h.domains.Create(r.Context(), d); err != nil {
		httputil.InternalError(w, err)
		return
	}

	body := map[string]interface{}{"domain": d}
	if warning := h.configWarning(); warning != "" {
		body["warning"] = warning
		httputil.Created(w, body)
		return
	}

	res, err := h.orch.InitiateVerification(r.Context(), d.UserID, d.ID)
	if err != nil {
		body["warning"] = "domain created but verification could not start: " + err.Error()
		httputil.Created(w, body)
		return
	}
	body["verification"] = res
	httputil.Created(w, body)
}

func (h *Handlers) ListDomains(w http.ResponseWriter, r *http.Request) {
	list, err := h.domains.List(r.Context(), userID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"domains": list})
}

func (h *Handlers) GetDomain(w http.ResponseWriter, r *http.Request) {
	d, err := h.domains.Get(r.Context(), userID(r), chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	records, err := h.domains.ListDnsRecords(r.Context(), d.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"domain": d, "dns_records": records})
}

// VerifyDomain re-drives the verification state machine. Idempotent; the
// UI and the poller both call it freely.
func (h *Handlers) VerifyDomain(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.InitiateVerification(r.Context(), userID(r), chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	httputil.OK(w, res)
}

func (h *Handlers) DeleteDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), userID(r), chi.URLParam(r, "domainID")); err != nil {
		writeDomainErr(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "deleted"})
}

// ToggleCatchAll enables or disables catch-all routing. The SES rule
// swap happens first; the domain row is only updated after SES confirms,
// so the DB mirror never claims a routing state AWS does not hold.
func (h *Handlers) ToggleCatchAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled    bool   `json:"enabled"`
		EndpointID string `json:"endpoint_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	uid := userID(r)
	d, err := h.domains.Get(r.Context(), uid, chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if !d.CanReceiveEmails {
		httputil.BadRequest(w, "domain is not verified for receiving yet")
		return
	}

	if req.Enabled {
		if req.EndpointID == "" {
			httputil.BadRequest(w, "endpoint_id is required to enable catch-all")
			return
		}
		if _, err := h.endpoints.Get(r.Context(), uid, req.EndpointID); err != nil {
			if errors.Is(err, endpoints.ErrNotFound) {
				httputil.NotFound(w, "endpoint not found")
				return
			}
			httputil.InternalError(w, err)
			return
		}
	}

	if warning := h.configWarning(); warning != "" {
		httputil.JSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "receiving is not configured",
			"warning": warning,
		})
		return
	}

	var res rules.Result
	if req.Enabled {
		res = h.rules.ConfigureCatchAll(r.Context(), d.DomainName, h.cfg.Receive.LambdaArn, h.cfg.Receive.S3Bucket)
	} else {
		active, err := h.addrs.ActiveAddresses(r.Context(), d.ID)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		res = h.rules.RestoreIndividualRules(r.Context(), d.DomainName, active, h.cfg.Receive.LambdaArn, h.cfg.Receive.S3Bucket)
	}
	if res.Status == rules.StatusFailed {
		writeRuleOutcome(w, res, map[string]interface{}{})
		return
	}

	if err := h.domains.SetCatchAll(r.Context(), d.ID, req.Enabled, req.EndpointID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	writeRuleOutcome(w, res, map[string]interface{}{"catch_all_enabled": req.Enabled})
}

// CreateAddress provisions an address and re-drives the domain's
// individual SES rule from the full active set.
func (h *Handlers) CreateAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address    string `json:"address"`
		EndpointID string `json:"endpoint_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	uid := userID(r)
	d, err := h.domains.Get(r.Context(), uid, chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if d.IsCatchAllEnabled {
		httputil.Conflict(w, "domain has catch-all enabled; individual addresses are routed by it")
		return
	}

	addr := &addresses.EmailAddress{
		Address:    strings.ToLower(strings.TrimSpace(req.Address)),
		DomainID:   d.ID,
		EndpointID: req.EndpointID,
		IsActive:   true,
		UserID:     uid,
	}
	if err := h.addrs.Create(r.Context(), addr, d.DomainName); err != nil {
		if errors.Is(err, addresses.ErrDomainMismatch) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	body := map[string]interface{}{"address": addr}
	if warning := h.configWarning(); warning != "" {
		body["warning"] = warning
		httputil.Created(w, body)
		return
	}

	active, err := h.addrs.ActiveAddresses(r.Context(), d.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	res := h.rules.ConfigureEmailReceiving(r.Context(), d.DomainName, active, h.cfg.Receive.LambdaArn, h.cfg.Receive.S3Bucket)
	if res.Status != rules.StatusFailed {
		if err := h.addrs.MarkRuleConfigured(r.Context(), addr.ID, true); err == nil {
			addr.IsReceiptRuleConfigured = true
		}
	}
	body["rule"] = res
	httputil.Created(w, body)
}

func (h *Handlers) ListAddresses(w http.ResponseWriter, r *http.Request) {
	d, err := h.domains.Get(r.Context(), userID(r), chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	list, err := h.addrs.ListByDomain(r.Context(), d.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"addresses": list})
}

// DeleteAddress removes the row and re-drives the SES rule from the
// remaining active addresses, so rule membership tracks the table.
func (h *Handlers) DeleteAddress(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	d, err := h.domains.Get(r.Context(), uid, chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if err := h.addrs.Delete(r.Context(), uid, chi.URLParam(r, "addressID")); err != nil {
		if errors.Is(err, addresses.ErrNotFound) {
			httputil.NotFound(w, "address not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	body := map[string]interface{}{"status": "deleted"}
	if warning := h.configWarning(); warning == "" && !d.IsCatchAllEnabled {
		active, err := h.addrs.ActiveAddresses(r.Context(), d.ID)
		if err == nil {
			body["rule"] = h.rules.RestoreIndividualRules(r.Context(), d.DomainName, active, h.cfg.Receive.LambdaArn, h.cfg.Receive.S3Bucket)
		}
	}
	httputil.OK(w, body)
}

func writeDomainErr(w http.ResponseWriter, err error) {
	if errors.Is(err, domains.ErrNotFound) {
		httputil.NotFound(w, "domain not found")
		return
	}
	httputil.InternalError(w, err)
}
