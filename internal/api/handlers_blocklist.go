package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/inbound-gateway/internal/blocking"
	"github.com/ignite/inbound-gateway/internal/pkg/httputil"
)

func (h *Handlers) BlockAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailAddress string `json:"email_address"`
		Reason       string `json:"reason"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	entry, err := h.gate.Block(r.Context(), req.EmailAddress, userID(r), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, blocking.ErrAlreadyBlocked):
			httputil.Conflict(w, err.Error())
		case errors.Is(err, blocking.ErrNoCatchAll),
			errors.Is(err, blocking.ErrManagedAddress),
			errors.Is(err, blocking.ErrMalformedAddress):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, blocking.ErrUnknownDomain):
			httputil.NotFound(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.Created(w, map[string]interface{}{"blocked": entry})
}

func (h *Handlers) UnblockAddress(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Unblock(r.Context(), chi.URLParam(r, "address")); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "unblocked"})
}

func (h *Handlers) ListBlocked(w http.ResponseWriter, r *http.Request) {
	d, err := h.domains.Get(r.Context(), userID(r), chi.URLParam(r, "domainID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	list, err := h.gate.List(r.Context(), d.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"blocked": list})
}
