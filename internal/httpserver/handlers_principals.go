package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/minipay/onboarding/internal/authz"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/provisioning"
	"github.com/minipay/onboarding/internal/reconcile"
	"github.com/minipay/onboarding/pkg/responders"
)

// linkWalletRequest is the body of PUT /v1/principals/{id}/wallet.
type linkWalletRequest struct {
	Address string `json:"address"`
}

// onboardingResponse is the body of GET /v1/principals/{id}/onboarding.
type onboardingResponse struct {
	reconcile.Record
	NextStep string `json:"nextStep"`
}

// provision creates an admin, ambassador or customer.
func (h *handlers) provision(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.onboarding.Provision(r.Context(), req, authz.FromContext(r.Context()))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.Created(w, h.cfg.Server.RoutePrefix+"/v1/principals/"+result.PrincipalID+"/onboarding", result)
}

func (h *handlers) createCustomerAccount(w http.ResponseWriter, r *http.Request) {
	var req provisioning.CustomerAccountRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.onboarding.CreateCustomerAccount(r.Context(), chi.URLParam(r, "id"), req, authz.FromContext(r.Context()))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, result)
}

func (h *handlers) linkBankAccount(w http.ResponseWriter, r *http.Request) {
	var req provisioning.BankAccountLinkRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.onboarding.LinkBankAccount(r.Context(), chi.URLParam(r, "id"), req, authz.FromContext(r.Context()))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.JSON(w, http.StatusCreated, result)
}

func (h *handlers) linkWallet(w http.ResponseWriter, r *http.Request) {
	var req linkWalletRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.onboarding.LinkWallet(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Address), authz.FromContext(r.Context()))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, result)
}

// onboardingStatus recomputes the flags; ?country= overrides the profile country.
func (h *handlers) onboardingStatus(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")

	record, err := h.onboarding.Reconcile(r.Context(), chi.URLParam(r, "id"), country, authz.FromContext(r.Context()))
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, onboardingResponse{Record: record, NextStep: record.NextStep()})
}

// decodeBody writes invalid_argument and returns false when the body does
// not decode.
func (h *handlers) decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r.Body, dest); err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().
			Err(err).
			Str("path", r.URL.Path).
			Msg("httpserver.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidArgument, "invalid request body")
		return false
	}
	return true
}
