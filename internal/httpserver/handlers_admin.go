package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minipay/onboarding/internal/authz"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/provisioning"
	"github.com/minipay/onboarding/pkg/responders"
)

type orphansResponse struct {
	Orphans []provisioning.Orphan `json:"orphans"`
	Count   int                   `json:"count"`
}

// requireAdmin writes permission_denied and returns false for non-admin callers.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if authz.FromContext(r.Context()).Has(authz.CapabilityAdmin) {
		return true
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodePermissionDenied, "admin capability required")
	return false
}

// listOrphans returns identities without a profile. Query: limit, minAge
// (Go duration).
func (h *handlers) listOrphans(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var q provisioning.OrphanQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidArgument, "limit must be a positive integer", "field", "limit")
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("minAge"); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil || age < 0 {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidArgument, "minAge must be a duration such as 10m", "field", "minAge")
			return
		}
		q.MinAge = age
	}

	orphans, err := h.onboarding.ListOrphans(r.Context(), q)
	if err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	if orphans == nil {
		orphans = []provisioning.Orphan{}
	}
	responders.JSON(w, http.StatusOK, orphansResponse{Orphans: orphans, Count: len(orphans)})
}

func (h *handlers) deleteOrphan(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	if err := h.onboarding.DeleteOrphan(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.WriteErr(w, err)
		return
	}
	responders.NoContent(w)
}
