package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"certbridge/internal/batch/models"
	"certbridge/pkg/platform/httputil"
)

type verifyRequest struct {
	Student     models.StudentRecord `json:"student"`
	ClaimedHash string               `json:"claimedHash"`
}

func (h *Handler) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.verifier.VerifyCertificate(req.Student, req.ClaimedHash)
	if err != nil {
		h.writeServiceError(ctx, w, "certificate verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVerifyByHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.verifier.VerifyByHash(ctx, chi.URLParam(r, "hash"))
	if err != nil {
		h.writeServiceError(ctx, w, "certificate lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
