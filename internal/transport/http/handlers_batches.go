package httptransport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certbridge/internal/batch/models"
	"certbridge/internal/issuance"
	"certbridge/internal/platform/middleware"
	"certbridge/internal/submission"
	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/platform/httputil"
)

type submitResponse struct {
	BatchID       id.BatchID   `json:"batchId"`
	MessageID     id.MessageID `json:"messageId"`
	SubmittedAt   time.Time    `json:"submittedAt"`
	TotalStudents int          `json:"totalStudents"`
}

type issueRequest struct {
	TransactionID string                        `json:"transactionId"`
	Certificates  []issuance.CertificateRequest `json:"certificates"`
	Recipient     string                        `json:"recipient,omitempty"`
}

type issueResponse struct {
	BatchID       id.BatchID              `json:"batchId"`
	MessageID     id.MessageID            `json:"messageId"`
	IssuedAt      time.Time               `json:"issuedAt"`
	TransactionID string                  `json:"transactionId"`
	Certificates  []models.CertificateRef `json:"certificates"`
}

// handleListBatches runs a reconciliation pass. A degraded report is still
// a 200; clients read the degraded flag.
func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.reconciler.Run(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "reconciliation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	row, err := h.reconciler.BatchStatistics(ctx, batchID)
	if err != nil {
		h.writeServiceError(ctx, w, "batch statistics failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

func (h *Handler) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submission.SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid submit batch request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	ev, msgID, err := h.submitter.Submit(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, "batch submission failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, submitResponse{
		BatchID:       ev.BatchID,
		MessageID:     msgID,
		SubmittedAt:   ev.SubmittedAt,
		TotalStudents: len(ev.Students),
	})
}

func (h *Handler) handleIssueCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body issueRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.logger.WarnContext(ctx, "invalid issue certificates request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	iss, msgID, err := h.issuer.Issue(ctx, issuance.IssueRequest{
		BatchID:       batchID,
		TransactionID: body.TransactionID,
		Certificates:  body.Certificates,
		Recipient:     body.Recipient,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "certificate issuance failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{
		BatchID:       iss.BatchID,
		MessageID:     msgID,
		IssuedAt:      iss.IssuedAt,
		TransactionID: iss.TransactionID,
		Certificates:  iss.CertificateRefs,
	})
}

// writeServiceError logs server-side failures and renders the error. A
// request that ran out of time becomes CodeTimeout.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = dErrors.Wrap(err, dErrors.CodeTimeout, "request did not complete in time")
	}
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"code", code,
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"code", code,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
