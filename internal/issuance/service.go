// Package issuance publishes generated certificates for a submitted batch
// back to its sender.
package issuance

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks SubmissionSource,IssuanceRecorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certbridge/internal/batch/models"
	"certbridge/internal/batch/wire"
	"certbridge/internal/bus"
	"certbridge/internal/hashing"
	"certbridge/internal/issuance/metrics"
	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/requestcontext"
)

// SubmissionSource finds the submission a certificate request refers to.
type SubmissionSource interface {
	Submission(ctx context.Context, batchID id.BatchID) (*models.SubmissionEvent, error)
}

// IssuanceRecorder persists issued certificates.
type IssuanceRecorder interface {
	RecordIssuance(ctx context.Context, iss *models.IssuanceEvent) error
}

// CertificateRequest names the generated pdf for one student.
type CertificateRequest struct {
	StudentID   id.StudentID `json:"studentId"`
	PDFDataRef  string       `json:"pdfDataRef"`
	PDFDataHash string       `json:"pdfDataHash,omitempty"`
}

// IssueRequest asks to publish certificates for part or all of a batch.
// Recipient defaults to the organization that submitted the batch.
type IssueRequest struct {
	BatchID       id.BatchID           `json:"batchId"`
	TransactionID string               `json:"transactionId"`
	Certificates  []CertificateRequest `json:"certificates"`
	Recipient     string               `json:"recipient,omitempty"`
}

// Validate reports missing fields and duplicate students.
func (r IssueRequest) Validate() error {
	var missing []string
	if r.BatchID.IsNil() {
		missing = append(missing, "batchId")
	}
	if strings.TrimSpace(r.TransactionID) == "" {
		missing = append(missing, "transactionId")
	}
	if len(r.Certificates) == 0 {
		missing = append(missing, "certificates")
	}
	if len(missing) > 0 {
		return dErrors.Missing("issuance request is missing required fields", missing...)
	}

	seen := make(map[id.StudentID]struct{}, len(r.Certificates))
	for i, c := range r.Certificates {
		var fields []string
		if strings.TrimSpace(string(c.StudentID)) == "" {
			fields = append(fields, fmt.Sprintf("certificates[%d].studentId", i))
		}
		if strings.TrimSpace(c.PDFDataRef) == "" {
			fields = append(fields, fmt.Sprintf("certificates[%d].pdfDataRef", i))
		}
		if len(fields) > 0 {
			return dErrors.Missing("certificate request is missing required fields", fields...)
		}
		if _, dup := seen[c.StudentID]; dup {
			return dErrors.New(dErrors.CodeValidation, "duplicate certificate for student "+string(c.StudentID))
		}
		seen[c.StudentID] = struct{}{}
	}
	return nil
}

type Service struct {
	bus         bus.Bus
	issuer      string
	submissions SubmissionSource
	store       IssuanceRecorder
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStore records every published issuance.
func WithStore(store IssuanceRecorder) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithClock fixes the clock instead of using the request time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service publishing as issuer.
func New(b bus.Bus, issuer string, submissions SubmissionSource, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("issuer organization is required")
	}
	if submissions == nil {
		return nil, errors.New("submission source is required")
	}
	s := &Service{
		bus:         b,
		issuer:      strings.TrimSpace(issuer),
		submissions: submissions,
		logger:      slog.Default(),
		tracer:      otel.Tracer("certbridge/internal/issuance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Issue hashes each named student from the submitted batch, assigns
// certificate ids and publishes the issuance to the batch's sender.
// Students absent from the batch fail the whole request.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.IssuanceEvent, id.MessageID, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.Issue")
	defer span.End()

	if err := req.Validate(); err != nil {
		s.metrics.IncrementIssuance("invalid")
		return nil, "", err
	}
	span.SetAttributes(
		attribute.String("batch.id", req.BatchID.String()),
		attribute.Int("issuance.certificates", len(req.Certificates)),
	)

	sub, err := s.submissions.Submission(ctx, req.BatchID)
	if err != nil {
		s.metrics.IncrementIssuance("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission lookup failed")
		return nil, "", err
	}

	refs, err := certificateRefs(sub, req.Certificates)
	if err != nil {
		s.metrics.IncrementIssuance("invalid")
		return nil, "", err
	}

	recipientName := strings.TrimSpace(req.Recipient)
	if recipientName == "" {
		recipientName = sub.SubmittedBy
	}
	recipient, err := s.bus.ResolveIdentity(ctx, recipientName)
	if err != nil {
		s.metrics.IncrementIssuance("error")
		return nil, "", bus.DomainError(err, "recipient organization not found")
	}

	iss := &models.IssuanceEvent{
		BatchID:         sub.BatchID,
		BatchName:       sub.Metadata.BatchName,
		IssuedAt:        s.timestamp(ctx),
		TransactionID:   strings.TrimSpace(req.TransactionID),
		From:            s.issuer,
		To:              recipient.Name,
		CertificateRefs: refs,
	}
	payload, err := wire.EncodeIssuance(iss)
	if err != nil {
		s.metrics.IncrementIssuance("error")
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode issuance")
	}

	msgID, err := s.bus.Publish(ctx, payload, recipient)
	if err != nil {
		s.metrics.IncrementIssuance("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.logger.ErrorContext(ctx, "failed to publish issuance",
			"batch_id", iss.BatchID,
			"transaction_id", iss.TransactionID,
			"error", err,
		)
		return nil, "", bus.DomainError(err, "failed to publish issuance")
	}
	iss.MessageID = msgID

	s.metrics.IncrementIssuance("published")
	s.metrics.AddCertificates(len(refs))
	s.logger.InfoContext(ctx, "certificates published",
		"batch_id", iss.BatchID,
		"message_id", msgID,
		"transaction_id", iss.TransactionID,
		"certificates", len(refs),
	)

	if s.store != nil {
		if err := s.store.RecordIssuance(ctx, iss); err != nil {
			s.logger.WarnContext(ctx, "failed to record published issuance",
				"batch_id", iss.BatchID,
				"error", err,
			)
		}
	}
	return iss, msgID, nil
}

func certificateRefs(sub *models.SubmissionEvent, certs []CertificateRequest) ([]models.CertificateRef, error) {
	refs := make([]models.CertificateRef, 0, len(certs))
	var unknown []string
	for _, c := range certs {
		rec, ok := sub.Student(c.StudentID)
		if !ok {
			unknown = append(unknown, string(c.StudentID))
			continue
		}
		if err := rec.ValidateForHash(); err != nil {
			return nil, err
		}
		refs = append(refs, models.CertificateRef{
			StudentID:       rec.StudentID,
			StudentName:     rec.FullName(),
			CertificateID:   uuid.NewString(),
			CertificateHash: hashing.HashStudent(rec),
			PDFDataRef:      strings.TrimSpace(c.PDFDataRef),
			PDFDataHash:     strings.TrimSpace(c.PDFDataHash),
		})
	}
	if len(unknown) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("students not in batch %s: %s", sub.BatchID, strings.Join(unknown, ", ")))
	}
	return refs, nil
}

// timestamp is the injected clock when one is set, otherwise the time the
// current request started, so every timestamp of one request agrees.
func (s *Service) timestamp(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}
