// Package verify authenticates presented certificates against their
// canonical hash. VerifyCertificate and BatchHash are pure computation and
// never touch the bus; VerifyByHash consults the student store.
package verify

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks StudentLookup

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"certbridge/internal/batch/models"
	"certbridge/internal/hashing"
	"certbridge/internal/verify/metrics"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/platform/sentinel"
)

// StudentLookup finds a persisted student by canonical hash.
type StudentLookup interface {
	FindStudentByHash(ctx context.Context, hash string) (*models.StudentRecord, error)
}

// Result is the outcome of a verification.
type Result struct {
	Authentic    bool                  `json:"authentic"`
	ComputedHash string                `json:"computedHash"`
	Student      *models.StudentRecord `json:"student,omitempty"`
}

type Service struct {
	store   StudentLookup
	metrics *metrics.Metrics
	logger  *slog.Logger
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

// WithStore enables VerifyByHash.
func WithStore(store StudentLookup) Option {
	return func(s *Service) {
		s.store = store
	}
}

func New(opts ...Option) *Service {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// VerifyCertificate checks record against claimedHash. A record missing any
// hashed field is rejected with the missing field list instead of hashed.
func (s *Service) VerifyCertificate(record models.StudentRecord, claimedHash string) (Result, error) {
	record = record.Normalize()
	claimedHash = strings.TrimSpace(claimedHash)
	missing := record.MissingHashFields()
	if claimedHash == "" {
		missing = append(missing, "claimedHash")
	}
	if len(missing) > 0 {
		s.metrics.IncrementVerification("record", "invalid")
		return Result{}, dErrors.Missing("certificate cannot be verified", missing...)
	}

	computed := hashing.HashStudent(record)
	res := Result{Authentic: computed == claimedHash, ComputedHash: computed}
	s.metrics.IncrementVerification("record", outcome(res.Authentic))
	if !res.Authentic {
		s.logger.Info("certificate hash mismatch",
			"student_id", record.StudentID,
			"claimed_hash", claimedHash,
		)
	}
	return res, nil
}

// VerifyByHash looks the hash up in the student store and re-derives it from
// the stored record, so a row altered in place is reported as not authentic.
func (s *Service) VerifyByHash(ctx context.Context, hash string) (Result, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		s.metrics.IncrementVerification("hash", "invalid")
		return Result{}, dErrors.Missing("hash is required", "hash")
	}
	if s.store == nil {
		return Result{}, dErrors.New(dErrors.CodeUnavailable, "hash lookup is not configured")
	}

	record, err := s.store.FindStudentByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementVerification("hash", "not_found")
			return Result{}, dErrors.New(dErrors.CodeNotFound, "no certificate with this hash")
		}
		s.metrics.IncrementVerification("hash", "error")
		s.logger.ErrorContext(ctx, "student lookup by hash failed", "error", err)
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}

	computed := hashing.HashStudent(*record)
	res := Result{Authentic: computed == hash, ComputedHash: computed, Student: record}
	s.metrics.IncrementVerification("hash", outcome(res.Authentic))
	return res, nil
}

// BatchHash returns the aggregate hash of records in the given order.
func (s *Service) BatchHash(records []models.StudentRecord) (string, error) {
	if len(records) == 0 {
		return "", dErrors.Missing("batch hash needs at least one student", "students")
	}
	for _, r := range records {
		if err := r.ValidateForHash(); err != nil {
			return "", err
		}
	}
	return hashing.HashBatch(records), nil
}

func outcome(authentic bool) string {
	if authentic {
		return "authentic"
	}
	return "tampered"
}
