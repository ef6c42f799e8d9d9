package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certbridge/internal/batch/models"
	"certbridge/internal/batch/wire"
	"certbridge/internal/bus"
	"certbridge/internal/bus/memory"
	"certbridge/internal/bus/mocks"
	"certbridge/internal/decoder"
	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/platform/sentinel"
)

// =============================================================================
// Reconcile Service Test Suite
// =============================================================================
// Justification for unit tests: a pass must survive malformed traffic,
// unreachable payloads and outages without failing, and must return nothing
// to a cancelled caller. These paths are hard to provoke against a real bus.

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	mockBus *mocks.MockBus
	memBus  *memory.Bus
	logger  *slog.Logger
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockBus = mocks.NewMockBus(s.ctrl)
	s.memBus = memory.New(bus.Identity{Name: "Sender University", ID: "did:sender"}, nil)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(b bus.Bus, opts ...Option) *Service {
	opts = append([]Option{WithLogger(s.logger)}, opts...)
	svc, err := New(b, decoder.New(decoder.WithLogger(s.logger)), opts...)
	s.Require().NoError(err)
	return svc
}

func submissionPayload(batchID string, at time.Time, studentIDs ...string) []byte {
	students := make([]models.StudentRecord, 0, len(studentIDs))
	for _, sid := range studentIDs {
		students = append(students, models.StudentRecord{
			StudentID:      id.StudentID(sid),
			FirstName:      "First" + sid,
			LastName:       "Last" + sid,
			Course:         "Computer Science",
			GraduationDate: "2024-06-30",
			GPA:            "3.5",
			University:     "Example University",
		})
	}
	out, err := wire.EncodeSubmission(&models.SubmissionEvent{
		BatchID:     id.BatchID(batchID),
		SubmittedAt: at,
		SubmittedBy: "Sender University",
		Metadata:    models.BatchMetadata{BatchName: "Batch " + batchID, Faculty: "Engineering", AcademicYear: "2023/2024"},
		Students:    students,
	})
	if err != nil {
		panic(err)
	}
	return out
}

func issuancePayload(batchID string, at time.Time, studentIDs ...string) []byte {
	refs := make([]models.CertificateRef, 0, len(studentIDs))
	for _, sid := range studentIDs {
		refs = append(refs, models.CertificateRef{StudentID: id.StudentID(sid), CertificateID: "CERT-" + sid})
	}
	out, err := wire.EncodeIssuance(&models.IssuanceEvent{
		BatchID:         id.BatchID(batchID),
		IssuedAt:        at,
		TransactionID:   "tx-" + batchID,
		From:            "Issuing Authority",
		To:              "Sender University",
		CertificateRefs: refs,
	})
	if err != nil {
		panic(err)
	}
	return out
}

func (s *ServiceSuite) inject(payload []byte, at time.Time) {
	s.memBus.Inject(bus.Envelope{CreatedAt: at}, payload)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil bus returns error", func() {
		_, err := New(nil, nil)
		s.Error(err)
		s.Contains(err.Error(), "bus is required")
	})

	s.Run("nil decoder falls back to default", func() {
		svc, err := New(s.memBus, nil)
		s.NoError(err)
		s.NotNil(svc.decoder)
	})
}

// =============================================================================
// Run Tests
// =============================================================================

func (s *ServiceSuite) TestRun() {
	s.Run("reconciles submissions, issuances and orphans", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1", "S2", "S3"), base)
		s.inject(submissionPayload("B2", base, "S1", "S2", "S3", "S4"), base)
		s.inject(issuancePayload("B1", base.Add(26*time.Hour), "S1", "S2", "S3"), base.Add(26*time.Hour))
		s.inject(issuancePayload("B2", base.Add(3*time.Hour), "S1", "S2"), base.Add(3*time.Hour))
		s.inject(issuancePayload("B3", base.Add(time.Hour), "S9"), base.Add(time.Hour))

		report, err := s.newService(s.memBus).Run(context.Background())
		s.Require().NoError(err)
		s.False(report.Degraded)
		s.Empty(report.Failures)
		s.Equal(5, report.MessagesSeen)

		byID := rowsByID(report.Rows)
		s.Equal(models.StatusCompleted, byID["B1"].Status)
		s.Equal(100, byID["B1"].ProgressPercentage)
		s.Equal(models.StatusPartiallyCompleted, byID["B2"].Status)
		s.Equal(50, byID["B2"].ProgressPercentage)
		s.Equal(models.StatusCertificatesIssued, byID["B3"].Status)
		s.Nil(byID["B3"].SubmittedAt)
		s.Equal(3, report.Stats.TotalBatches)
	})

	s.Run("one malformed payload among ten is recorded and skipped", func() {
		s.SetupTest()
		for i := range 9 {
			s.inject(submissionPayload(fmt.Sprintf("B%d", i), base.Add(time.Duration(i)*time.Minute), "S1"), base)
		}
		s.inject([]byte(`{"type": "STUDENT_BATCH_SUBMISSION_WITH_METADATA", "batch": {`), base)

		report, err := s.newService(s.memBus, WithConcurrency(3)).Run(context.Background())
		s.Require().NoError(err)
		s.Len(report.Rows, 9)
		s.Require().Len(report.Failures, 1)
		s.Equal(decoder.ReasonInvalidJSON, report.Failures[0].Reason)
		s.False(report.Degraded)
	})

	s.Run("replaying the bus yields the same rows", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1", "S2"), base)
		s.inject(issuancePayload("B1", base.Add(time.Hour), "S1"), base.Add(time.Hour))
		svc := s.newService(s.memBus)

		first, err := svc.Run(context.Background())
		s.Require().NoError(err)
		s.inject(issuancePayload("B1", base.Add(time.Hour), "S1"), base.Add(2*time.Hour))
		second, err := svc.Run(context.Background())
		s.Require().NoError(err)

		s.Equal(first.Rows, second.Rows)
	})
}

func (s *ServiceSuite) TestRunDegraded() {
	s.Run("listing outage returns an empty degraded report", func() {
		s.SetupTest()
		s.mockBus.EXPECT().
			ListMessages(gomock.Any(), bus.Filter{Type: bus.MessageTypePrivate}, defaultMessageLimit+1).
			Return(nil, bus.NewTransportError("list_messages", errors.New("connection refused")))

		report, err := s.newService(s.mockBus).Run(context.Background())
		s.Require().NoError(err)
		s.True(report.Degraded)
		s.Empty(report.Rows)
		s.Equal(0, report.Stats.TotalBatches)
	})

	s.Run("history beyond the limit keeps the newest batches", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1"), base)
		s.inject(submissionPayload("B2", base.Add(time.Hour), "S1"), base.Add(time.Hour))
		s.inject(submissionPayload("B3", base.Add(2*time.Hour), "S1"), base.Add(2*time.Hour))
		svc := s.newService(s.memBus, WithMessageLimit(2))

		report, err := svc.Run(context.Background())
		s.Require().NoError(err)
		s.True(report.Truncated)
		s.True(report.Degraded)
		s.Equal(2, report.MessagesSeen)
		_, oldest := report.Find("B1")
		s.False(oldest)
		_, newest := report.Find("B3")
		s.True(newest)

		sub, err := svc.Submission(context.Background(), "B3")
		s.Require().NoError(err)
		s.Equal(id.BatchID("B3"), sub.BatchID)
	})

	s.Run("history at the limit is complete", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1"), base)
		s.inject(submissionPayload("B2", base.Add(time.Hour), "S1"), base.Add(time.Hour))

		report, err := s.newService(s.memBus, WithMessageLimit(2)).Run(context.Background())
		s.Require().NoError(err)
		s.False(report.Truncated)
		s.False(report.Degraded)
		s.Len(report.Rows, 2)
	})

	s.Run("timed-out fetch fails only its message", func() {
		s.SetupTest()
		envs := []bus.Envelope{
			{ID: "ok", CreatedAt: base, PayloadRefs: []bus.PayloadRef{"ref-ok"}},
			{ID: "slow", CreatedAt: base, PayloadRefs: []bus.PayloadRef{"ref-slow"}},
		}
		s.mockBus.EXPECT().ListMessages(gomock.Any(), gomock.Any(), gomock.Any()).Return(envs, nil)
		s.mockBus.EXPECT().FetchPayload(gomock.Any(), bus.PayloadRef("ref-ok")).
			Return(submissionPayload("B1", base, "S1"), nil)
		s.mockBus.EXPECT().FetchPayload(gomock.Any(), bus.PayloadRef("ref-slow")).
			DoAndReturn(func(ctx context.Context, _ bus.PayloadRef) ([]byte, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		report, err := s.newService(s.mockBus, WithCallTimeout(20*time.Millisecond)).Run(context.Background())
		s.Require().NoError(err)
		s.True(report.Degraded)
		s.Len(report.Rows, 1)
		s.Require().Len(report.Failures, 1)
		s.Equal(id.MessageID("slow"), report.Failures[0].MessageID)
		s.Equal(decoder.ReasonFetchTimedOut, report.Failures[0].Reason)
	})

	s.Run("missing payload is a failure but not an outage", func() {
		s.SetupTest()
		envs := []bus.Envelope{{ID: "gone", CreatedAt: base, PayloadRefs: []bus.PayloadRef{"ref-gone"}}}
		s.mockBus.EXPECT().ListMessages(gomock.Any(), gomock.Any(), gomock.Any()).Return(envs, nil)
		s.mockBus.EXPECT().FetchPayload(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("payload ref-gone: %w", sentinel.ErrNotFound))

		report, err := s.newService(s.mockBus).Run(context.Background())
		s.Require().NoError(err)
		s.False(report.Degraded)
		s.Require().Len(report.Failures, 1)
		s.Equal(decoder.ReasonFetchFailed, report.Failures[0].Reason)
	})
}

func (s *ServiceSuite) TestRunCancelled() {
	s.Run("cancelled before listing", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1"), base)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := s.newService(s.memBus).Run(ctx)
		s.ErrorIs(err, context.Canceled)
		s.Nil(report)
	})

	s.Run("cancelled mid-fetch discards partial results", func() {
		s.SetupTest()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		envs := make([]bus.Envelope, 0, 5)
		for i := range 5 {
			envs = append(envs, bus.Envelope{
				ID:          id.MessageID(fmt.Sprintf("m%d", i)),
				CreatedAt:   base,
				PayloadRefs: []bus.PayloadRef{bus.PayloadRef(fmt.Sprintf("r%d", i))},
			})
		}
		s.mockBus.EXPECT().ListMessages(gomock.Any(), gomock.Any(), gomock.Any()).Return(envs, nil)
		s.mockBus.EXPECT().FetchPayload(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ bus.PayloadRef) ([]byte, error) {
				cancel()
				return nil, context.Canceled
			}).
			MinTimes(1).MaxTimes(5)

		report, err := s.newService(s.mockBus, WithConcurrency(1)).Run(ctx)
		s.ErrorIs(err, context.Canceled)
		s.Nil(report)
	})
}

// =============================================================================
// BatchStatistics Tests
// =============================================================================

type stubStore struct {
	stats *models.BatchStatistics
	err   error
	calls int
}

func (f *stubStore) FindBatchStatistics(_ context.Context, _ id.BatchID) (*models.BatchStatistics, error) {
	f.calls++
	return f.stats, f.err
}

func (s *ServiceSuite) TestBatchStatistics() {
	s.Run("blank id is a validation error", func() {
		s.SetupTest()
		_, err := s.newService(s.mockBus).BatchStatistics(context.Background(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("store hit skips the bus", func() {
		s.SetupTest()
		store := &stubStore{stats: &models.BatchStatistics{
			BatchID:       "B1",
			SubmittedAt:   base,
			StudentsTotal: 2,
		}}

		row, err := s.newService(s.mockBus, WithStore(store)).BatchStatistics(context.Background(), "B1")
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, row.Status)
		s.Equal(1, store.calls)
	})

	s.Run("store miss falls back to the bus", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1", "S2"), base)
		s.inject(issuancePayload("B1", base.Add(time.Hour), "S1", "S2"), base.Add(time.Hour))
		store := &stubStore{err: fmt.Errorf("batch B1: %w", sentinel.ErrNotFound)}

		row, err := s.newService(s.memBus, WithStore(store)).BatchStatistics(context.Background(), "B1")
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, row.Status)
	})

	s.Run("store failure falls back to the bus", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1"), base)
		store := &stubStore{err: errors.New("connection reset")}

		row, err := s.newService(s.memBus, WithStore(store)).BatchStatistics(context.Background(), "B1")
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, row.Status)
	})

	s.Run("unknown batch is not found", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base, "S1"), base)

		_, err := s.newService(s.memBus).BatchStatistics(context.Background(), "NOPE")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown batch on a degraded pass is unavailable", func() {
		s.SetupTest()
		s.mockBus.EXPECT().ListMessages(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, bus.NewTransportError("list_messages", errors.New("down")))

		_, err := s.newService(s.mockBus).BatchStatistics(context.Background(), "B1")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ServiceSuite) TestSubmission() {
	s.Run("returns the earliest submission", func() {
		s.SetupTest()
		s.inject(submissionPayload("B1", base.Add(time.Hour), "S1", "S2", "S3"), base.Add(time.Hour))
		s.inject(submissionPayload("B1", base, "S1", "S2"), base)

		sub, err := s.newService(s.memBus).Submission(context.Background(), "B1")
		s.Require().NoError(err)
		s.Len(sub.Students, 2)
		s.True(base.Equal(sub.SubmittedAt))
	})

	s.Run("orphan batch has no submission", func() {
		s.SetupTest()
		s.inject(issuancePayload("B9", base, "S1"), base)

		_, err := s.newService(s.memBus).Submission(context.Background(), "B9")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
