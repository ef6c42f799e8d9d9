package submission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certbridge/internal/batch/models"
	"certbridge/internal/bus"
	"certbridge/internal/bus/memory"
	busmocks "certbridge/internal/bus/mocks"
	"certbridge/internal/decoder"
	"certbridge/internal/hashing"
	"certbridge/internal/submission/mocks"
	"certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/requestcontext"
)

// =============================================================================
// Submission Service Test Suite
// =============================================================================
// Justification for unit tests: the published payload must decode back into
// the same batch on the receiving side, and validation must stop a batch
// before anything reaches the bus.

var (
	senderOrg = bus.Identity{Name: "Sender University", ID: "did:sender"}
	issuerOrg = bus.Identity{Name: "Issuing Authority", ID: "did:issuer"}
	fixedNow  = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

type SubmissionSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockBus   *busmocks.MockBus
	mockStore *mocks.MockBatchRecorder
	memBus    *memory.Bus
	logger    *slog.Logger
}

func TestSubmissionSuite(t *testing.T) {
	suite.Run(t, new(SubmissionSuite))
}

func (s *SubmissionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockBus = busmocks.NewMockBus(s.ctrl)
	s.mockStore = mocks.NewMockBatchRecorder(s.ctrl)
	s.memBus = memory.New(senderOrg, bus.NewDirectory(senderOrg, issuerOrg), memory.WithClock(func() time.Time { return fixedNow }))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *SubmissionSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SubmissionSuite) newService(b bus.Bus, opts ...Option) *Service {
	opts = append([]Option{WithLogger(s.logger), WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := New(b, senderOrg.Name, issuerOrg.Name, opts...)
	s.Require().NoError(err)
	return svc
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Metadata: models.BatchMetadata{
			BatchName:              "Class of 2024",
			AcademicYear:           "2023/2024",
			Semester:               "Spring",
			GraduationCeremonyDate: "2024-06-30",
			Faculty:                "Engineering",
			ContactPerson:          "Dr. Smith",
			ContactEmail:           "smith@example.edu",
		},
		Students: []models.StudentRecord{
			{StudentID: "S1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.edu", Course: "Mathematics", GraduationDate: "2024-06-30", GPA: "3.9", University: "Example University"},
			{StudentID: "S2", FirstName: "Alan", LastName: "Turing", Email: "alan@example.edu", Course: "Computer Science", GraduationDate: "2024-06-30", GPA: "3.8", University: "Example University"},
		},
	}
}

func (s *SubmissionSuite) TestNew() {
	s.Run("nil bus returns error", func() {
		_, err := New(nil, senderOrg.Name, issuerOrg.Name)
		s.ErrorContains(err, "bus is required")
	})

	s.Run("blank sender returns error", func() {
		_, err := New(s.memBus, " ", issuerOrg.Name)
		s.ErrorContains(err, "sender organization is required")
	})
}

func (s *SubmissionSuite) TestSubmit() {
	s.Run("publishes a batch the receiving side can decode", func() {
		s.SetupTest()
		ctx := context.Background()

		ev, msgID, err := s.newService(s.memBus).Submit(ctx, validRequest())
		s.Require().NoError(err)
		s.NotEmpty(msgID)
		s.Equal(msgID, ev.MessageID)
		s.Regexp(`^BATCH_\d+_[0-9a-f]{9}$`, ev.BatchID.String())
		s.Equal(senderOrg.Name, ev.SubmittedBy)
		s.True(fixedNow.Equal(ev.SubmittedAt))

		envs, err := s.memBus.ListMessages(ctx, bus.Filter{}, 0)
		s.Require().NoError(err)
		s.Require().Len(envs, 1)
		s.Equal(issuerOrg.Name, envs[0].Recipient)
		payload, err := s.memBus.FetchPayload(ctx, envs[0].PayloadRefs[0])
		s.Require().NoError(err)

		decoded, err := decoder.New().Decode(envs[0], [][]byte{payload})
		s.Require().NoError(err)
		s.Equal(decoder.KindSubmission, decoded.Kind)
		s.Equal(ev.BatchID, decoded.Submission.BatchID)
		s.Equal(ev.Students, decoded.Submission.Students)
		s.Equal(ev.Metadata, decoded.Submission.Metadata)
	})

	s.Run("records the batch when a store is configured", func() {
		s.SetupTest()
		s.mockStore.EXPECT().SaveBatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub *models.SubmissionEvent) error {
				s.Len(sub.Students, 2)
				s.NotEmpty(sub.MessageID)
				return nil
			})

		_, _, err := s.newService(s.memBus, WithStore(s.mockStore)).Submit(context.Background(), validRequest())
		s.NoError(err)
	})

	s.Run("padded fields are published and stored trimmed", func() {
		s.SetupTest()
		ctx := context.Background()
		req := validRequest()
		req.Metadata.BatchName = " Class of 2024 "
		req.Students[0].FirstName = "Ada "
		req.Students[0].Course = "  Mathematics"
		req.Students[0].GPA = " 3.9"

		var stored *models.SubmissionEvent
		s.mockStore.EXPECT().SaveBatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub *models.SubmissionEvent) error {
				stored = sub
				return nil
			})

		ev, _, err := s.newService(s.memBus, WithStore(s.mockStore)).Submit(ctx, req)
		s.Require().NoError(err)
		s.Require().NotNil(stored)
		s.Equal("Ada", stored.Students[0].FirstName)
		s.Equal("Mathematics", stored.Students[0].Course)
		s.Equal("Class of 2024", ev.Metadata.BatchName)

		envs, err := s.memBus.ListMessages(ctx, bus.Filter{}, 0)
		s.Require().NoError(err)
		payload, err := s.memBus.FetchPayload(ctx, envs[0].PayloadRefs[0])
		s.Require().NoError(err)
		decoded, err := decoder.New().Decode(envs[0], [][]byte{payload})
		s.Require().NoError(err)
		s.Equal(hashing.HashStudent(stored.Students[0]), hashing.HashStudent(decoded.Submission.Students[0]))
		s.Equal(stored.Students, decoded.Submission.Students)
	})

	s.Run("request time stamps the batch when no clock is fixed", func() {
		s.SetupTest()
		requestTime := time.Date(2024, 7, 15, 12, 30, 0, 0, time.UTC)
		ctx := requestcontext.WithTime(context.Background(), requestTime)

		ev, _, err := s.newService(s.memBus, WithClock(nil)).Submit(ctx, validRequest())
		s.Require().NoError(err)
		s.True(requestTime.Equal(ev.SubmittedAt))
		s.Contains(ev.BatchID.String(), "BATCH_1721046600000_")
	})

	s.Run("store failure does not fail a published batch", func() {
		s.SetupTest()
		s.mockStore.EXPECT().SaveBatch(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

		_, _, err := s.newService(s.memBus, WithStore(s.mockStore)).Submit(context.Background(), validRequest())
		s.NoError(err)
		s.Equal(1, s.memBus.Len())
	})
}

func (s *SubmissionSuite) TestSubmitValidation() {
	s.Run("missing metadata fields are all reported", func() {
		s.SetupTest()
		req := validRequest()
		req.Metadata.Semester = ""
		req.Metadata.ContactEmail = " "

		_, _, err := s.newService(s.mockBus).Submit(context.Background(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal([]string{"semester", "contactEmail"}, dErrors.MissingFields(err))
	})

	s.Run("empty batch is rejected", func() {
		s.SetupTest()
		req := validRequest()
		req.Students = nil

		_, _, err := s.newService(s.mockBus).Submit(context.Background(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("student without email is rejected", func() {
		s.SetupTest()
		req := validRequest()
		req.Students[1].Email = ""

		_, _, err := s.newService(s.mockBus).Submit(context.Background(), req)
		s.Equal([]string{"email"}, dErrors.MissingFields(err))
	})
}

func (s *SubmissionSuite) TestSubmitBusFailures() {
	s.Run("unknown recipient is not found", func() {
		s.SetupTest()
		req := validRequest()
		req.Recipient = "Nowhere College"

		_, _, err := s.newService(s.memBus).Submit(context.Background(), req)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		var notFound *bus.OrgNotFoundError
		s.Require().ErrorAs(err, &notFound)
		s.Contains(notFound.Known, issuerOrg.Name)
		s.Zero(s.memBus.Len())
	})

	s.Run("publish outage is unavailable", func() {
		s.SetupTest()
		s.mockBus.EXPECT().ResolveIdentity(gomock.Any(), issuerOrg.Name).Return(issuerOrg, nil)
		s.mockBus.EXPECT().Publish(gomock.Any(), gomock.Any(), issuerOrg).
			Return(domain.MessageID(""), bus.NewTransportError("publish", errors.New("connection refused")))

		_, _, err := s.newService(s.mockBus).Submit(context.Background(), validRequest())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}
