package students

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certbridge/internal/batch/models"
	"certbridge/internal/hashing"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

var submittedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func student(sid string) models.StudentRecord {
	return models.StudentRecord{
		StudentID:      id.StudentID(sid),
		FirstName:      "First" + sid,
		LastName:       "Last" + sid,
		Email:          sid + "@example.edu",
		Course:         "Physics",
		GraduationDate: "2024-06-30",
		GPA:            "3.25",
		University:     "Example University",
	}
}

func submission(batchID string, sids ...string) *models.SubmissionEvent {
	sub := &models.SubmissionEvent{
		BatchID:     id.BatchID(batchID),
		SubmittedAt: submittedAt,
		SubmittedBy: "Sender University",
		Metadata:    models.BatchMetadata{BatchName: "Cohort " + batchID, Faculty: "Science"},
	}
	for _, sid := range sids {
		sub.Students = append(sub.Students, student(sid))
	}
	return sub
}

func issuance(batchID string, at time.Time, tx string, sids ...string) *models.IssuanceEvent {
	iss := &models.IssuanceEvent{BatchID: id.BatchID(batchID), IssuedAt: at, TransactionID: tx}
	for _, sid := range sids {
		iss.CertificateRefs = append(iss.CertificateRefs, models.CertificateRef{
			StudentID:     id.StudentID(sid),
			CertificateID: tx + "-" + sid,
		})
	}
	return iss
}

func (s *InMemoryStoreSuite) TestSaveAndFindByHash() {
	s.Require().NoError(s.store.SaveBatch(s.ctx, submission("B1", "S1", "S2")))

	s.Run("known hash returns the record", func() {
		rec, err := s.store.FindStudentByHash(s.ctx, hashing.HashStudent(student("S2")))
		s.Require().NoError(err)
		s.Equal(student("S2"), *rec)
	})

	s.Run("unknown hash is not found", func() {
		_, err := s.store.FindStudentByHash(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("saving twice is a no-op", func() {
		s.Require().NoError(s.store.SaveBatch(s.ctx, submission("B1", "S1", "S2")))
		stats, err := s.store.FindBatchStatistics(s.ctx, "B1")
		s.Require().NoError(err)
		s.Equal(2, stats.StudentsTotal)
	})
}

func (s *InMemoryStoreSuite) TestBatchStatistics() {
	s.Require().NoError(s.store.SaveBatch(s.ctx, submission("B1", "S1", "S2", "S3", "S4")))

	s.Run("fresh batch is submitted", func() {
		stats, err := s.store.FindBatchStatistics(s.ctx, "B1")
		s.Require().NoError(err)
		s.Equal(4, stats.StudentsTotal)
		s.Equal(0, stats.StudentsCertified)
		s.Nil(stats.IssuedAt)
		s.Equal(models.StatusSubmitted, stats.Status())
		s.Equal("Science", stats.Metadata.Faculty)
	})

	s.Run("issuances are merged by student", func() {
		first := submittedAt.Add(time.Hour)
		second := submittedAt.Add(2 * time.Hour)
		s.Require().NoError(s.store.RecordIssuance(s.ctx, issuance("B1", second, "tx2", "S2", "S3")))
		s.Require().NoError(s.store.RecordIssuance(s.ctx, issuance("B1", first, "tx1", "S1", "S2", "UNKNOWN")))

		stats, err := s.store.FindBatchStatistics(s.ctx, "B1")
		s.Require().NoError(err)
		s.Equal(3, stats.StudentsCertified)
		s.Require().NotNil(stats.IssuedAt)
		s.Equal(second, *stats.IssuedAt)
		s.Equal("tx2", stats.TransactionID)
		s.Equal(models.StatusPartiallyCompleted, stats.Status())

		cert, ok := s.store.Certificate("B1", "S2")
		s.Require().True(ok)
		s.Equal("tx2-S2", cert.CertificateID, "older issuance must not overwrite a newer certificate")
	})

	s.Run("issuance for unknown batch is not found", func() {
		err := s.store.RecordIssuance(s.ctx, issuance("NOPE", submittedAt, "tx", "S1"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unknown batch statistics are not found", func() {
		_, err := s.store.FindBatchStatistics(s.ctx, "NOPE")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
