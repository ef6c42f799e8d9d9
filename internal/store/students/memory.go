// Package students persists submitted students and their canonical hashes.
// It backs the fast paths: verification by hash and single-batch statistics
// without a bus replay. The bus stays the source of truth.
package students

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"certbridge/internal/batch/models"
	"certbridge/internal/hashing"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
)

type storedStudent struct {
	record      models.StudentRecord
	hash        string
	certificate *models.CertificateRef
	certifiedAt time.Time
}

type storedBatch struct {
	sub           models.SubmissionEvent
	students      map[id.StudentID]*storedStudent
	issuedAt      *time.Time
	transactionID string
}

// InMemoryStore is the dev-mode and test implementation of the student store.
type InMemoryStore struct {
	mu      sync.RWMutex
	batches map[id.BatchID]*storedBatch
	byHash  map[string][]studentKey
}

type studentKey struct {
	batchID   id.BatchID
	studentID id.StudentID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		batches: make(map[id.BatchID]*storedBatch),
		byHash:  make(map[string][]studentKey),
	}
}

func (s *InMemoryStore) SaveBatch(_ context.Context, sub *models.SubmissionEvent) error {
	if sub == nil {
		return fmt.Errorf("submission is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[sub.BatchID]
	if !ok {
		b = &storedBatch{sub: *sub, students: make(map[id.StudentID]*storedStudent, len(sub.Students))}
		b.sub.Students = nil
		s.batches[sub.BatchID] = b
	}
	for _, st := range sub.Students {
		if _, exists := b.students[st.StudentID]; exists {
			continue
		}
		hash := hashing.HashStudent(st)
		b.students[st.StudentID] = &storedStudent{record: st, hash: hash}
		s.byHash[hash] = append(s.byHash[hash], studentKey{batchID: sub.BatchID, studentID: st.StudentID})
	}
	return nil
}

func (s *InMemoryStore) RecordIssuance(_ context.Context, iss *models.IssuanceEvent) error {
	if iss == nil {
		return fmt.Errorf("issuance is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[iss.BatchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", iss.BatchID, sentinel.ErrNotFound)
	}
	issuedAt := iss.IssuedAt.UTC()
	if b.issuedAt == nil || b.issuedAt.Before(issuedAt) ||
		(b.issuedAt.Equal(issuedAt) && b.transactionID < iss.TransactionID) {
		b.issuedAt = &issuedAt
		b.transactionID = iss.TransactionID
	}
	for _, ref := range iss.CertificateRefs {
		st, ok := b.students[ref.StudentID]
		if !ok {
			continue
		}
		if st.certificate != nil && st.certifiedAt.After(issuedAt) {
			continue
		}
		st.certificate = &ref
		st.certifiedAt = issuedAt
	}
	return nil
}

func (s *InMemoryStore) FindStudentByHash(_ context.Context, hash string) (*models.StudentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byHash[hash]
	if len(keys) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sorted := append([]studentKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].batchID < sorted[j].batchID })
	rec := s.batches[sorted[0].batchID].students[sorted[0].studentID].record
	return &rec, nil
}

func (s *InMemoryStore) FindBatchStatistics(_ context.Context, batchID id.BatchID) (*models.BatchStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	stats := &models.BatchStatistics{
		BatchID:       batchID,
		SubmittedBy:   b.sub.SubmittedBy,
		SubmittedAt:   b.sub.SubmittedAt,
		Metadata:      b.sub.Metadata,
		StudentsTotal: len(b.students),
		TransactionID: b.transactionID,
	}
	if b.issuedAt != nil {
		t := *b.issuedAt
		stats.IssuedAt = &t
	}
	for _, st := range b.students {
		if st.certificate != nil {
			stats.StudentsCertified++
		}
	}
	return stats, nil
}

// Certificate returns the certificate recorded for a student, if any.
func (s *InMemoryStore) Certificate(batchID id.BatchID, studentID id.StudentID) (models.CertificateRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return models.CertificateRef{}, false
	}
	st, ok := b.students[studentID]
	if !ok || st.certificate == nil {
		return models.CertificateRef{}, false
	}
	return *st.certificate, true
}
