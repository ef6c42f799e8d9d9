package students

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"certbridge/internal/batch/models"
	"certbridge/internal/hashing"
	id "certbridge/pkg/domain"
	"certbridge/pkg/platform/sentinel"
	"certbridge/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// PostgresStore persists submitted batches and their students in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed student store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the store's tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate student store: %w", err)
	}
	return nil
}

const insertBatch = `
INSERT INTO batches (batch_id, submitted_by, submitted_at, metadata)
VALUES ($1, $2, $3, $4)
ON CONFLICT (batch_id) DO NOTHING`

const insertStudents = `
INSERT INTO students (batch_id, student_id, first_name, last_name, email, course,
                      graduation_date, gpa, university, student_hash)
SELECT $1, u.student_id, u.first_name, u.last_name, u.email, u.course,
       u.graduation_date, u.gpa, u.university, u.student_hash
FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
            $7::text[], $8::text[], $9::text[], $10::text[])
     AS u(student_id, first_name, last_name, email, course,
          graduation_date, gpa, university, student_hash)
ON CONFLICT (batch_id, student_id) DO NOTHING`

// SaveBatch stores a submission and the canonical hash of every student.
// Saving the same batch again is a no-op.
func (s *PostgresStore) SaveBatch(ctx context.Context, sub *models.SubmissionEvent) error {
	if sub == nil {
		return fmt.Errorf("submission is required")
	}
	meta, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("marshal batch metadata: %w", err)
	}

	n := len(sub.Students)
	cols := make([][]string, 9)
	for i := range cols {
		cols[i] = make([]string, 0, n)
	}
	for _, st := range sub.Students {
		cols[0] = append(cols[0], string(st.StudentID))
		cols[1] = append(cols[1], st.FirstName)
		cols[2] = append(cols[2], st.LastName)
		cols[3] = append(cols[3], st.Email)
		cols[4] = append(cols[4], st.Course)
		cols[5] = append(cols[5], st.GraduationDate)
		cols[6] = append(cols[6], st.GPA.String())
		cols[7] = append(cols[7], st.University)
		cols[8] = append(cols[8], hashing.HashStudent(st))
	}

	return tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		if _, err := exec.ExecContext(ctx, insertBatch,
			sub.BatchID.String(), sub.SubmittedBy, sub.SubmittedAt.UTC(), meta,
		); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		args := []any{sub.BatchID.String()}
		for _, col := range cols {
			args = append(args, pq.Array(col))
		}
		if _, err := exec.ExecContext(ctx, insertStudents, args...); err != nil {
			return fmt.Errorf("save batch students: %w", err)
		}
		return nil
	})
}

const updateBatchIssuance = `
UPDATE batches
SET issued_at = $2, transaction_id = $3
WHERE batch_id = $1
  AND (issued_at IS NULL OR issued_at < $2 OR (issued_at = $2 AND transaction_id < $3))`

const updateStudentCertificates = `
UPDATE students AS st
SET certificate_id = u.certificate_id,
    certificate_hash = u.certificate_hash,
    pdf_data_ref = u.pdf_data_ref,
    certified_at = $2
FROM unnest($3::text[], $4::text[], $5::text[], $6::text[])
     AS u(student_id, certificate_id, certificate_hash, pdf_data_ref)
WHERE st.batch_id = $1
  AND st.student_id = u.student_id
  AND (st.certified_at IS NULL OR st.certified_at <= $2)`

// RecordIssuance marks the referenced students as certified. Issuances are
// merged: an older issuance never overwrites a newer one.
func (s *PostgresStore) RecordIssuance(ctx context.Context, iss *models.IssuanceEvent) error {
	if iss == nil {
		return fmt.Errorf("issuance is required")
	}
	studentIDs := make([]string, 0, len(iss.CertificateRefs))
	certIDs := make([]string, 0, len(iss.CertificateRefs))
	certHashes := make([]string, 0, len(iss.CertificateRefs))
	pdfRefs := make([]string, 0, len(iss.CertificateRefs))
	for _, ref := range iss.CertificateRefs {
		if ref.StudentID == "" {
			continue
		}
		studentIDs = append(studentIDs, string(ref.StudentID))
		certIDs = append(certIDs, ref.CertificateID)
		certHashes = append(certHashes, ref.CertificateHash)
		pdfRefs = append(pdfRefs, ref.PDFDataRef)
	}
	issuedAt := iss.IssuedAt.UTC()

	return tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		var exists bool
		err := exec.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM batches WHERE batch_id = $1)`, iss.BatchID.String(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check batch: %w", err)
		}
		if !exists {
			return fmt.Errorf("batch %s: %w", iss.BatchID, sentinel.ErrNotFound)
		}
		if _, err := exec.ExecContext(ctx, updateBatchIssuance,
			iss.BatchID.String(), issuedAt, iss.TransactionID,
		); err != nil {
			return fmt.Errorf("record batch issuance: %w", err)
		}
		if _, err := exec.ExecContext(ctx, updateStudentCertificates,
			iss.BatchID.String(), issuedAt,
			pq.Array(studentIDs), pq.Array(certIDs), pq.Array(certHashes), pq.Array(pdfRefs),
		); err != nil {
			return fmt.Errorf("record student certificates: %w", err)
		}
		return nil
	})
}

const selectStudentByHash = `
SELECT student_id, first_name, last_name, email, course, graduation_date, gpa, university
FROM students
WHERE student_hash = $1
ORDER BY batch_id
LIMIT 1`

func (s *PostgresStore) FindStudentByHash(ctx context.Context, hash string) (*models.StudentRecord, error) {
	var rec models.StudentRecord
	var studentID, gpa string
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, selectStudentByHash, hash).Scan(
		&studentID, &rec.FirstName, &rec.LastName, &rec.Email,
		&rec.Course, &rec.GraduationDate, &gpa, &rec.University,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find student by hash: %w", err)
	}
	rec.StudentID = id.StudentID(studentID)
	rec.GPA = models.GPA(gpa)
	return &rec, nil
}

const selectBatchStatistics = `
SELECT b.submitted_by, b.submitted_at, b.metadata, b.issued_at, b.transaction_id,
       COUNT(s.student_id), COUNT(s.certified_at)
FROM batches b
LEFT JOIN students s ON s.batch_id = b.batch_id
WHERE b.batch_id = $1
GROUP BY b.batch_id`

func (s *PostgresStore) FindBatchStatistics(ctx context.Context, batchID id.BatchID) (*models.BatchStatistics, error) {
	stats := models.BatchStatistics{BatchID: batchID}
	var meta []byte
	var issuedAt sql.NullTime
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, selectBatchStatistics, batchID.String()).Scan(
		&stats.SubmittedBy, &stats.SubmittedAt, &meta, &issuedAt, &stats.TransactionID,
		&stats.StudentsTotal, &stats.StudentsCertified,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find batch statistics: %w", err)
	}
	if err := json.Unmarshal(meta, &stats.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal batch metadata: %w", err)
	}
	stats.SubmittedAt = stats.SubmittedAt.UTC()
	if issuedAt.Valid {
		t := issuedAt.Time.UTC()
		stats.IssuedAt = &t
	}
	return &stats, nil
}

// Ping reports whether the database answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
