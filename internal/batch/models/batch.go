package models

import (
	"strings"
	"time"

	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
)

// BatchMetadata describes a graduating cohort. The first seven fields are
// required before a batch is accepted for submission.
type BatchMetadata struct {
	BatchName              string `json:"batchName"`
	AcademicYear           string `json:"academicYear"`
	Semester               string `json:"semester"`
	GraduationCeremonyDate string `json:"graduationCeremonyDate"`
	Faculty                string `json:"faculty"`
	ContactPerson          string `json:"contactPerson"`
	ContactEmail           string `json:"contactEmail"`

	Description      string `json:"description,omitempty"`
	Department       string `json:"department,omitempty"`
	SpecialNotes     string `json:"specialNotes,omitempty"`
	ExpectedStudents int    `json:"expectedStudents,omitempty"`
}

// Normalize trims surrounding whitespace from the text fields.
func (m BatchMetadata) Normalize() BatchMetadata {
	m.BatchName = strings.TrimSpace(m.BatchName)
	m.AcademicYear = strings.TrimSpace(m.AcademicYear)
	m.Semester = strings.TrimSpace(m.Semester)
	m.GraduationCeremonyDate = strings.TrimSpace(m.GraduationCeremonyDate)
	m.Faculty = strings.TrimSpace(m.Faculty)
	m.ContactPerson = strings.TrimSpace(m.ContactPerson)
	m.ContactEmail = strings.TrimSpace(m.ContactEmail)
	m.Description = strings.TrimSpace(m.Description)
	m.Department = strings.TrimSpace(m.Department)
	m.SpecialNotes = strings.TrimSpace(m.SpecialNotes)
	return m
}

// Validate reports every missing required field at once.
func (m BatchMetadata) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("batchName", m.BatchName)
	check("academicYear", m.AcademicYear)
	check("semester", m.Semester)
	check("graduationCeremonyDate", m.GraduationCeremonyDate)
	check("faculty", m.Faculty)
	check("contactPerson", m.ContactPerson)
	check("contactEmail", m.ContactEmail)
	if len(missing) > 0 {
		return dErrors.Missing("batch metadata is missing required fields", missing...)
	}
	return nil
}

// SubmissionEvent records that a sender published a batch. It is created
// once and never mutated; the id is assigned before transmission.
type SubmissionEvent struct {
	BatchID     id.BatchID      `json:"batchId"`
	MessageID   id.MessageID    `json:"messageId,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	ReceivedAt  time.Time       `json:"receivedAt,omitempty"`
	SubmittedBy string          `json:"submittedBy"`
	Metadata    BatchMetadata   `json:"metadata"`
	Students    []StudentRecord `json:"students"`
}

// NewSubmissionEvent normalizes and validates metadata and students and
// assigns a fresh batch id. Empty batches are rejected so progress is always
// defined. The event holds normalized copies, which is the form the issuer
// decodes and hashes.
func NewSubmissionEvent(meta BatchMetadata, students []StudentRecord, submittedBy string, now time.Time) (*SubmissionEvent, error) {
	meta = meta.Normalize()
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, dErrors.Missing("batch must contain at least one student", "students")
	}
	seen := make(map[id.StudentID]struct{}, len(students))
	normalized := make([]StudentRecord, 0, len(students))
	for _, raw := range students {
		s := raw.Normalize()
		if err := s.ValidateForSubmission(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.StudentID]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, "duplicate student id "+string(s.StudentID))
		}
		seen[s.StudentID] = struct{}{}
		normalized = append(normalized, s)
	}
	return &SubmissionEvent{
		BatchID:     id.NewBatchID(now),
		SubmittedAt: now,
		SubmittedBy: submittedBy,
		Metadata:    meta,
		Students:    normalized,
	}, nil
}

// Student returns the submitted record for sid.
func (e *SubmissionEvent) Student(sid id.StudentID) (StudentRecord, bool) {
	for _, s := range e.Students {
		if s.StudentID == sid {
			return s, true
		}
	}
	return StudentRecord{}, false
}

// CertificateRef links one issued certificate to a student.
type CertificateRef struct {
	StudentID       id.StudentID `json:"studentId"`
	StudentName     string       `json:"studentName"`
	CertificateID   string       `json:"certificateId"`
	CertificateHash string       `json:"certificateHash"`
	PDFDataRef      string       `json:"pdfDataRef"`
	PDFDataHash     string       `json:"pdfDataHash,omitempty"`
}

// IssuanceEvent records that certificates were generated for some subset of
// a batch. BatchID may not match any known submission (orphan).
type IssuanceEvent struct {
	BatchID         id.BatchID       `json:"batchId"`
	BatchName       string           `json:"batchName,omitempty"`
	MessageID       id.MessageID     `json:"messageId,omitempty"`
	IssuedAt        time.Time        `json:"issuedAt"`
	ReceivedAt      time.Time        `json:"receivedAt,omitempty"`
	TransactionID   string           `json:"transactionId"`
	From            string           `json:"from,omitempty"`
	To              string           `json:"to,omitempty"`
	CertificateRefs []CertificateRef `json:"certificateRefs"`
}
