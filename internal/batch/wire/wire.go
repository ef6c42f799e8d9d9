// Package wire holds the JSON shapes exchanged over the bus. Field names are
// fixed by existing peers and must be produced verbatim.
package wire

import (
	"encoding/json"
	"time"

	"certbridge/internal/batch/models"
	id "certbridge/pkg/domain"
)

// Message type tags.
const (
	TypeSubmissionWithMetadata = "STUDENT_BATCH_SUBMISSION_WITH_METADATA"
	TypeSubmission             = "STUDENT_BATCH_SUBMISSION"
	TypeStudentBatch           = "STUDENT_BATCH"
	TypeCertificatesIssued     = "CERTIFICATE_PDFS_ISSUED"
	TypeCertificatesIssuedOld  = "CERTIFICATES_ISSUED"
)

// SubmissionTypes are the tags recognised as batch submissions.
var SubmissionTypes = map[string]bool{
	TypeSubmissionWithMetadata: true,
	TypeSubmission:             true,
	TypeStudentBatch:           true,
}

// IssuanceTypes are the tags recognised as certificate issuance.
var IssuanceTypes = map[string]bool{
	TypeCertificatesIssued:    true,
	TypeCertificatesIssuedOld: true,
}

// SubmissionPayload is the canonical outbound submission message.
type SubmissionPayload struct {
	Type      string     `json:"type"`
	Batch     BatchBlock `json:"batch"`
	Timestamp string     `json:"timestamp"`
}

// BatchBlock is the nested batch object of a submission.
type BatchBlock struct {
	BatchID       string                 `json:"batch_id"`
	SubmittedAt   string                 `json:"submitted_at"`
	SubmittedBy   string                 `json:"submitted_by"`
	Metadata      models.BatchMetadata   `json:"metadata"`
	Students      []models.StudentRecord `json:"students"`
	TotalStudents int                    `json:"total_students"`
}

// IssuancePayload is the canonical certificate issuance message.
type IssuancePayload struct {
	Type               string           `json:"type"`
	From               string           `json:"from"`
	To                 string           `json:"to"`
	BatchID            string           `json:"batch_id"`
	BatchName          string           `json:"batch_name"`
	IssuedAt           string           `json:"issued_at"`
	CardanoTxID        string           `json:"cardano_tx_id"`
	CertificatePDFRefs []CertificatePDF `json:"certificate_pdf_refs"`
	TotalCertificates  int              `json:"total_certificates"`
}

// CertificatePDF references one issued certificate.
type CertificatePDF struct {
	StudentID       string `json:"student_id"`
	StudentName     string `json:"student_name"`
	CertificateID   string `json:"certificate_id"`
	CertificateHash string `json:"certificate_hash"`
	PDFDataID       string `json:"pdf_data_id"`
	PDFDataHash     string `json:"pdf_data_hash"`
}

// EncodeSubmission renders ev in the canonical submission shape.
func EncodeSubmission(ev *models.SubmissionEvent) ([]byte, error) {
	submitted := ev.SubmittedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(SubmissionPayload{
		Type: TypeSubmissionWithMetadata,
		Batch: BatchBlock{
			BatchID:       ev.BatchID.String(),
			SubmittedAt:   submitted,
			SubmittedBy:   ev.SubmittedBy,
			Metadata:      ev.Metadata,
			Students:      ev.Students,
			TotalStudents: len(ev.Students),
		},
		Timestamp: submitted,
	})
}

// EncodeIssuance renders ev in the canonical issuance shape.
func EncodeIssuance(ev *models.IssuanceEvent) ([]byte, error) {
	refs := make([]CertificatePDF, 0, len(ev.CertificateRefs))
	for _, r := range ev.CertificateRefs {
		refs = append(refs, CertificatePDF{
			StudentID:       r.StudentID.String(),
			StudentName:     r.StudentName,
			CertificateID:   r.CertificateID,
			CertificateHash: r.CertificateHash,
			PDFDataID:       r.PDFDataRef,
			PDFDataHash:     r.PDFDataHash,
		})
	}
	return json.Marshal(IssuancePayload{
		Type:               TypeCertificatesIssued,
		From:               ev.From,
		To:                 ev.To,
		BatchID:            ev.BatchID.String(),
		BatchName:          ev.BatchName,
		IssuedAt:           ev.IssuedAt.UTC().Format(time.RFC3339Nano),
		CardanoTxID:        ev.TransactionID,
		CertificatePDFRefs: refs,
		TotalCertificates:  len(refs),
	})
}

// ToCertificateRef converts a wire reference to the domain type.
func (c CertificatePDF) ToCertificateRef() models.CertificateRef {
	return models.CertificateRef{
		StudentID:       id.StudentID(c.StudentID),
		StudentName:     c.StudentName,
		CertificateID:   c.CertificateID,
		CertificateHash: c.CertificateHash,
		PDFDataRef:      c.PDFDataID,
		PDFDataHash:     c.PDFDataHash,
	}
}
