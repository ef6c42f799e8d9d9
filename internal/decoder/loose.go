package decoder

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"certbridge/internal/batch/models"
	id "certbridge/pkg/domain"
)

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
	}
	return nil
}

func first(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// looseStudent accepts both camelCase and snake_case student keys.
type looseStudent struct {
	StudentID           flexString `json:"studentId"`
	StudentIDSnake      flexString `json:"student_id"`
	FirstName           flexString `json:"firstName"`
	FirstNameSnake      flexString `json:"first_name"`
	LastName            flexString `json:"lastName"`
	LastNameSnake       flexString `json:"last_name"`
	Email               flexString `json:"email"`
	Course              flexString `json:"course"`
	Program             flexString `json:"program"`
	GraduationDate      flexString `json:"graduationDate"`
	GraduationDateSnake flexString `json:"graduation_date"`
	GPA                 models.GPA `json:"gpa"`
	University          flexString `json:"university"`
}

func (s looseStudent) toRecord() models.StudentRecord {
	return models.StudentRecord{
		StudentID:      id.StudentID(first(s.StudentID, s.StudentIDSnake)),
		FirstName:      first(s.FirstName, s.FirstNameSnake),
		LastName:       first(s.LastName, s.LastNameSnake),
		Email:          first(s.Email),
		Course:         first(s.Course, s.Program),
		GraduationDate: first(s.GraduationDate, s.GraduationDateSnake),
		GPA:            s.GPA,
		University:     first(s.University),
	}
}

// looseMetadata accepts both key styles for batch metadata.
type looseMetadata struct {
	BatchName                   flexString `json:"batchName"`
	BatchNameSnake              flexString `json:"batch_name"`
	AcademicYear                flexString `json:"academicYear"`
	AcademicYearSnake           flexString `json:"academic_year"`
	Semester                    flexString `json:"semester"`
	GraduationCeremonyDate      flexString `json:"graduationCeremonyDate"`
	GraduationCeremonyDateSnake flexString `json:"graduation_ceremony_date"`
	Faculty                     flexString `json:"faculty"`
	ContactPerson               flexString `json:"contactPerson"`
	ContactPersonSnake          flexString `json:"contact_person"`
	ContactEmail                flexString `json:"contactEmail"`
	ContactEmailSnake           flexString `json:"contact_email"`
	Description                 flexString `json:"description"`
	Department                  flexString `json:"department"`
	SpecialNotes                flexString `json:"specialNotes"`
	SpecialNotesSnake           flexString `json:"special_notes"`
	ExpectedStudents            flexString `json:"expectedStudents"`
	ExpectedStudentsSnake       flexString `json:"expected_students"`
}

func (m looseMetadata) toMetadata() models.BatchMetadata {
	expected, _ := strconv.Atoi(first(m.ExpectedStudents, m.ExpectedStudentsSnake))
	return models.BatchMetadata{
		BatchName:              first(m.BatchName, m.BatchNameSnake),
		AcademicYear:           first(m.AcademicYear, m.AcademicYearSnake),
		Semester:               first(m.Semester),
		GraduationCeremonyDate: first(m.GraduationCeremonyDate, m.GraduationCeremonyDateSnake),
		Faculty:                first(m.Faculty),
		ContactPerson:          first(m.ContactPerson, m.ContactPersonSnake),
		ContactEmail:           first(m.ContactEmail, m.ContactEmailSnake),
		Description:            first(m.Description),
		Department:             first(m.Department),
		SpecialNotes:           first(m.SpecialNotes, m.SpecialNotesSnake),
		ExpectedStudents:       expected,
	}
}

// looseBatch covers the inner batch object of every submission shape.
type looseBatch struct {
	BatchID          flexString      `json:"batch_id"`
	BatchIDCamel     flexString      `json:"batchId"`
	BatchName        flexString      `json:"batch_name"`
	BatchNameCamel   flexString      `json:"batchName"`
	SubmittedAt      flexString      `json:"submitted_at"`
	SubmittedAtCamel flexString      `json:"submittedAt"`
	Timestamp        flexString      `json:"timestamp"`
	SubmittedBy      flexString      `json:"submitted_by"`
	SubmittedByCamel flexString      `json:"submittedBy"`
	Sender           flexString      `json:"sender"`
	Metadata         json.RawMessage `json:"metadata"`
	Students         json.RawMessage `json:"students"`
}

// looseIssuance covers current and older issuance payloads.
type looseIssuance struct {
	Type               string            `json:"type"`
	From               flexString        `json:"from"`
	To                 flexString        `json:"to"`
	BatchID            flexString        `json:"batch_id"`
	BatchIDCamel       flexString        `json:"batchId"`
	BatchName          flexString        `json:"batch_name"`
	BatchNameCamel     flexString        `json:"batchName"`
	IssuedAt           flexString        `json:"issued_at"`
	IssuedAtCamel      flexString        `json:"issuedAt"`
	CardanoTxID        flexString        `json:"cardano_tx_id"`
	TransactionID      flexString        `json:"transaction_id"`
	TransactionIDCamel flexString        `json:"transactionId"`
	CertificatePDFRefs []looseCertificate `json:"certificate_pdf_refs"`
	Certificates       []looseCertificate `json:"certificates"`
}

type looseCertificate struct {
	StudentID            flexString `json:"student_id"`
	StudentIDCamel       flexString `json:"studentId"`
	StudentName          flexString `json:"student_name"`
	StudentNameCamel     flexString `json:"studentName"`
	CertificateID        flexString `json:"certificate_id"`
	CertificateIDCamel   flexString `json:"certificateId"`
	CertificateHash      flexString `json:"certificate_hash"`
	CertificateHashCamel flexString `json:"certificateHash"`
	PDFDataID            flexString `json:"pdf_data_id"`
	PDFDataRefCamel      flexString `json:"pdfDataRef"`
	PDFDataHash          flexString `json:"pdf_data_hash"`
}

func (c looseCertificate) toRef() models.CertificateRef {
	return models.CertificateRef{
		StudentID:       id.StudentID(first(c.StudentID, c.StudentIDCamel)),
		StudentName:     first(c.StudentName, c.StudentNameCamel),
		CertificateID:   first(c.CertificateID, c.CertificateIDCamel),
		CertificateHash: first(c.CertificateHash, c.CertificateHashCamel),
		PDFDataRef:      first(c.PDFDataID, c.PDFDataRefCamel),
		PDFDataHash:     first(c.PDFDataHash),
	}
}

// parseTime accepts RFC 3339 strings and unix-millisecond numbers.
func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// isJSONArray and isJSONObject check raw values without decoding them.
func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
