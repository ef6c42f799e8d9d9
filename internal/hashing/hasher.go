// Package hashing computes the content-addressed fingerprint that proves a
// certificate's student data was not altered after submission.
//
// The canonical form is a JSON object holding exactly the seven hashed
// fields, keys sorted lexicographically, no insignificant whitespace and no
// HTML escaping. The digest is SHA-256, rendered as lowercase hex.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"certbridge/internal/batch/models"
)

// canonicalStudent holds the hashed fields in lexicographic key order.
// encoding/json emits struct fields in declaration order, so the order here
// is the canonical order and must not change.
type canonicalStudent struct {
	Course         string     `json:"course"`
	FirstName      string     `json:"firstName"`
	GPA            models.GPA `json:"gpa"`
	GraduationDate string     `json:"graduationDate"`
	LastName       string     `json:"lastName"`
	StudentID      string     `json:"studentId"`
	University     string     `json:"university"`
}

// Canonical returns the exact bytes that are digested for r.
func Canonical(r models.StudentRecord) []byte {
	c := canonicalStudent{
		Course:         r.Course,
		FirstName:      r.FirstName,
		GPA:            r.GPA,
		GraduationDate: r.GraduationDate,
		LastName:       r.LastName,
		StudentID:      string(r.StudentID),
		University:     r.University,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(c)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// HashStudent returns the lowercase hex SHA-256 of the canonical record.
// Callers validate completeness first (models.StudentRecord.ValidateForHash).
func HashStudent(r models.StudentRecord) string {
	sum := sha256.Sum256(Canonical(r))
	return hex.EncodeToString(sum[:])
}

// HashBatch digests the concatenated student hashes in caller order. Order
// is significant: reordering students changes the batch hash.
func HashBatch(records []models.StudentRecord) string {
	var sb strings.Builder
	sb.Grow(len(records) * sha256.Size * 2)
	for _, r := range records {
		sb.WriteString(HashStudent(r))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the record hash and compares it with claimed for exact
// equality. This is an integrity check, not a secret comparison.
func Verify(r models.StudentRecord, claimed string) bool {
	return HashStudent(r) == claimed
}
