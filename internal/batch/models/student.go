package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
)

// StudentRecord is one graduating student. The seven identity fields
// (everything except Email) are immutable once submitted and form the
// canonical hash input.
type StudentRecord struct {
	StudentID      id.StudentID `json:"studentId"`
	FirstName      string       `json:"firstName"`
	LastName       string       `json:"lastName"`
	Email          string       `json:"email,omitempty"`
	Course         string       `json:"course"`
	GraduationDate string       `json:"graduationDate"`
	GPA            GPA          `json:"gpa"`
	University     string       `json:"university"`
}

// FullName joins first and last name the way issuers print it on certificates.
func (r StudentRecord) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Normalize trims surrounding whitespace from every field. Decoders trim
// what they read off the bus, so records are normalized before they are
// hashed, published or stored.
func (r StudentRecord) Normalize() StudentRecord {
	return StudentRecord{
		StudentID:      id.StudentID(strings.TrimSpace(string(r.StudentID))),
		FirstName:      strings.TrimSpace(r.FirstName),
		LastName:       strings.TrimSpace(r.LastName),
		Email:          strings.TrimSpace(r.Email),
		Course:         strings.TrimSpace(r.Course),
		GraduationDate: strings.TrimSpace(r.GraduationDate),
		GPA:            GPA(strings.TrimSpace(string(r.GPA))),
		University:     strings.TrimSpace(r.University),
	}
}

// MissingHashFields lists the hashed fields that are empty, in canonical
// field order.
func (r StudentRecord) MissingHashFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("course", r.Course)
	check("firstName", r.FirstName)
	check("gpa", r.GPA.String())
	check("graduationDate", r.GraduationDate)
	check("lastName", r.LastName)
	check("studentId", string(r.StudentID))
	check("university", r.University)
	return missing
}

// ValidateForHash fails when any hashed field is absent. A partial record
// would hash to a value indistinguishable from tampering.
func (r StudentRecord) ValidateForHash() error {
	if missing := r.MissingHashFields(); len(missing) > 0 {
		return dErrors.Missing("student record is missing required fields", missing...)
	}
	return nil
}

// ValidateForSubmission additionally requires a contact email.
func (r StudentRecord) ValidateForSubmission() error {
	missing := r.MissingHashFields()
	if strings.TrimSpace(r.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return dErrors.Missing("student "+string(r.StudentID)+" is missing required fields", missing...)
	}
	return nil
}

// GPA keeps the textual form of a grade point average as it was received.
// Payloads carry it either as a JSON number or a string; numeric values are
// re-emitted as numbers so hashes stay stable across both encodings.
type GPA string

func (g GPA) String() string { return string(g) }

// IsNumeric reports whether the value is a plain decimal number.
func (g GPA) IsNumeric() bool {
	if g == "" {
		return false
	}
	_, err := strconv.ParseFloat(string(g), 64)
	return err == nil && json.Valid([]byte(g))
}

// Canonical returns the shortest decimal form of a numeric GPA ("3.50" and
// 3.5 both become "3.5"); non-numeric values are returned unchanged.
func (g GPA) Canonical() string {
	if !g.IsNumeric() {
		return string(g)
	}
	f, _ := strconv.ParseFloat(string(g), 64)
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (g GPA) MarshalJSON() ([]byte, error) {
	if g.IsNumeric() {
		return []byte(g.Canonical()), nil
	}
	return json.Marshal(string(g))
}

func (g *GPA) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*g = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = GPA(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*g = GPA(n.String())
	return nil
}
