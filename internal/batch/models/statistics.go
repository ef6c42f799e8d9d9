package models

import (
	"time"

	id "certbridge/pkg/domain"
)

// BatchStatistics is the persisted summary of a batch kept by the student
// store. It lets single-batch lookups skip a full bus replay.
type BatchStatistics struct {
	BatchID           id.BatchID
	SubmittedBy       string
	SubmittedAt       time.Time
	Metadata          BatchMetadata
	StudentsTotal     int
	StudentsCertified int
	IssuedAt          *time.Time
	TransactionID     string
}

// Status derives the lifecycle state from the persisted counts.
func (s BatchStatistics) Status() Status {
	return DeriveStatus(s.StudentsTotal, s.StudentsCertified, s.IssuedAt != nil)
}
