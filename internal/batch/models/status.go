package models

// Status is the reconciled lifecycle state of a batch.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusProcessing         Status = "processing"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCompleted          Status = "completed"
	StatusCertificatesIssued Status = "certificates_issued"
	StatusUnknown            Status = "unknown"
)

// AllStatuses lists statuses in lifecycle order for stable reporting.
var AllStatuses = []Status{
	StatusSubmitted,
	StatusProcessing,
	StatusPartiallyCompleted,
	StatusCompleted,
	StatusCertificatesIssued,
	StatusUnknown,
}

// DeriveStatus maps certification counts to a status. issuanceSeen is true
// once any issuance message referenced the batch, even with zero matches.
func DeriveStatus(total, certified int, issuanceSeen bool) Status {
	switch {
	case total <= 0:
		return StatusUnknown
	case certified >= total:
		return StatusCompleted
	case certified > 0:
		return StatusPartiallyCompleted
	case issuanceSeen:
		return StatusProcessing
	default:
		return StatusSubmitted
	}
}

func (s Status) String() string { return string(s) }
