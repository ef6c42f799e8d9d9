package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the message bus return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record, batch or organization does not exist
// - ErrUnavailable: bus, store or cache temporarily unreachable
// - ErrTimeout: a call exceeded its deadline
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrTimeout     = errors.New("timeout")
)
