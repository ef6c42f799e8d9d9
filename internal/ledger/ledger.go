// Package ledger folds decoded bus events into per-batch projections.
//
// The fold is rebuilt from the full event history on every pass. Submissions
// are immutable facts: the earliest one seen for a batch id wins. Issuance
// certificates are merged with union semantics keyed by student, so duplicate
// or re-ordered delivery yields the same projection.
package ledger

import (
	"sort"
	"strings"
	"time"

	"certbridge/internal/batch/models"
	"certbridge/internal/decoder"
	id "certbridge/pkg/domain"
)

// Projection is the reconciled view of one batch.
type Projection struct {
	BatchID    id.BatchID
	Submission *models.SubmissionEvent

	// Certified holds matched certificates keyed by submitted student id.
	// For orphans it holds every recovered certificate.
	Certified map[id.StudentID]models.CertificateRef
	// Unmatched holds certificates naming students absent from the submission.
	Unmatched []models.CertificateRef

	IssuanceSeen  bool
	IssuedAt      time.Time
	TransactionID string
	BatchName     string
	Orphan        bool
}

// StudentsTotal is the number of submitted students, or for orphans the
// number of distinct certified students.
func (p *Projection) StudentsTotal() int {
	if p.Submission != nil {
		return len(p.Submission.Students)
	}
	return len(p.Certified)
}

// StudentsCertified is the number of distinct students holding a certificate.
func (p *Projection) StudentsCertified() int {
	return len(p.Certified)
}

// Name returns the best known display name of the batch.
func (p *Projection) Name() string {
	if p.Submission != nil && p.Submission.Metadata.BatchName != "" {
		return p.Submission.Metadata.BatchName
	}
	return p.BatchName
}

// Certificates returns certified refs sorted by student id.
func (p *Projection) Certificates() []models.CertificateRef {
	out := make([]models.CertificateRef, 0, len(p.Certified))
	for _, ref := range p.Certified {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Ledger maps batch ids to projections.
type Ledger map[id.BatchID]*Projection

// BatchIDs returns the keys in sorted order.
func (l Ledger) BatchIDs() []id.BatchID {
	ids := make([]id.BatchID, 0, len(l))
	for k := range l {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// certEntry remembers when a certificate was issued so conflicting refs for
// the same student resolve the same way regardless of delivery order.
type certEntry struct {
	ref      models.CertificateRef
	issuedAt time.Time
}

func (e certEntry) supersedes(other certEntry) bool {
	if !e.issuedAt.Equal(other.issuedAt) {
		return e.issuedAt.After(other.issuedAt)
	}
	return e.ref.CertificateID > other.ref.CertificateID
}

type accumulator struct {
	submission    *models.SubmissionEvent
	certs         map[string]certEntry
	issuanceSeen  bool
	issuedAt      time.Time
	transactionID string
	batchName     string
}

// certKey identifies a certificate's student. Refs without a student id
// fall back to the normalised student name.
func certKey(ref models.CertificateRef) string {
	if ref.StudentID != "" {
		return "id:" + string(ref.StudentID)
	}
	return "name:" + normaliseName(ref.StudentName)
}

func normaliseName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Fold builds the ledger from events in a single left-to-right pass over the
// stream ordered by origination time. The input slice is not modified.
func Fold(events []decoder.Event) Ledger {
	ordered := make([]decoder.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})

	accs := make(map[id.BatchID]*accumulator)
	get := func(batchID id.BatchID) *accumulator {
		acc, ok := accs[batchID]
		if !ok {
			acc = &accumulator{certs: make(map[string]certEntry)}
			accs[batchID] = acc
		}
		return acc
	}

	for _, ev := range ordered {
		switch ev.Kind {
		case decoder.KindSubmission:
			if ev.Submission == nil {
				continue
			}
			acc := get(ev.Submission.BatchID)
			if acc.submission == nil {
				acc.submission = ev.Submission
			}
		case decoder.KindIssuance:
			if ev.Issuance == nil {
				continue
			}
			applyIssuance(get(ev.Issuance.BatchID), ev.Issuance)
		}
	}

	ledger := make(Ledger, len(accs))
	for batchID, acc := range accs {
		ledger[batchID] = acc.project(batchID)
	}
	return ledger
}

func applyIssuance(acc *accumulator, iss *models.IssuanceEvent) {
	acc.issuanceSeen = true
	if iss.IssuedAt.After(acc.issuedAt) ||
		(iss.IssuedAt.Equal(acc.issuedAt) && iss.TransactionID > acc.transactionID) {
		acc.issuedAt = iss.IssuedAt
		acc.transactionID = iss.TransactionID
	}
	if acc.batchName == "" || (iss.BatchName != "" && iss.BatchName < acc.batchName) {
		acc.batchName = iss.BatchName
	}
	for _, ref := range iss.CertificateRefs {
		entry := certEntry{ref: ref, issuedAt: iss.IssuedAt}
		key := certKey(ref)
		if existing, ok := acc.certs[key]; !ok || entry.supersedes(existing) {
			acc.certs[key] = entry
		}
	}
}

func (acc *accumulator) project(batchID id.BatchID) *Projection {
	p := &Projection{
		BatchID:       batchID,
		Submission:    acc.submission,
		Certified:     make(map[id.StudentID]models.CertificateRef),
		IssuanceSeen:  acc.issuanceSeen,
		IssuedAt:      acc.issuedAt,
		TransactionID: acc.transactionID,
		BatchName:     acc.batchName,
	}

	keys := make([]string, 0, len(acc.certs))
	for k := range acc.certs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if acc.submission == nil {
		p.Orphan = true
		for _, k := range keys {
			ref := acc.certs[k].ref
			sid := ref.StudentID
			if sid == "" {
				sid = id.StudentID(k)
			}
			p.Certified[sid] = ref
		}
		return p
	}

	// A name shared by several students identifies none of them; refs
	// carrying only that name stay unmatched.
	byName := make(map[string]id.StudentID, len(acc.submission.Students))
	ambiguous := make(map[string]struct{})
	submitted := make(map[id.StudentID]struct{}, len(acc.submission.Students))
	for _, s := range acc.submission.Students {
		submitted[s.StudentID] = struct{}{}
		name := normaliseName(s.FullName())
		if prev, seen := byName[name]; seen && prev != s.StudentID {
			ambiguous[name] = struct{}{}
		}
		byName[name] = s.StudentID
	}
	for name := range ambiguous {
		delete(byName, name)
	}
	for _, k := range keys {
		ref := acc.certs[k].ref
		sid := ref.StudentID
		if sid == "" {
			sid = byName[normaliseName(ref.StudentName)]
		}
		if _, ok := submitted[sid]; !ok || sid == "" {
			p.Unmatched = append(p.Unmatched, ref)
			continue
		}
		if existing, dup := p.Certified[sid]; dup && existing.CertificateID >= ref.CertificateID {
			continue
		}
		p.Certified[sid] = ref
	}
	return p
}
