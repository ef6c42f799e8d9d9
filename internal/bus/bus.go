// Package bus defines the private-messaging collaborator the reconciliation
// core reads from and publishes to. Implementations live in subpackages
// (memory for dev and tests, kafka for deployments); retry wraps either.
package bus

//go:generate mockgen -source=bus.go -destination=mocks/mocks.go -package=mocks Bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	id "certbridge/pkg/domain"
	dErrors "certbridge/pkg/domain-errors"
	"certbridge/pkg/platform/sentinel"
)

// MessageType filters the listing. Only private messages carry batch traffic.
type MessageType string

const (
	MessageTypePrivate   MessageType = "private"
	MessageTypeBroadcast MessageType = "broadcast"
)

// PayloadRef points at a payload blob held by the bus data store.
type PayloadRef string

// Envelope is the transport view of one message. IsLocal is a hint only;
// it is unreliable for historical traffic and must not drive classification.
type Envelope struct {
	ID             id.MessageID `json:"id"`
	Type           MessageType  `json:"type"`
	CreatedAt      time.Time    `json:"created_at"`
	AuthorIdentity string       `json:"author"`
	Recipient      string       `json:"recipient,omitempty"`
	IsLocal        bool         `json:"is_local"`
	PayloadRefs    []PayloadRef `json:"payload_refs"`
}

// Identity is a directory entry for an organization on the bus.
type Identity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Filter narrows ListMessages.
type Filter struct {
	Type MessageType
}

// Bus is the capability set the core needs from the messaging network.
//
// ListMessages returns envelopes oldest first. A positive limit keeps the
// newest limit envelopes.
type Bus interface {
	ListMessages(ctx context.Context, filter Filter, limit int) ([]Envelope, error)
	FetchPayload(ctx context.Context, ref PayloadRef) ([]byte, error)
	Publish(ctx context.Context, payload []byte, recipient Identity) (id.MessageID, error)
	ResolveIdentity(ctx context.Context, orgName string) (Identity, error)
}

// TransportError reports that the bus could not be reached or did not answer
// in time. It unwraps to sentinel.ErrUnavailable or sentinel.ErrTimeout so
// services can classify it without knowing the implementation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError classifies err. Deadline overruns become ErrTimeout;
// everything else becomes ErrUnavailable. Caller cancellation is returned
// unchanged so it is never mistaken for an outage.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %w", sentinel.ErrTimeout, err)}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// OrgNotFoundError is returned when an organization name is unknown to the
// directory. Known lists the registered names to aid debugging.
type OrgNotFoundError struct {
	Org   string
	Known []string
}

func (e *OrgNotFoundError) Error() string {
	return fmt.Sprintf("organization %q not found; known organizations: [%s]", e.Org, strings.Join(e.Known, ", "))
}

func (e *OrgNotFoundError) Unwrap() error {
	return sentinel.ErrNotFound
}

// DomainError translates a bus failure on a publish path into a coded
// error. Coded errors and caller cancellation pass through unchanged.
func DomainError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) || errors.Is(err, context.Canceled) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
