package core

import (
	"errors"
	"fmt"
)

// Machine-checkable refusal reasons carried by ProtocolViolation. Clients
// branch on these strings, so they are part of the wire contract.
const (
	ReasonMaxSteps          = "max_steps"
	ReasonPriceMismatch     = "price_mismatch"
	ReasonNegotiationClosed = "negotiation_closed"
)

var (
	// ErrUnauthorized is returned when a presented credential does not map
	// to any registered agent. Distinct from infra failures so callers can
	// tell "unknown key" apart from "registry unreachable".
	ErrUnauthorized = errors.New("invalid credential")

	// ErrAgentNotFound is returned when an agent id does not exist in the
	// registry.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrOfferNotFound is returned when an offer id does not exist in the
	// durable store.
	ErrOfferNotFound = errors.New("offer not found")
)

// AuthorizationError wraps a failure to establish identity. Fail closed: an
// unreachable registry authorizes nothing.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ValidationError reports a malformed request rejected before any state
// mutation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// ProtocolViolation is a hard refusal of a negotiation action: step limit
// exceeded, price integrity failure or an action against a closed
// negotiation. Reason holds one of the Reason* constants.
type ProtocolViolation struct {
	NegotiationID string
	Reason        string
	Detail        string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation (%s) on %s: %s", e.Reason, e.NegotiationID, e.Detail)
}

// TransientInfraError marks a backing store or feed failure that the boundary
// component may retry with bounded backoff. It is never swallowed at the
// protocol layer.
type TransientInfraError struct {
	Op  string
	Err error
}

func (e *TransientInfraError) Error() string {
	return fmt.Sprintf("transient infra error in %s: %v", e.Op, e.Err)
}

func (e *TransientInfraError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientInfraError.
func IsTransient(err error) bool {
	var t *TransientInfraError
	return errors.As(err, &t)
}
