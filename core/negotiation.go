package core

import (
	"sort"
	"time"
)

// Action is one move within a negotiation.
type Action string

const (
	// ActionCounter proposes a new price, keeping the negotiation open.
	ActionCounter Action = "COUNTER"
	// ActionAccept commits the negotiation at the counterparty's price.
	ActionAccept Action = "ACCEPT"
	// ActionReject terminates the negotiation without a transaction.
	ActionReject Action = "REJECT"
)

// Valid reports whether the action is one of the three known moves.
func (a Action) Valid() bool {
	return a == ActionCounter || a == ActionAccept || a == ActionReject
}

// Terminal reports whether the action concludes a negotiation.
func (a Action) Terminal() bool { return a == ActionAccept || a == ActionReject }

// ProposalEvent is one logged move within a negotiation. The event log is
// append-only; a negotiation's state is derived from it, never stored.
// Invariant: at most one terminal event per negotiation id.
type ProposalEvent struct {
	NegotiationID string    `json:"negotiation_id"`
	OfferID       string    `json:"offer_id"`
	Product       string    `json:"product,omitempty"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Action        Action    `json:"action"`
	Price         float64   `json:"price"`
	Quantity      int       `json:"quantity"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NegotiationStatus is derived from an event log, never persisted.
type NegotiationStatus string

const (
	// NegotiationStatusOpen has no terminal event and is under the step
	// limit.
	NegotiationStatusOpen NegotiationStatus = "OPEN"
	// NegotiationStatusStepLimitReached has no terminal event but no room
	// for further counters; only ACCEPT or REJECT remain possible.
	NegotiationStatusStepLimitReached NegotiationStatus = "STEP_LIMIT_REACHED"
	// NegotiationStatusCompleted holds an ACCEPT event.
	NegotiationStatusCompleted NegotiationStatus = "COMPLETED"
	// NegotiationStatusTerminated holds a REJECT event.
	NegotiationStatusTerminated NegotiationStatus = "TERMINATED"
)

// DeriveStatus computes the negotiation status from its event log and the
// configured step limit. Events need not be pre-sorted.
func DeriveStatus(events []ProposalEvent, maxSteps int) NegotiationStatus {
	for _, ev := range events {
		switch ev.Action {
		case ActionAccept:
			return NegotiationStatusCompleted
		case ActionReject:
			return NegotiationStatusTerminated
		}
	}
	if maxSteps > 0 && len(events) >= maxSteps {
		return NegotiationStatusStepLimitReached
	}
	return NegotiationStatusOpen
}

// SortProposals orders events by timestamp ascending, in place.
func SortProposals(events []ProposalEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// LastPriceFrom returns the most recent price proposed by senderID within the
// log, and whether one exists. Used by the price integrity check: an ACCEPT
// must reference a price the counterparty actually put on the table.
func LastPriceFrom(events []ProposalEvent, senderID string) (float64, bool) {
	sorted := make([]ProposalEvent, len(events))
	copy(sorted, events)
	SortProposals(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].SenderID == senderID {
			return sorted[i].Price, true
		}
	}
	return 0, false
}
