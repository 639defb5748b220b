package testutil

import (
	"time"

	"github.com/CodeUnit7/Isiziba/core"
)

// ProposalBuilder provides a fluent helper for constructing proposal events
// in tests. Example:
//
//	ev := NewProposalBuilder("neg-1").From("ext-buyer-1").Counter(90).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ProposalBuilder struct {
	ev core.ProposalEvent
}

// NewProposalBuilder creates a builder for the given negotiation id.
func NewProposalBuilder(negotiationID string) *ProposalBuilder {
	return &ProposalBuilder{ev: core.ProposalEvent{
		NegotiationID: negotiationID,
		OfferID:       "off-test",
		Product:       "widgets",
		Quantity:      1,
		Action:        core.ActionCounter,
		Timestamp:     time.Now().UTC(),
	}}
}

// From sets the sender id (chainable).
func (b *ProposalBuilder) From(agentID string) *ProposalBuilder {
	b.ev.SenderID = agentID
	return b
}

// To sets the receiver id (chainable).
func (b *ProposalBuilder) To(agentID string) *ProposalBuilder {
	b.ev.ReceiverID = agentID
	return b
}

// Offer overrides the default offer id (chainable).
func (b *ProposalBuilder) Offer(offerID string) *ProposalBuilder {
	b.ev.OfferID = offerID
	return b
}

// Counter marks the move as a COUNTER at the given price (chainable).
func (b *ProposalBuilder) Counter(price float64) *ProposalBuilder {
	b.ev.Action = core.ActionCounter
	b.ev.Price = price
	return b
}

// Accept marks the move as an ACCEPT at the given price (chainable).
func (b *ProposalBuilder) Accept(price float64) *ProposalBuilder {
	b.ev.Action = core.ActionAccept
	b.ev.Price = price
	return b
}

// Reject marks the move as a REJECT (chainable).
func (b *ProposalBuilder) Reject() *ProposalBuilder {
	b.ev.Action = core.ActionReject
	return b
}

// Reasoning sets the free-text rationale (chainable).
func (b *ProposalBuilder) Reasoning(text string) *ProposalBuilder {
	b.ev.Reasoning = text
	return b
}

// At sets the event timestamp; use for deterministic ordering (chainable).
func (b *ProposalBuilder) At(t time.Time) *ProposalBuilder {
	b.ev.Timestamp = t
	return b
}

// Build returns the constructed event.
func (b *ProposalBuilder) Build() core.ProposalEvent { return b.ev }
