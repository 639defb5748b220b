package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates a new unique identifier for events and records.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// shortHex returns the first 8 hex characters of a fresh UUID. Marketplace
// entity ids use short prefixed forms so they stay readable in transcripts
// and log lines.
func shortHex() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:4])
}

// NewAgentID mints an agent identifier of the form "ext-<type>-<hex8>".
func NewAgentID(agentType AgentType) string {
	return fmt.Sprintf("ext-%s-%s", agentType, shortHex())
}

// NewOfferID mints an offer identifier of the form "off-<hex8>".
func NewOfferID() string { return "off-" + shortHex() }

// NewNegotiationID mints a negotiation identifier of the form "neg-<hex8>".
func NewNegotiationID() string { return "neg-" + shortHex() }

// NewTransactionID mints a transaction identifier of the form "tx-<hex8>".
func NewTransactionID() string { return "tx-" + shortHex() }

// NewCredential mints an opaque API credential of the form "sk-<hex32>".
// Credentials are verified by registry lookup, they carry no claims.
func NewCredential() string {
	u := uuid.New()
	return fmt.Sprintf("sk-%x", u[:])
}
