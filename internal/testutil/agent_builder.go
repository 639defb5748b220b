package testutil

import (
	"time"

	"github.com/CodeUnit7/Isiziba/core"
)

// NewBuyer returns a registered buyer agent with deterministic fields.
func NewBuyer(id string) *core.Agent {
	return newAgent(id, core.AgentTypeBuyer)
}

// NewSeller returns a registered seller agent with deterministic fields.
func NewSeller(id string) *core.Agent {
	return newAgent(id, core.AgentTypeSeller)
}

func newAgent(id string, t core.AgentType) *core.Agent {
	return &core.Agent{
		ID:         id,
		Type:       t,
		Name:       id + "-name",
		Category:   "general",
		Credential: "sk-" + id,
		Reputation: 50.0,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewOffer returns an open seller offer with deterministic fields.
func NewOffer(id, sellerID string, price float64) core.MarketItem {
	now := time.Now().UTC()
	return core.MarketItem{
		ID:            id,
		Kind:          core.ItemKindOffer,
		Product:       "widgets",
		Price:         price,
		Quantity:      1,
		Category:      "general",
		Currency:      "USDC",
		SenderID:      sellerID,
		CounterpartID: core.BroadcastAudience,
		Status:        core.ItemStatusOpen,
		CreatedAt:     now,
		ValidUntil:    now.Add(time.Hour),
	}
}

// NewTransaction returns a completed transaction with deterministic fields.
func NewTransaction(id, negotiationID, buyerID, sellerID string, amount float64) core.Transaction {
	return core.Transaction{
		ID:            id,
		NegotiationID: negotiationID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Amount:        amount,
		Quantity:      1,
		Product:       "widgets",
		OfferID:       "off-test",
		Status:        core.TransactionCompleted,
		Timestamp:     time.Now().UTC(),
	}
}
