package core

import "time"

// ItemKind tags a MarketItem as a buyer request or a seller offer.
type ItemKind string

const (
	// ItemKindRequest is a buyer looking for a product under a budget.
	ItemKindRequest ItemKind = "Request"
	// ItemKindOffer is a seller listing a product at a price.
	ItemKindOffer ItemKind = "Offer"
)

// Item statuses. Items are read-only after creation except for status
// transitions driven by negotiation outcomes.
const (
	ItemStatusOpen   = "OPEN"
	ItemStatusClosed = "CLOSED"
)

// BroadcastAudience is the counterpart id of an item addressed to the whole
// market rather than a single agent.
const BroadcastAudience = "broadcast"

// MarketItem is a timed request or offer. Items past ValidUntil are inactive
// and excluded from late-joiner sync.
type MarketItem struct {
	ID            string    `json:"id"`
	Kind          ItemKind  `json:"type"`
	Product       string    `json:"product"`
	Price         float64   `json:"price"`
	Quantity      int       `json:"quantity"`
	Category      string    `json:"category"`
	Currency      string    `json:"currency,omitempty"`
	SenderID      string    `json:"sender_id"`
	CounterpartID string    `json:"receiver_id"`
	AgentName     string    `json:"agent_name,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ValidUntil    time.Time `json:"valid_until"`
}

// Active reports whether the item's validity window still covers now.
func (m MarketItem) Active(now time.Time) bool {
	return m.ValidUntil.After(now)
}
