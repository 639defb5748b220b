package core

import "time"

// AgentType distinguishes the two negotiating roles in the marketplace.
type AgentType string

const (
	// AgentTypeBuyer posts requests and accepts or counters seller prices.
	AgentTypeBuyer AgentType = "buyer"
	// AgentTypeSeller posts offers and accepts or counters buyer prices.
	AgentTypeSeller AgentType = "seller"
)

// Valid reports whether the type is one of the two known roles.
func (t AgentType) Valid() bool {
	return t == AgentTypeBuyer || t == AgentTypeSeller
}

// Counterpart returns the opposite role.
func (t AgentType) Counterpart() AgentType {
	if t == AgentTypeBuyer {
		return AgentTypeSeller
	}
	return AgentTypeBuyer
}

// Agent is a registered marketplace participant. Identity is unique by
// (Name, Type): re-registering the same pair returns the existing record.
// Reputation and TransactionCount are mutated only by the reputation ledger.
type Agent struct {
	ID               string    `json:"id"`
	Type             AgentType `json:"type"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Credential       string    `json:"api_key"`
	Reputation       float64   `json:"global_reputation"`
	TransactionCount int       `json:"total_transactions"`
	CreatedAt        time.Time `json:"created_at"`
}

// AgentStatusUpdate is the payload agents push to report liveness and what
// they are currently doing ("IDLE", "NEGOTIATING", ...).
type AgentStatusUpdate struct {
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
}
