package core

import "time"

// TransactionCompleted is the only transaction status the hub writes. A
// transaction is a ledger entry, not a money movement.
const TransactionCompleted = "COMPLETED"

// Transaction records a negotiation that reached ACCEPT after the price
// integrity check passed. Immutable once written; created exactly once per
// negotiation.
type Transaction struct {
	ID            string    `json:"id"`
	NegotiationID string    `json:"negotiation_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Amount        float64   `json:"amount"`
	Quantity      int       `json:"quantity"`
	Product       string    `json:"product"`
	OfferID       string    `json:"offer_id"`
	Status        string    `json:"status"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReputationRecord is the durable "already applied" marker for one reputation
// mutation. Its composite id (agent_id + "_" + transaction_id) is the
// idempotency key: a redelivered completion notification finds the record and
// becomes a no-op.
type ReputationRecord struct {
	AgentID       string    `json:"agent_id"`
	TransactionID string    `json:"transaction_id"`
	Reputation    float64   `json:"reputation"`
	Delta         float64   `json:"change"`
	Timestamp     time.Time `json:"timestamp"`
}

// RecordID returns the deterministic composite key for the record.
func (r ReputationRecord) RecordID() string { return ReputationRecordID(r.AgentID, r.TransactionID) }

// ReputationRecordID builds the composite idempotency key.
func ReputationRecordID(agentID, transactionID string) string {
	return agentID + "_" + transactionID
}
