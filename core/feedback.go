package core

import "time"

// Critique is the structured output of the post-negotiation analysis: one
// short comment for each side plus a 1-10 strategy score.
type Critique struct {
	BuyerFeedback  string `json:"buyer_feedback"`
	SellerFeedback string `json:"seller_feedback"`
	StrategyScore  int    `json:"strategy_score"`
}

// NeutralCritique is the fixed placeholder used when the analysis
// collaborator's response cannot be parsed. Analysis degrades, it never fails
// the task.
func NeutralCritique() Critique {
	return Critique{
		BuyerFeedback:  "Could not parse feedback.",
		SellerFeedback: "Could not parse feedback.",
		StrategyScore:  5,
	}
}

// FeedbackReport is the coach's per-negotiation analysis. Delivered privately
// to each involved agent and broadcast publicly; best-effort, never
// authoritative state.
type FeedbackReport struct {
	NegotiationID  string    `json:"negotiation_id"`
	InvolvedAgents []string  `json:"involved_agents"`
	Feedback       Critique  `json:"feedback"`
	Product        string    `json:"product,omitempty"`
	Price          float64   `json:"price,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserFeedback is a human rating tied to a negotiation, submitted through the
// public surface and broadcast to observers.
type UserFeedback struct {
	NegotiationID string    `json:"negotiation_id"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment,omitempty"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
}
