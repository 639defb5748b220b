package core

import (
	"context"
	"time"
)

// Collection names used by the change feed and the SQLite schema.
const (
	CollectionOffers       = "offers"
	CollectionTransactions = "transactions"
)

// ChangeKind tags a change feed entry.
type ChangeKind string

const (
	// ChangeAdded is a fresh insert.
	ChangeAdded ChangeKind = "ADDED"
	// ChangeModified is an update to an existing record.
	ChangeModified ChangeKind = "MODIFIED"
)

// Change is one entry on the durable store's change feed. The event bridge
// consumes these and republishes them as hub broadcasts. Feeds may redeliver;
// downstream effects (reputation) are idempotent.
type Change struct {
	Collection string
	Kind       ChangeKind
	Data       any
}

// AgentStore persists the agent registry and the reputation ledger.
type AgentStore interface {
	// PutAgent inserts or replaces an agent record.
	PutAgent(ctx context.Context, agent *Agent) error
	// GetAgent returns the agent by id or ErrAgentNotFound.
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// FindAgentByCredential returns the agent holding the credential or
	// ErrAgentNotFound.
	FindAgentByCredential(ctx context.Context, credential string) (*Agent, error)
	// FindAgentByNameType returns the agent registered under (name, type)
	// or ErrAgentNotFound. Backs idempotent registration.
	FindAgentByNameType(ctx context.Context, name string, t AgentType) (*Agent, error)
	// ListAgents returns the full directory.
	ListAgents(ctx context.Context) ([]Agent, error)

	// ApplyReputation atomically applies delta to the agent's score and
	// increments its transaction count, guarded by the composite
	// (agentID, transactionID) history record. Returns applied=false when
	// the record already exists (redelivery). The check, the score write
	// and the marker write form one transactional unit.
	ApplyReputation(ctx context.Context, agentID string, delta float64, transactionID string) (applied bool, record ReputationRecord, err error)
	// ReputationHistory returns an agent's records ordered by time.
	ReputationHistory(ctx context.Context, agentID string) ([]ReputationRecord, error)
}

// MarketItemStore persists timed requests and offers.
type MarketItemStore interface {
	// PutItem inserts or replaces a market item.
	PutItem(ctx context.Context, item MarketItem) error
	// GetOffer returns an offer by id or ErrOfferNotFound.
	GetOffer(ctx context.Context, id string) (*MarketItem, error)
	// ActiveItems returns items with valid_until after now, for
	// late-joiner sync.
	ActiveItems(ctx context.Context, now time.Time) ([]MarketItem, error)
	// LatestOffers returns up to limit offers, newest first.
	LatestOffers(ctx context.Context, limit int) ([]MarketItem, error)
}

// NegotiationLog is the append-only proposal event log. Negotiation state is
// derived from it, never stored.
type NegotiationLog interface {
	// AppendProposal appends one move to the log.
	AppendProposal(ctx context.Context, ev ProposalEvent) error
	// Proposals returns the full log for a negotiation, unordered.
	Proposals(ctx context.Context, negotiationID string) ([]ProposalEvent, error)
	// CountProposals returns the number of logged moves for a negotiation.
	CountProposals(ctx context.Context, negotiationID string) (int, error)
	// LatestProposals returns up to limit events across all negotiations,
	// newest first.
	LatestProposals(ctx context.Context, limit int) ([]ProposalEvent, error)
}

// TransactionStore persists committed transactions.
type TransactionStore interface {
	// PutTransaction writes a transaction record.
	PutTransaction(ctx context.Context, tx Transaction) error
	// TransactionByNegotiation returns the transaction committed for a
	// negotiation, or nil when none exists.
	TransactionByNegotiation(ctx context.Context, negotiationID string) (*Transaction, error)
	// LatestTransactions returns up to limit transactions, newest first.
	LatestTransactions(ctx context.Context, limit int) ([]Transaction, error)
}

// FeedbackStore persists coach reports and user ratings.
type FeedbackStore interface {
	// PutReport stores a coach feedback report.
	PutReport(ctx context.Context, report FeedbackReport) error
	// PutUserFeedback stores a human rating.
	PutUserFeedback(ctx context.Context, fb UserFeedback) error
	// LatestReports returns up to limit coach reports, newest first.
	LatestReports(ctx context.Context, limit int) ([]FeedbackReport, error)
	// LatestUserFeedback returns up to limit ratings, newest first.
	LatestUserFeedback(ctx context.Context, limit int) ([]UserFeedback, error)
}

// Store is the full durable backend. Writes to the offers and transactions
// collections additionally surface on Changes for the event bridge.
type Store interface {
	AgentStore
	MarketItemStore
	NegotiationLog
	TransactionStore
	FeedbackStore

	// Changes returns the store's change feed. The channel is closed by
	// Close. Slow consumers may observe drops; the feed is a notification
	// path, the collections remain the source of truth.
	Changes() <-chan Change
	// Close releases resources and closes the change feed.
	Close() error
}
