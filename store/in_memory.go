// Package store provides durable backends for the marketplace hub: a
// volatile in-memory implementation suited to tests and demo servers, and a
// SQLite implementation for single-node production deployments. Both emit a
// change feed over the offers and transactions collections that the event
// bridge republishes to connected clients.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CodeUnit7/Isiziba/core"
)

// changeBuffer is the change feed channel capacity. The feed is a
// notification path; a full buffer drops the oldest semantics in favor of
// not blocking writers.
const changeBuffer = 256

// InMemoryStore is a volatile core.Store implementation keeping all
// collections in process-local maps. It is safe for concurrent access.
// Returned records are copies to prevent external mutation of internal state.
type InMemoryStore struct {
	mu           sync.RWMutex
	agents       map[string]*core.Agent
	items        map[string]core.MarketItem
	proposals    []core.ProposalEvent
	transactions map[string]core.Transaction
	reputation   map[string]core.ReputationRecord
	reports      []core.FeedbackReport
	userFeedback []core.UserFeedback

	feed *changeFeed
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		agents:       make(map[string]*core.Agent),
		items:        make(map[string]core.MarketItem),
		transactions: make(map[string]core.Transaction),
		reputation:   make(map[string]core.ReputationRecord),
		feed:         newChangeFeed(changeBuffer),
	}
}

// PutAgent inserts or replaces an agent record.
func (s *InMemoryStore) PutAgent(_ context.Context, agent *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// GetAgent returns the agent by id or core.ErrAgentNotFound.
func (s *InMemoryStore) GetAgent(_ context.Context, id string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, core.ErrAgentNotFound
}

// FindAgentByCredential returns the agent holding the credential.
func (s *InMemoryStore) FindAgentByCredential(_ context.Context, credential string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Credential == credential {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrAgentNotFound
}

// FindAgentByNameType returns the agent registered under (name, type).
func (s *InMemoryStore) FindAgentByNameType(_ context.Context, name string, t core.AgentType) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Name == name && a.Type == t {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrAgentNotFound
}

// ListAgents returns the full agent directory.
func (s *InMemoryStore) ListAgents(_ context.Context) ([]core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ApplyReputation applies delta exactly once per (agentID, transactionID).
// The existence check, the score mutation and the marker write happen under
// one lock acquisition, the in-memory equivalent of a store transaction.
func (s *InMemoryStore) ApplyReputation(_ context.Context, agentID string, delta float64, transactionID string) (bool, core.ReputationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordID := core.ReputationRecordID(agentID, transactionID)
	if rec, ok := s.reputation[recordID]; ok {
		return false, rec, nil
	}
	agent, ok := s.agents[agentID]
	if !ok {
		return false, core.ReputationRecord{}, core.ErrAgentNotFound
	}
	agent.Reputation += delta
	agent.TransactionCount++
	rec := core.ReputationRecord{
		AgentID:       agentID,
		TransactionID: transactionID,
		Reputation:    agent.Reputation,
		Delta:         delta,
		Timestamp:     time.Now().UTC(),
	}
	s.reputation[recordID] = rec
	return true, rec, nil
}

// ReputationHistory returns an agent's records ordered by time.
func (s *InMemoryStore) ReputationHistory(_ context.Context, agentID string) ([]core.ReputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ReputationRecord
	for _, rec := range s.reputation {
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// PutItem inserts or replaces a market item. Offer writes surface on the
// change feed.
func (s *InMemoryStore) PutItem(_ context.Context, item core.MarketItem) error {
	s.mu.Lock()
	_, existed := s.items[item.ID]
	s.items[item.ID] = item
	s.mu.Unlock()

	if item.Kind == core.ItemKindOffer {
		kind := core.ChangeAdded
		if existed {
			kind = core.ChangeModified
		}
		s.emit(core.Change{Collection: core.CollectionOffers, Kind: kind, Data: item})
	}
	return nil
}

// GetOffer returns an offer by id or core.ErrOfferNotFound.
func (s *InMemoryStore) GetOffer(_ context.Context, id string) (*core.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[id]; ok && item.Kind == core.ItemKindOffer {
		cp := item
		return &cp, nil
	}
	return nil, core.ErrOfferNotFound
}

// ActiveItems returns items whose validity window covers now.
func (s *InMemoryStore) ActiveItems(_ context.Context, now time.Time) ([]core.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MarketItem
	for _, item := range s.items {
		if item.Active(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LatestOffers returns up to limit offers, newest first.
func (s *InMemoryStore) LatestOffers(_ context.Context, limit int) ([]core.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MarketItem
	for _, item := range s.items {
		if item.Kind == core.ItemKindOffer {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendProposal appends one move to the negotiation log.
func (s *InMemoryStore) AppendProposal(_ context.Context, ev core.ProposalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, ev)
	return nil
}

// Proposals returns the full log for a negotiation.
func (s *InMemoryStore) Proposals(_ context.Context, negotiationID string) ([]core.ProposalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ProposalEvent
	for _, ev := range s.proposals {
		if ev.NegotiationID == negotiationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// CountProposals returns the number of logged moves for a negotiation.
func (s *InMemoryStore) CountProposals(_ context.Context, negotiationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.proposals {
		if ev.NegotiationID == negotiationID {
			n++
		}
	}
	return n, nil
}

// LatestProposals returns up to limit events across all negotiations, newest
// first.
func (s *InMemoryStore) LatestProposals(_ context.Context, limit int) ([]core.ProposalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ProposalEvent, len(s.proposals))
	copy(out, s.proposals)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutTransaction writes a transaction record and surfaces it on the change
// feed.
func (s *InMemoryStore) PutTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	_, existed := s.transactions[tx.ID]
	s.transactions[tx.ID] = tx
	s.mu.Unlock()

	kind := core.ChangeAdded
	if existed {
		kind = core.ChangeModified
	}
	s.emit(core.Change{Collection: core.CollectionTransactions, Kind: kind, Data: tx})
	return nil
}

// TransactionByNegotiation returns the committed transaction for a
// negotiation, or nil when none exists.
func (s *InMemoryStore) TransactionByNegotiation(_ context.Context, negotiationID string) (*core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.transactions {
		if tx.NegotiationID == negotiationID {
			cp := tx
			return &cp, nil
		}
	}
	return nil, nil
}

// LatestTransactions returns up to limit transactions, newest first.
func (s *InMemoryStore) LatestTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutReport stores a coach feedback report.
func (s *InMemoryStore) PutReport(_ context.Context, report core.FeedbackReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// PutUserFeedback stores a human rating.
func (s *InMemoryStore) PutUserFeedback(_ context.Context, fb core.UserFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userFeedback = append(s.userFeedback, fb)
	return nil
}

// LatestReports returns up to limit coach reports, newest first.
func (s *InMemoryStore) LatestReports(_ context.Context, limit int) ([]core.FeedbackReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.FeedbackReport, len(s.reports))
	copy(out, s.reports)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestUserFeedback returns up to limit ratings, newest first.
func (s *InMemoryStore) LatestUserFeedback(_ context.Context, limit int) ([]core.UserFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.UserFeedback, len(s.userFeedback))
	copy(out, s.userFeedback)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Changes returns the store's change feed.
func (s *InMemoryStore) Changes() <-chan core.Change { return s.feed.ch }

// Close closes the change feed. Subsequent writes still succeed, their
// notifications are discarded.
func (s *InMemoryStore) Close() error {
	s.feed.close()
	return nil
}

func (s *InMemoryStore) emit(ch core.Change) { s.feed.emit(ch) }

// Compile-time interface check.
var _ core.Store = (*InMemoryStore)(nil)
