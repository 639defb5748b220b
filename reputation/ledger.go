// Package reputation maintains the tamper-resistant, idempotent score ledger.
// Every completed transaction grants both parties a fixed positive delta
// exactly once, no matter how often the completion notification is
// redelivered. Atomicity and the composite-key idempotency marker live in
// the backing store; this package adds policy (the delta, both-parties
// application) and observability.
package reputation

import (
	"context"
	"errors"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
)

// DefaultDelta is the per-transaction score increase for each party. No
// negative reputation path is modeled.
const DefaultDelta = 1.0

// Options configures the Ledger.
type Options struct {
	// Delta is the fixed score increase per completed transaction.
	Delta float64

	// Logger receives structured ledger events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Ledger applies reputation effects of completed transactions.
type Ledger struct {
	store core.AgentStore
	opts  Options
}

// New creates a Ledger over the given agent store.
func New(store core.AgentStore, optFns ...func(o *Options)) *Ledger {
	opts := Options{Delta: DefaultDelta, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Ledger{store: store, opts: opts}
}

// ApplyCompletedTransaction credits one agent for one transaction. The store
// runs the check-then-write-marker sequence as a single transactional unit,
// so a second call with the same (agentID, transactionID) pair is a no-op.
// Returns whether the delta was applied this call.
func (l *Ledger) ApplyCompletedTransaction(ctx context.Context, agentID, transactionID string) (bool, error) {
	applied, rec, err := l.store.ApplyReputation(ctx, agentID, l.opts.Delta, transactionID)
	if err != nil {
		if errors.Is(err, core.ErrAgentNotFound) {
			l.opts.Logger.Warn("reputation skipped, agent unknown", "agent_id", agentID, "transaction_id", transactionID)
			return false, err
		}
		l.opts.Logger.Error("reputation update failed", "agent_id", agentID, "transaction_id", transactionID, "error", err)
		return false, err
	}
	if !applied {
		l.opts.Logger.Info("reputation already processed", "agent_id", agentID, "transaction_id", transactionID)
		return false, nil
	}
	l.opts.Logger.Info("reputation updated", "agent_id", agentID, "transaction_id", transactionID, "score", rec.Reputation, "delta", rec.Delta)
	return true, nil
}

// ApplyDeal credits both parties of a completed transaction. Each side is
// independent: a failure on one does not roll back the other, and retries
// stay safe through the idempotency marker.
func (l *Ledger) ApplyDeal(ctx context.Context, tx core.Transaction) error {
	var firstErr error
	for _, agentID := range []string{tx.BuyerID, tx.SellerID} {
		if _, err := l.ApplyCompletedTransaction(ctx, agentID, tx.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// History returns an agent's reputation records ordered by time.
func (l *Ledger) History(ctx context.Context, agentID string) ([]core.ReputationRecord, error) {
	return l.store.ReputationHistory(ctx, agentID)
}
