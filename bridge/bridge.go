// Package bridge moves events between the durable store, the Redis streams
// and the connection hub. It is the only component that turns persistence
// changes into client-visible broadcasts, and the redundant accrual path for
// the reputation ledger: the negotiation engine credits deals on commit, and
// the bridge replays feed deliveries plus a startup reconciliation scan so
// dropped or crash-lost notifications cannot strand a completion.
package bridge

import (
	"context"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
	"github.com/CodeUnit7/Isiziba/reputation"
)

// Broadcaster is the hub surface the bridge fans events out through.
type Broadcaster interface {
	Broadcast(msg any) int
}

// Options configures the change feed bridge.
type Options struct {
	// Logger receives structured bridge events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Bridge consumes the store's change feed and republishes every change as a
// market_event broadcast. Completed transactions additionally trigger the
// reputation ledger; the ledger's idempotency marker absorbs feed
// redelivery.
type Bridge struct {
	changes     <-chan core.Change
	broadcaster Broadcaster
	txs         core.TransactionStore
	ledger      *reputation.Ledger
	opts        Options
}

// New creates a change feed bridge. The transaction store backs the startup
// reconciliation scan; it and the ledger may be nil when reputation accrual
// is handled elsewhere.
func New(changes <-chan core.Change, broadcaster Broadcaster, txs core.TransactionStore, ledger *reputation.Ledger, optFns ...func(o *Options)) *Bridge {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bridge{changes: changes, broadcaster: broadcaster, txs: txs, ledger: ledger, opts: opts}
}

// reconcileLimit bounds the reconciliation scan. Completed transactions past
// this horizon have long since been credited.
const reconcileLimit = 1000

// reconcile replays recent completed transactions through the ledger. The
// change feed drops notifications under backpressure and is not persisted
// across restarts; this scan closes both holes, and the idempotency marker
// turns already-credited deals into no-ops.
func (b *Bridge) reconcile(ctx context.Context) {
	if b.txs == nil || b.ledger == nil {
		return
	}
	txs, err := b.txs.LatestTransactions(ctx, reconcileLimit)
	if err != nil {
		b.opts.Logger.Error("completion reconciliation failed", "error", err)
		return
	}
	for _, tx := range txs {
		if tx.Status != core.TransactionCompleted {
			continue
		}
		if err := b.ledger.ApplyDeal(ctx, tx); err != nil {
			b.opts.Logger.Error("reputation accrual failed",
				"transaction_id", tx.ID, "error", err)
		}
	}
	b.opts.Logger.Info("completion reconciliation done", "scanned", len(txs))
}

// Run reconciles missed completions, then pumps the change feed until the
// context is cancelled or the feed closes. Intended to run on its own
// goroutine.
func (b *Bridge) Run(ctx context.Context) {
	b.opts.Logger.Info("change feed bridge started")
	b.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			b.opts.Logger.Info("change feed bridge stopped", "reason", ctx.Err())
			return
		case change, ok := <-b.changes:
			if !ok {
				b.opts.Logger.Info("change feed closed")
				return
			}
			b.handle(ctx, change)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, change core.Change) {
	sent := b.broadcaster.Broadcast(core.NewMarketEvent(change.Data))
	b.opts.Logger.Debug("change republished",
		"collection", change.Collection,
		"kind", string(change.Kind),
		"recipients", sent,
	)

	if change.Collection != core.CollectionTransactions {
		return
	}
	tx, ok := change.Data.(core.Transaction)
	if !ok {
		b.opts.Logger.Warn("transaction change with unexpected payload type", "kind", string(change.Kind))
		return
	}
	if tx.Status != core.TransactionCompleted {
		return
	}
	if b.ledger == nil {
		return
	}
	if err := b.ledger.ApplyDeal(ctx, tx); err != nil {
		// Reputation is best effort; the transaction itself already
		// committed and the marker makes a later replay safe.
		b.opts.Logger.Error("reputation accrual failed", "transaction_id", tx.ID, "error", err)
	}
}
