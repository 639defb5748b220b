// Package negotiation enforces the bargaining protocol: the step limit, the
// price integrity rule and the single-terminal-event invariant. All state is
// derived from the append-only proposal log; the engine's only job is to
// decide whether a move may be appended and what follows from it.
package negotiation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
)

// Notifier is the hub surface the engine delivers outcomes through.
type Notifier interface {
	Broadcast(msg any) int
	SendToAgent(agentID string, msg any) bool
}

// Analyzer receives concluded negotiations for deferred critique.
type Analyzer interface {
	Schedule(negotiationID string, involvedAgents []string)
}

// Publisher mirrors accepted moves onto the external event feed.
type Publisher interface {
	Publish(ctx context.Context, stream string, event any) error
}

// Scorer credits both parties of a completed transaction. The engine calls
// it on the commit path so accrual does not depend on change feed delivery;
// the scorer's idempotency marker keeps the feed-driven replay safe.
type Scorer interface {
	ApplyDeal(ctx context.Context, tx core.Transaction) error
}

// priceTolerance absorbs float decode noise in the integrity comparison.
const priceTolerance = 1e-9

// Options configures the Engine.
type Options struct {
	// MaxSteps is the proposal count at which further COUNTERs are
	// refused. Zero disables the limit.
	MaxSteps int

	// FailOpen permits moves when the proposal log cannot be read. The
	// default is fail closed: an unreadable log refuses the move.
	FailOpen bool

	// Topic is the stream accepted moves are mirrored to. Empty disables
	// mirroring.
	Topic string

	// Logger receives structured engine events. Defaults to NoOpLogger.
	Logger logging.Logger

	// Now stamps appended events. Defaults to time.Now.
	Now func() time.Time
}

// Engine validates and applies negotiation moves.
type Engine struct {
	log       core.NegotiationLog
	txs       core.TransactionStore
	items     core.MarketItemStore
	notifier  Notifier
	analyzer  Analyzer
	scorer    Scorer
	publisher Publisher
	opts      Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine. Analyzer, Scorer and Publisher may be nil.
func New(log core.NegotiationLog, txs core.TransactionStore, items core.MarketItemStore, notifier Notifier, analyzer Analyzer, scorer Scorer, publisher Publisher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxSteps: 20,
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		log:       log,
		txs:       txs,
		items:     items,
		notifier:  notifier,
		analyzer:  analyzer,
		scorer:    scorer,
		publisher: publisher,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockNegotiation serializes all moves for one negotiation id. The check-
// then-append window must not interleave, or two terminal events could land.
func (e *Engine) lockNegotiation(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// releaseNegotiation drops the mutex entry once a terminal event is on the
// log, keeping the map bounded by live negotiations. A move that raced the
// terminal append mints a fresh mutex and is refused by the closed check.
func (e *Engine) releaseNegotiation(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

// Propose validates one move from sender and, if legal, appends it and
// triggers its consequences. The returned event carries the assigned
// negotiation id and timestamp.
func (e *Engine) Propose(ctx context.Context, sender core.Agent, ev core.ProposalEvent) (core.ProposalEvent, error) {
	if !ev.Action.Valid() {
		return ev, &core.ValidationError{Field: "action", Detail: "must be COUNTER, ACCEPT or REJECT"}
	}
	if ev.ReceiverID == "" {
		return ev, &core.ValidationError{Field: "receiver_id", Detail: "required"}
	}
	if ev.Action == core.ActionCounter && ev.Price <= 0 {
		return ev, &core.ValidationError{Field: "price", Detail: "must be positive"}
	}
	ev.SenderID = sender.ID
	if ev.NegotiationID == "" {
		ev.NegotiationID = core.NewNegotiationID()
	}

	lock := e.lockNegotiation(ev.NegotiationID)
	lock.Lock()
	defer lock.Unlock()

	logger := e.opts.Logger
	events, err := e.log.Proposals(ctx, ev.NegotiationID)
	if err != nil {
		if !e.opts.FailOpen {
			logger.Error("proposal log unreadable, refusing move",
				"negotiation_id", ev.NegotiationID, "error", err)
			return ev, &core.TransientInfraError{Op: "read proposal log", Err: err}
		}
		logger.Warn("proposal log unreadable, proceeding without history",
			"negotiation_id", ev.NegotiationID, "error", err)
		events = nil
	}

	switch core.DeriveStatus(events, 0) {
	case core.NegotiationStatusCompleted, core.NegotiationStatusTerminated:
		return ev, &core.ProtocolViolation{
			NegotiationID: ev.NegotiationID,
			Reason:        core.ReasonNegotiationClosed,
			Detail:        "negotiation already concluded",
		}
	}

	if ev.Action == core.ActionCounter && e.opts.MaxSteps > 0 && len(events) >= e.opts.MaxSteps {
		return ev, e.refuseStepLimit(ev)
	}

	if ev.Action == core.ActionAccept {
		if err := e.checkPriceIntegrity(ctx, events, ev); err != nil {
			return ev, err
		}
	}

	if ev.Product == "" && ev.OfferID != "" {
		if offer, err := e.items.GetOffer(ctx, ev.OfferID); err == nil {
			ev.Product = offer.Product
		} else if err != core.ErrOfferNotFound {
			logger.Warn("offer lookup failed, proposal not enriched",
				"negotiation_id", ev.NegotiationID, "offer_id", ev.OfferID, "error", err)
		}
	}

	ev.Timestamp = e.opts.Now().UTC()
	if err := e.log.AppendProposal(ctx, ev); err != nil {
		return ev, &core.TransientInfraError{Op: "append proposal", Err: err}
	}
	logger.Info("negotiation step",
		"negotiation_id", ev.NegotiationID,
		"sender_id", ev.SenderID,
		"action", string(ev.Action),
		"price", ev.Price,
		"step", len(events)+1,
	)

	switch ev.Action {
	case core.ActionAccept:
		defer e.releaseNegotiation(ev.NegotiationID)
		return ev, e.conclude(ctx, sender, ev)
	case core.ActionReject:
		defer e.releaseNegotiation(ev.NegotiationID)
		e.notifier.Broadcast(core.NewMarketEvent(ev))
		e.mirror(ctx, ev)
		e.terminate(ev, "Offer rejected by counterparty.", string(core.NegotiationStatusTerminated))
		if e.analyzer != nil {
			e.analyzer.Schedule(ev.NegotiationID, []string{ev.SenderID, ev.ReceiverID})
		}
	default:
		e.notifier.Broadcast(core.NewMarketEvent(ev))
		e.mirror(ctx, ev)
	}
	return ev, nil
}

// refuseStepLimit notifies both parties that the negotiation is out of
// counters. The move is not logged; ACCEPT and REJECT remain possible.
func (e *Engine) refuseStepLimit(ev core.ProposalEvent) error {
	e.opts.Logger.Warn("step limit reached, counter refused",
		"negotiation_id", ev.NegotiationID, "sender_id", ev.SenderID, "max_steps", e.opts.MaxSteps)
	e.terminate(ev, "Maximum negotiation steps reached. Accept or reject the last offer.", string(core.NegotiationStatusStepLimitReached))
	return &core.ProtocolViolation{
		NegotiationID: ev.NegotiationID,
		Reason:        core.ReasonMaxSteps,
		Detail:        "maximum negotiation steps reached",
	}
}

// checkPriceIntegrity enforces that an ACCEPT commits to a price the
// counterparty actually put on the table: their latest logged price, or the
// original offer price.
func (e *Engine) checkPriceIntegrity(ctx context.Context, events []core.ProposalEvent, ev core.ProposalEvent) error {
	if last, ok := core.LastPriceFrom(events, ev.ReceiverID); ok && priceMatch(ev.Price, last) {
		return nil
	}
	if ev.OfferID != "" {
		offer, err := e.items.GetOffer(ctx, ev.OfferID)
		if err != nil && err != core.ErrOfferNotFound {
			return &core.TransientInfraError{Op: "read offer", Err: err}
		}
		if offer != nil && priceMatch(ev.Price, offer.Price) {
			return nil
		}
	}
	e.opts.Logger.Warn("price integrity violation",
		"negotiation_id", ev.NegotiationID,
		"sender_id", ev.SenderID,
		"claimed", ev.Price,
	)
	return &core.ProtocolViolation{
		NegotiationID: ev.NegotiationID,
		Reason:        core.ReasonPriceMismatch,
		Detail:        "accepted price does not match any price on the table",
	}
}

func priceMatch(a, b float64) bool { return math.Abs(a-b) <= priceTolerance }

// conclude records the transaction for an accepted negotiation and notifies
// both parties. The proposal itself is not broadcast: the transaction's
// change feed entry is the public record of the conclusion.
func (e *Engine) conclude(ctx context.Context, sender core.Agent, ev core.ProposalEvent) error {
	buyerID, sellerID := ev.SenderID, ev.ReceiverID
	if sender.Type == core.AgentTypeSeller {
		buyerID, sellerID = ev.ReceiverID, ev.SenderID
	}
	tx := core.Transaction{
		ID:            core.NewTransactionID(),
		NegotiationID: ev.NegotiationID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Amount:        ev.Price,
		Quantity:      ev.Quantity,
		Product:       ev.Product,
		OfferID:       ev.OfferID,
		Status:        core.TransactionCompleted,
		Reasoning:     ev.Reasoning,
		Timestamp:     ev.Timestamp,
	}
	if err := e.txs.PutTransaction(ctx, tx); err != nil {
		return &core.TransientInfraError{Op: "record transaction", Err: err}
	}
	e.opts.Logger.Info("negotiation concluded",
		"negotiation_id", ev.NegotiationID,
		"transaction_id", tx.ID,
		"buyer_id", buyerID,
		"seller_id", sellerID,
		"amount", tx.Amount,
	)
	if e.scorer != nil {
		if err := e.scorer.ApplyDeal(ctx, tx); err != nil {
			// The transaction is committed; the bridge's reconciliation
			// pass retries accrual through the idempotency marker.
			e.opts.Logger.Error("reputation accrual failed",
				"transaction_id", tx.ID, "error", err)
		}
	}
	e.mirror(ctx, ev)

	msg := core.NegotiationConcluded{
		Type:          core.MessageTypeNegotiationConcluded,
		Status:        string(core.NegotiationStatusCompleted),
		NegotiationID: ev.NegotiationID,
		TransactionID: tx.ID,
		Price:         tx.Amount,
		Quantity:      tx.Quantity,
		Product:       tx.Product,
		Timestamp:     ev.Timestamp,
	}
	e.notifier.SendToAgent(buyerID, msg)
	e.notifier.SendToAgent(sellerID, msg)
	if e.analyzer != nil {
		e.analyzer.Schedule(ev.NegotiationID, []string{buyerID, sellerID})
	}
	return nil
}

// terminate sends a negotiation_terminated signal to both parties.
func (e *Engine) terminate(ev core.ProposalEvent, reason, status string) {
	msg := core.NegotiationTerminated{
		Type:          core.MessageTypeNegotiationTerminated,
		Status:        status,
		NegotiationID: ev.NegotiationID,
		Reason:        reason,
		Timestamp:     e.opts.Now().UTC(),
	}
	e.notifier.SendToAgent(ev.SenderID, msg)
	e.notifier.SendToAgent(ev.ReceiverID, msg)
}

// mirror publishes an accepted move to the external feed, best effort.
func (e *Engine) mirror(ctx context.Context, ev core.ProposalEvent) {
	if e.publisher == nil || e.opts.Topic == "" {
		return
	}
	if err := e.publisher.Publish(ctx, e.opts.Topic, ev); err != nil {
		e.opts.Logger.Warn("feed publish failed",
			"negotiation_id", ev.NegotiationID, "error", err)
	}
}
