package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/internal/testutil"
	"github.com/CodeUnit7/Isiziba/reputation"
	"github.com/CodeUnit7/Isiziba/store"
)

// fakeNotifier records hub traffic.
type fakeNotifier struct {
	mu        sync.Mutex
	broadcast []any
	targeted  map[string][]any
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{targeted: make(map[string][]any)}
}

func (n *fakeNotifier) Broadcast(msg any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, msg)
	return 1
}

func (n *fakeNotifier) SendToAgent(agentID string, msg any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targeted[agentID] = append(n.targeted[agentID], msg)
	return true
}

func (n *fakeNotifier) broadcasts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.broadcast)
}

func (n *fakeNotifier) sentTo(agentID string) []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.targeted[agentID]
}

// fakeAnalyzer records scheduled critiques.
type fakeAnalyzer struct {
	mu        sync.Mutex
	scheduled [][2]any
}

func (a *fakeAnalyzer) Schedule(negotiationID string, involvedAgents []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = append(a.scheduled, [2]any{negotiationID, involvedAgents})
}

func (a *fakeAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.scheduled)
}

// brokenLog fails every read, for the fail-open / fail-closed paths.
type brokenLog struct {
	core.NegotiationLog
}

func (brokenLog) Proposals(context.Context, string) ([]core.ProposalEvent, error) {
	return nil, errors.New("log unavailable")
}

type fixture struct {
	store    *store.InMemoryStore
	notifier *fakeNotifier
	analyzer *fakeAnalyzer
	engine   *Engine
	buyer    *core.Agent
	seller   *core.Agent
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	s := store.NewInMemoryStore()
	n := newFakeNotifier()
	a := &fakeAnalyzer{}
	f := &fixture{
		store:    s,
		notifier: n,
		analyzer: a,
		engine:   New(s, s, s, n, a, nil, nil, optFns...),
		buyer:    testutil.NewBuyer("ext-buyer-1"),
		seller:   testutil.NewSeller("ext-seller-1"),
	}
	ctx := context.Background()
	require.NoError(t, s.PutAgent(ctx, f.buyer))
	require.NoError(t, s.PutAgent(ctx, f.seller))
	require.NoError(t, s.PutItem(ctx, testutil.NewOffer("off-1", f.seller.ID, 100)))
	// Drain the offer change so assertions see only engine traffic.
	<-s.Changes()
	return f
}

func (f *fixture) counter(t *testing.T, from *core.Agent, to string, negID string, price float64) core.ProposalEvent {
	t.Helper()
	ev, err := f.engine.Propose(context.Background(), *from, core.ProposalEvent{
		NegotiationID: negID,
		OfferID:       "off-1",
		ReceiverID:    to,
		Action:        core.ActionCounter,
		Price:         price,
	})
	require.NoError(t, err)
	return ev
}

func TestPropose_CounterMintsNegotiationID(t *testing.T) {
	f := newFixture(t)
	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)

	assert.Regexp(t, `^neg-`, ev.NegotiationID)
	assert.Equal(t, f.buyer.ID, ev.SenderID)
	assert.Equal(t, "widgets", ev.Product, "proposal enriched from the offer")
	assert.False(t, ev.Timestamp.IsZero())

	events, err := f.store.Proposals(context.Background(), ev.NegotiationID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, f.notifier.broadcasts())
}

func TestPropose_InvalidMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		Action: "BUY", ReceiverID: f.seller.ID,
	})
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)

	_, err = f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		Action: core.ActionCounter, Price: 10,
	})
	assert.ErrorAs(t, err, &invalid)

	_, err = f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		Action: core.ActionCounter, ReceiverID: f.seller.ID, Price: -5,
	})
	assert.ErrorAs(t, err, &invalid)
}

func TestPropose_AcceptAtCounterpartyPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	negID := ev.NegotiationID
	f.counter(t, f.seller, f.buyer.ID, negID, 90)
	before := f.notifier.broadcasts()

	accepted, err := f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: negID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionAccept,
		Price:         90,
	})
	require.NoError(t, err)

	// Conclusion is announced through the transaction change feed, not a
	// proposal broadcast.
	assert.Equal(t, before, f.notifier.broadcasts())

	tx, err := f.store.TransactionByNegotiation(ctx, negID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, f.buyer.ID, tx.BuyerID)
	assert.Equal(t, f.seller.ID, tx.SellerID)
	assert.Equal(t, 90.0, tx.Amount)
	assert.Equal(t, core.TransactionCompleted, tx.Status)
	assert.Equal(t, accepted.NegotiationID, tx.NegotiationID)

	// Both parties get the private conclusion signal.
	require.Len(t, f.notifier.sentTo(f.buyer.ID), 1)
	require.Len(t, f.notifier.sentTo(f.seller.ID), 1)
	msg, ok := f.notifier.sentTo(f.buyer.ID)[0].(core.NegotiationConcluded)
	require.True(t, ok)
	assert.Equal(t, tx.ID, msg.TransactionID)
	assert.Equal(t, 1, f.analyzer.count())
}

func TestPropose_AcceptRolesWhenSellerAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	accepted, err := f.engine.Propose(ctx, *f.seller, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.buyer.ID,
		Action:        core.ActionAccept,
		Price:         80,
	})
	require.NoError(t, err)

	tx, err := f.store.TransactionByNegotiation(ctx, accepted.NegotiationID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, f.buyer.ID, tx.BuyerID)
	assert.Equal(t, f.seller.ID, tx.SellerID)
}

func TestPropose_AcceptAtOriginalOfferPrice(t *testing.T) {
	f := newFixture(t)

	// No counter history: the offer's listed price is the only valid one.
	_, err := f.engine.Propose(context.Background(), *f.buyer, core.ProposalEvent{
		OfferID:    "off-1",
		ReceiverID: f.seller.ID,
		Action:     core.ActionAccept,
		Price:      100,
	})
	require.NoError(t, err)
}

func TestPropose_AcceptPriceMismatchRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	f.counter(t, f.seller, f.buyer.ID, ev.NegotiationID, 90)

	_, err := f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionAccept,
		Price:         85, // neither the seller's 90 nor the offer's 100
	})
	var violation *core.ProtocolViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, core.ReasonPriceMismatch, violation.Reason)

	// The refused move left no trace.
	events, lerr := f.store.Proposals(ctx, ev.NegotiationID)
	require.NoError(t, lerr)
	assert.Len(t, events, 2)
	tx, terr := f.store.TransactionByNegotiation(ctx, ev.NegotiationID)
	require.NoError(t, terr)
	assert.Nil(t, tx)
}

func TestPropose_StepLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxSteps = 4 })
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	negID := ev.NegotiationID
	f.counter(t, f.seller, f.buyer.ID, negID, 95)
	f.counter(t, f.buyer, f.seller.ID, negID, 85)
	f.counter(t, f.seller, f.buyer.ID, negID, 90)

	// The fifth counter is refused and not logged.
	_, err := f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: negID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionCounter,
		Price:         88,
	})
	var violation *core.ProtocolViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, core.ReasonMaxSteps, violation.Reason)

	count, cerr := f.store.CountProposals(ctx, negID)
	require.NoError(t, cerr)
	assert.Equal(t, 4, count)

	// Both parties were told the negotiation is out of counters.
	for _, id := range []string{f.buyer.ID, f.seller.ID} {
		msgs := f.notifier.sentTo(id)
		require.NotEmpty(t, msgs)
		term, ok := msgs[len(msgs)-1].(core.NegotiationTerminated)
		require.True(t, ok)
		assert.Equal(t, string(core.NegotiationStatusStepLimitReached), term.Status)
	}

	// ACCEPT at the seller's last price still goes through.
	_, err = f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: negID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionAccept,
		Price:         90,
	})
	require.NoError(t, err)
	tx, terr := f.store.TransactionByNegotiation(ctx, negID)
	require.NoError(t, terr)
	require.NotNil(t, tx)
	assert.Equal(t, 90.0, tx.Amount)
}

func TestPropose_ClosedNegotiationRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	_, err := f.engine.Propose(ctx, *f.seller, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.buyer.ID,
		Action:        core.ActionAccept,
		Price:         80,
	})
	require.NoError(t, err)

	_, err = f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionCounter,
		Price:         70,
	})
	var violation *core.ProtocolViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, core.ReasonNegotiationClosed, violation.Reason)
}

func TestPropose_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	before := f.notifier.broadcasts()

	_, err := f.engine.Propose(ctx, *f.seller, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.buyer.ID,
		Action:        core.ActionReject,
	})
	require.NoError(t, err)

	// Rejection is public and both parties get the termination signal.
	assert.Equal(t, before+1, f.notifier.broadcasts())
	for _, id := range []string{f.buyer.ID, f.seller.ID} {
		msgs := f.notifier.sentTo(id)
		require.NotEmpty(t, msgs)
		term, ok := msgs[len(msgs)-1].(core.NegotiationTerminated)
		require.True(t, ok)
		assert.Equal(t, string(core.NegotiationStatusTerminated), term.Status)
	}
	assert.Equal(t, 1, f.analyzer.count())

	tx, terr := f.store.TransactionByNegotiation(ctx, ev.NegotiationID)
	require.NoError(t, terr)
	assert.Nil(t, tx)
}

func TestPropose_AcceptCreditsReputationOnCommit(t *testing.T) {
	s := store.NewInMemoryStore()
	n := newFakeNotifier()
	engine := New(s, s, s, n, nil, reputation.New(s), nil)

	ctx := context.Background()
	buyer := testutil.NewBuyer("ext-buyer-1")
	seller := testutil.NewSeller("ext-seller-1")
	require.NoError(t, s.PutAgent(ctx, buyer))
	require.NoError(t, s.PutAgent(ctx, seller))
	require.NoError(t, s.PutItem(ctx, testutil.NewOffer("off-1", seller.ID, 100)))

	// Nobody consumes the change feed: accrual must not depend on it.
	_, err := engine.Propose(ctx, *buyer, core.ProposalEvent{
		OfferID:    "off-1",
		ReceiverID: seller.ID,
		Action:     core.ActionAccept,
		Price:      100,
	})
	require.NoError(t, err)

	for _, id := range []string{buyer.ID, seller.ID} {
		agent, gerr := s.GetAgent(ctx, id)
		require.NoError(t, gerr)
		assert.Equal(t, 51.0, agent.Reputation)
		assert.Equal(t, 1, agent.TransactionCount)
	}

	// The feed-driven replay of the same transaction stays a no-op.
	tx, err := s.TransactionByNegotiation(ctx, mintedNegotiation(t, s))
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.NoError(t, reputation.New(s).ApplyDeal(ctx, *tx))
	agent, err := s.GetAgent(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, 51.0, agent.Reputation)
}

// mintedNegotiation returns the id of the single logged negotiation.
func mintedNegotiation(t *testing.T, s *store.InMemoryStore) string {
	t.Helper()
	events, err := s.LatestProposals(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[0].NegotiationID
}

func TestPropose_TerminalMovesReleaseLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.counter(t, f.buyer, f.seller.ID, "", 80)
	f.engine.mu.Lock()
	held := len(f.engine.locks)
	f.engine.mu.Unlock()
	assert.Equal(t, 1, held, "open negotiation keeps its mutex")

	_, err := f.engine.Propose(ctx, *f.seller, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.buyer.ID,
		Action:        core.ActionAccept,
		Price:         80,
	})
	require.NoError(t, err)

	f.engine.mu.Lock()
	held = len(f.engine.locks)
	f.engine.mu.Unlock()
	assert.Zero(t, held, "accept releases the negotiation mutex")

	// Rejection releases too.
	ev = f.counter(t, f.buyer, f.seller.ID, "", 70)
	_, err = f.engine.Propose(ctx, *f.seller, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.buyer.ID,
		Action:        core.ActionReject,
	})
	require.NoError(t, err)

	f.engine.mu.Lock()
	held = len(f.engine.locks)
	f.engine.mu.Unlock()
	assert.Zero(t, held, "reject releases the negotiation mutex")

	// The closed check still refuses late moves on the released id.
	_, err = f.engine.Propose(ctx, *f.buyer, core.ProposalEvent{
		NegotiationID: ev.NegotiationID,
		OfferID:       "off-1",
		ReceiverID:    f.seller.ID,
		Action:        core.ActionCounter,
		Price:         60,
	})
	var violation *core.ProtocolViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, core.ReasonNegotiationClosed, violation.Reason)
}

func TestPropose_UnreadableLogFailsClosedByDefault(t *testing.T) {
	s := store.NewInMemoryStore()
	n := newFakeNotifier()
	engine := New(brokenLog{}, s, s, n, nil, nil, nil)

	buyer := testutil.NewBuyer("ext-buyer-1")
	_, err := engine.Propose(context.Background(), *buyer, core.ProposalEvent{
		ReceiverID: "ext-seller-1",
		Action:     core.ActionCounter,
		Price:      50,
	})
	assert.True(t, core.IsTransient(err))
}

func TestPropose_UnreadableLogFailOpen(t *testing.T) {
	s := store.NewInMemoryStore()
	require.NoError(t, s.PutItem(context.Background(), testutil.NewOffer("off-1", "ext-seller-1", 100)))
	n := newFakeNotifier()
	// Reads fail, appends go through: fail-open lets the move proceed
	// without history.
	engine := New(brokenLog{s}, s, s, n, nil, nil, nil, func(o *Options) { o.FailOpen = true })

	buyer := testutil.NewBuyer("ext-buyer-1")
	ev, err := engine.Propose(context.Background(), *buyer, core.ProposalEvent{
		OfferID:    "off-1",
		ReceiverID: "ext-seller-1",
		Action:     core.ActionCounter,
		Price:      50,
	})
	require.NoError(t, err)
	count, cerr := s.CountProposals(context.Background(), ev.NegotiationID)
	require.NoError(t, cerr)
	assert.Equal(t, 1, count)
}
