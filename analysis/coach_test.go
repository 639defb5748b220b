package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/internal/testutil"
	"github.com/CodeUnit7/Isiziba/model"
	"github.com/CodeUnit7/Isiziba/store"
)

// cannedModel returns a fixed completion regardless of prompt.
type cannedModel struct {
	text string
	err  error
}

func (m *cannedModel) Generate(context.Context, model.Request) (*model.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.Response{Text: m.text}, nil
}

func (m *cannedModel) Info() model.Info { return model.Info{Name: "canned", Provider: "mock"} }

type recordingNotifier struct {
	mu        sync.Mutex
	broadcast []any
	targeted  map[string][]any
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{targeted: make(map[string][]any)}
}

func (n *recordingNotifier) Broadcast(msg any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, msg)
	return 1
}

func (n *recordingNotifier) SendToAgent(agentID string, msg any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targeted[agentID] = append(n.targeted[agentID], msg)
	return true
}

func seedNegotiation(t *testing.T, s *store.InMemoryStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC()
	moves := []core.ProposalEvent{
		testutil.NewProposalBuilder("neg-1").From("ext-buyer-1").To("ext-seller-1").Counter(80).Reasoning("anchoring low").At(base).Build(),
		testutil.NewProposalBuilder("neg-1").From("ext-seller-1").To("ext-buyer-1").Counter(90).Reasoning("meet in the middle").At(base.Add(time.Second)).Build(),
		testutil.NewProposalBuilder("neg-1").From("ext-buyer-1").To("ext-seller-1").Accept(90).At(base.Add(2 * time.Second)).Build(),
	}
	for _, ev := range moves {
		require.NoError(t, s.AppendProposal(ctx, ev))
	}
	require.NoError(t, s.PutTransaction(ctx, testutil.NewTransaction("tx-1", "neg-1", "ext-buyer-1", "ext-seller-1", 90)))
}

func TestParseCritique(t *testing.T) {
	critique, ok := ParseCritique(`{"buyer_feedback":"good","seller_feedback":"slow","strategy_score":8}`)
	assert.True(t, ok)
	assert.Equal(t, 8, critique.StrategyScore)
	assert.Equal(t, "good", critique.BuyerFeedback)
}

func TestParseCritique_CodeFences(t *testing.T) {
	critique, ok := ParseCritique("```json\n{\"buyer_feedback\":\"a\",\"seller_feedback\":\"b\",\"strategy_score\":6}\n```")
	assert.True(t, ok)
	assert.Equal(t, 6, critique.StrategyScore)
}

func TestParseCritique_FallbackOnGarbage(t *testing.T) {
	critique, ok := ParseCritique("I think the buyer did well overall.")
	assert.False(t, ok)
	assert.Equal(t, core.NeutralCritique(), critique)
}

func TestRenderTranscript(t *testing.T) {
	events := []core.ProposalEvent{
		testutil.NewProposalBuilder("neg-1").From("ext-buyer-1").Counter(80).Reasoning("low anchor").Build(),
		testutil.NewProposalBuilder("neg-1").From("ext-seller-1").Counter(90).Reasoning("counter").Build(),
	}
	transcript := RenderTranscript(events)
	assert.Contains(t, transcript, "Buyer: COUNTER $80.00 - reasoning: low anchor")
	assert.Contains(t, transcript, "Seller: COUNTER $90.00 - reasoning: counter")
}

func TestAnalyze_DeliversReport(t *testing.T) {
	s := store.NewInMemoryStore()
	seedNegotiation(t, s)
	n := newRecordingNotifier()
	m := &cannedModel{text: `{"buyer_feedback":"paid fair","seller_feedback":"held firm","strategy_score":7}`}
	coach := New(m, s, s, s, n)

	err := coach.Analyze(context.Background(), "neg-1", []string{"ext-buyer-1", "ext-seller-1"})
	require.NoError(t, err)

	// Persisted with transaction details.
	reports, rerr := s.LatestReports(context.Background(), 10)
	require.NoError(t, rerr)
	require.Len(t, reports, 1)
	assert.Equal(t, 7, reports[0].Feedback.StrategyScore)
	assert.Equal(t, "tx-1", reports[0].TransactionID)
	assert.Equal(t, 90.0, reports[0].Price)

	// Private delivery to both parties plus the public broadcast.
	assert.Len(t, n.targeted["ext-buyer-1"], 1)
	assert.Len(t, n.targeted["ext-seller-1"], 1)
	require.Len(t, n.broadcast, 1)
	msg, ok := n.broadcast[0].(core.FeedbackReportMessage)
	require.True(t, ok)
	assert.Equal(t, "neg-1", msg.NegotiationID)
}

func TestAnalyze_UnparseableCritiqueDegrades(t *testing.T) {
	s := store.NewInMemoryStore()
	seedNegotiation(t, s)
	n := newRecordingNotifier()
	coach := New(&cannedModel{text: "no json here"}, s, s, s, n)

	require.NoError(t, coach.Analyze(context.Background(), "neg-1", []string{"ext-buyer-1", "ext-seller-1"}))
	reports, err := s.LatestReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, core.NeutralCritique(), reports[0].Feedback)
}

func TestAnalyze_ModelFailure(t *testing.T) {
	s := store.NewInMemoryStore()
	seedNegotiation(t, s)
	n := newRecordingNotifier()
	coach := New(&cannedModel{err: errors.New("provider down")}, s, s, s, n)

	err := coach.Analyze(context.Background(), "neg-1", []string{"ext-buyer-1", "ext-seller-1"})
	assert.Error(t, err)
	assert.Empty(t, n.broadcast)
}

func TestAnalyze_NoHistory(t *testing.T) {
	s := store.NewInMemoryStore()
	coach := New(&cannedModel{text: "{}"}, s, s, s, newRecordingNotifier())
	err := coach.Analyze(context.Background(), "neg-missing", nil)
	assert.Error(t, err)
}

func TestSchedule_ErrorBroadcast(t *testing.T) {
	s := store.NewInMemoryStore()
	n := newRecordingNotifier()
	coach := New(&cannedModel{text: "{}"}, s, s, s, n, func(o *Options) {
		o.SettleDelay = 0
	})

	// No history: the task fails and surfaces as an analysis_error.
	coach.Schedule("neg-missing", []string{"ext-buyer-1"})
	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.broadcast) == 1
	}, time.Second, 10*time.Millisecond)

	msg, ok := n.broadcast[0].(core.AnalysisError)
	require.True(t, ok)
	assert.Equal(t, "neg-missing", msg.NegotiationID)
	assert.Equal(t, core.MessageTypeAnalysisError, msg.Type)
}

func TestSchedule_NilModelIsNoOp(t *testing.T) {
	s := store.NewInMemoryStore()
	n := newRecordingNotifier()
	coach := New(nil, s, s, s, n, func(o *Options) { o.SettleDelay = 0 })
	coach.Schedule("neg-1", []string{"a"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, n.broadcast)
}
